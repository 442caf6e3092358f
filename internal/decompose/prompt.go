package decompose

// systemPrompt frames every decomposition request.
const systemPrompt = `You break software tasks into ordered subtasks. You answer with JSON only.`

// decompositionPrompt is filled with the task name and description.
const decompositionPrompt = `Decompose the following task into logical sub-tasks.

Task: %s
Description: %s

Return ONLY a JSON array of subtasks with this exact structure (no other text):
[
  {
    "name": "Subtask name",
    "description": "Detailed description",
    "priority": 5,
    "depends_on": ["name of another subtask in this list"]
  }
]

Guidelines:
- Between 2 and 7 subtasks
- priority is an integer from 0 to 10, higher runs first when otherwise unconstrained
- Only add dependencies when a subtask truly needs another one finished first
- Use an empty array [] for depends_on if there are no dependencies
- Subtask names must be unique`
