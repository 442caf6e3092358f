package classify

import (
	"fmt"
	"strings"
)

// DefaultComplexityThreshold is the score at or above which a task is worth splitting.
const DefaultComplexityThreshold = 3.0

var templates = map[TaskType][]string{
	CodeReview: {
		"Review code structure and architecture",
		"Check for security vulnerabilities",
		"Analyze code complexity and performance",
		"Verify adherence to coding standards",
		"Document findings and recommendations",
	},
	CodeGeneration: {
		"Design solution architecture",
		"Create core implementation",
		"Implement error handling",
		"Add unit tests",
		"Update documentation",
	},
	Testing: {
		"Design test cases",
		"Implement unit tests",
		"Run integration tests",
		"Verify test coverage",
		"Document test results",
	},
	Refactoring: {
		"Analyze current code structure",
		"Identify refactoring opportunities",
		"Perform incremental refactoring",
		"Verify functionality after changes",
		"Update affected tests",
	},
	Documentation: {
		"Gather requirements and context",
		"Draft documentation structure",
		"Write detailed content",
		"Review and validate accuracy",
		"Format and publish documentation",
	},
	Debugging: {
		"Reproduce the issue",
		"Analyze root cause",
		"Identify fix strategy",
		"Implement fix",
		"Verify resolution",
	},
	Optimization: {
		"Profile current performance",
		"Identify bottlenecks",
		"Implement optimizations",
		"Measure performance improvement",
		"Verify correctness",
	},
	Integration: {
		"Analyze integration requirements",
		"Set up integration environment",
		"Implement data transformation",
		"Test end-to-end flow",
		"Monitor and validate",
	},
	Deployment: {
		"Prepare deployment package",
		"Configure deployment environment",
		"Execute deployment",
		"Verify deployment success",
		"Update monitoring",
	},
	Research: {
		"Define research scope",
		"Gather relevant information",
		"Analyze findings",
		"Synthesize recommendations",
		"Document results",
	},
	General: {
		"Clarify requirements",
		"Plan the approach",
		"Carry out the work",
		"Review the outcome",
		"Wrap up and report",
	},
}

var typeWeight = map[TaskType]float64{
	CodeReview:     1.5,
	CodeGeneration: 2.0,
	Testing:        1.0,
	Refactoring:    1.8,
	Documentation:  0.8,
	Debugging:      1.2,
	Optimization:   1.5,
	Integration:    2.0,
	Deployment:     1.5,
	Research:       1.0,
	General:        1.0,
}

// Template returns the subtask step names for a type.
func Template(t TaskType) []string {
	steps, ok := templates[t]
	if !ok {
		steps = templates[General]
	}
	return append([]string(nil), steps...)
}

// Complexity estimates how much work a task describes. Longer text, staged
// wording and words like "comprehensive" raise the score, and each type adds
// a fixed weight.
func Complexity(name, description string, t TaskType) float64 {
	desc := strings.ToLower(description)

	score := float64(len(description))/200.0 + float64(len(name))/50.0
	for _, kw := range []string{"step", "phase", "stage", "level", "layer"} {
		score += float64(strings.Count(desc, kw)) * 0.5
	}
	for _, kw := range []string{"comprehensive", "detailed", "complex", "entire", "full"} {
		if strings.Contains(desc, kw) {
			score += 1.0
		}
	}
	if w, ok := typeWeight[t]; ok {
		score += w
	} else {
		score += 1.0
	}
	return score
}

// SubtaskPlan describes one subtask to create from a template.
type SubtaskPlan struct {
	Name        string
	Description string
	Priority    int
	// After holds indexes of earlier plans this step depends on.
	After []int
}

// Plan expands the template for t into concrete subtasks of the named parent.
// Each step depends on the one before it, and earlier steps get higher priority.
func Plan(parentName string, t TaskType) []SubtaskPlan {
	steps := Template(t)
	plans := make([]SubtaskPlan, len(steps))
	for i, step := range steps {
		priority := 5 - i
		if priority < 0 {
			priority = 0
		}
		plans[i] = SubtaskPlan{
			Name:        fmt.Sprintf("%s (%s)", step, parentName),
			Description: fmt.Sprintf("Part of %s: %s", parentName, strings.ToLower(step)),
			Priority:    priority,
		}
		if i > 0 {
			plans[i].After = []int{i - 1}
		}
	}
	return plans
}
