// Package classify maps task text to a fixed taxonomy of work types and
// knows which work types conventionally wait on which.
package classify

import "strings"

// TaskType is a coarse category of work.
type TaskType string

const (
	CodeReview     TaskType = "code_review"
	CodeGeneration TaskType = "code_generation"
	Testing        TaskType = "testing"
	Refactoring    TaskType = "refactoring"
	Documentation  TaskType = "documentation"
	Debugging      TaskType = "debugging"
	Optimization   TaskType = "optimization"
	Integration    TaskType = "integration"
	Deployment     TaskType = "deployment"
	Research       TaskType = "research"
	General        TaskType = "general"
)

// Types lists the taxonomy, excluding General.
var Types = []TaskType{
	CodeReview, CodeGeneration, Testing, Refactoring, Documentation,
	Debugging, Optimization, Integration, Deployment, Research,
}

// keywords are matched as lowercase substrings of "name description".
var keywords = map[TaskType][]string{
	CodeReview:     {"review", "analyze", "examine", "audit"},
	CodeGeneration: {"create", "implement", "write", "build", "develop"},
	Testing:        {"test", "verify", "validate", "check", "ensure"},
	Refactoring:    {"refactor", "restructure", "rewrite", "improve"},
	Documentation:  {"document", "write docs", "explain", "describe"},
	Debugging:      {"debug", "fix", "resolve", "troubleshoot"},
	Optimization:   {"optimize", "improve", "enhance", "performance"},
	Integration:    {"integrate", "connect", "combine", "merge"},
	Deployment:     {"deploy", "release", "publish", "ship"},
	Research:       {"research", "investigate", "explore", "learn"},
}

// tieBreak orders types when keyword scores are equal. Types whose keywords
// are generic verbs ("write", "build", "analyze") come last so that the more
// specific reading of the text wins.
var tieBreak = []TaskType{
	Testing, Debugging, Documentation, Deployment, Integration,
	Optimization, Refactoring, Research, CodeReview, CodeGeneration,
}

// Classifier assigns a TaskType to a task's text.
type Classifier interface {
	Classify(name, description string) TaskType
}

// KeywordClassifier scores each type by the number of its keywords that
// appear in the text and returns the highest-scoring type.
type KeywordClassifier struct{}

// NewKeywordClassifier returns the default keyword classifier.
func NewKeywordClassifier() KeywordClassifier {
	return KeywordClassifier{}
}

// Classify returns General when no keyword matches.
func (KeywordClassifier) Classify(name, description string) TaskType {
	text := strings.ToLower(name + " " + description)

	best := General
	bestScore := 0
	for _, t := range tieBreak {
		score := 0
		for _, kw := range keywords[t] {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = t, score
		}
	}
	return best
}

// Keywords returns a copy of the keywords for t.
func Keywords(t TaskType) []string {
	return append([]string(nil), keywords[t]...)
}
