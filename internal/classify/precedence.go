package classify

// Precedence is an ordered pair read as "Dependent depends on Prerequisite".
type Precedence struct {
	Dependent    TaskType
	Prerequisite TaskType
}

// precedence is the fixed table of conventional ordering between work types.
var precedence = []Precedence{
	{Testing, CodeGeneration},
	{Testing, Refactoring},
	{Documentation, CodeGeneration},
	{Debugging, Testing},
	{Integration, CodeGeneration},
	{Integration, Testing},
	{Deployment, Testing},
	{Deployment, Documentation},
	{Refactoring, Testing},
	{Optimization, Testing},
	{CodeReview, CodeGeneration},
	{Documentation, Debugging},
}

var precedenceSet = func() map[Precedence]bool {
	m := make(map[Precedence]bool, len(precedence))
	for _, p := range precedence {
		m[p] = true
	}
	return m
}()

// DependsOn reports whether work of type a conventionally waits on work of type b.
func DependsOn(a, b TaskType) bool {
	return precedenceSet[Precedence{a, b}]
}

// PrecedenceTable returns a copy of the precedence table in its fixed order.
func PrecedenceTable() []Precedence {
	return append([]Precedence(nil), precedence...)
}
