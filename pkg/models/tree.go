package models

// TaskTree is a task together with its direct children.
type TaskTree struct {
	Task     *Task       `json:"task"`
	Children []*TaskTree `json:"children,omitempty"`
}

// IsLeaf reports whether the node has no children.
func (t *TaskTree) IsLeaf() bool {
	return len(t.Children) == 0
}

// Forest is a list of task trees, one per top-level task.
type Forest []*TaskTree

// Walk visits every node of the tree in pre-order. Children are visited in
// their stored order. Returning false from fn stops the walk.
//
// The walk keeps an explicit stack so arbitrarily deep hierarchies are safe.
func (t *TaskTree) Walk(fn func(node *TaskTree, depth int) bool) {
	if t == nil {
		return
	}
	type frame struct {
		node  *TaskTree
		depth int
	}
	stack := []frame{{t, 0}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(top.node, top.depth) {
			return
		}
		// Push in reverse so the first child is visited next.
		for i := len(top.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{top.node.Children[i], top.depth + 1})
		}
	}
}

// Walk visits every tree of the forest in order.
func (f Forest) Walk(fn func(node *TaskTree, depth int) bool) {
	stopped := false
	for _, root := range f {
		root.Walk(func(n *TaskTree, d int) bool {
			if !fn(n, d) {
				stopped = true
				return false
			}
			return true
		})
		if stopped {
			return
		}
	}
}

// Leaves returns the leaf tasks in pre-order.
func (f Forest) Leaves() []*Task {
	var leaves []*Task
	f.Walk(func(n *TaskTree, _ int) bool {
		if n.IsLeaf() {
			leaves = append(leaves, n.Task)
		}
		return true
	})
	return leaves
}

// Tasks returns every task in pre-order.
func (f Forest) Tasks() []*Task {
	var tasks []*Task
	f.Walk(func(n *TaskTree, _ int) bool {
		tasks = append(tasks, n.Task)
		return true
	})
	return tasks
}

// Find returns the node with the given task ID, or nil.
func (f Forest) Find(id string) *TaskTree {
	var found *TaskTree
	f.Walk(func(n *TaskTree, _ int) bool {
		if n.Task.ID == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// BuildForest assembles trees from a flat task list using ParentID links.
// Tasks whose parent is not in the list become roots. Input order is
// preserved among siblings.
func BuildForest(tasks []*Task) Forest {
	nodes := make(map[string]*TaskTree, len(tasks))
	for _, t := range tasks {
		nodes[t.ID] = &TaskTree{Task: t}
	}
	var forest Forest
	for _, t := range tasks {
		node := nodes[t.ID]
		if parent, ok := nodes[t.ParentID]; ok && t.ParentID != "" && t.ParentID != t.ID {
			parent.Children = append(parent.Children, node)
			continue
		}
		forest = append(forest, node)
	}
	return forest
}
