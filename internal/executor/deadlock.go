package executor

import (
	"context"
	"fmt"
)

// DeadlockCircularWait is the only deadlock type detected.
const DeadlockCircularWait = "circular_wait"

// Deadlock is a pair of running tasks that depend on each other.
type Deadlock struct {
	Tasks       []string `json:"tasks"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
}

// DetectDeadlocks checks every pair of running tasks for mutual dependency,
// using the dependency lists held by the store.
func (e *Executor) DetectDeadlocks(ctx context.Context) ([]Deadlock, error) {
	running := e.Running()
	deps := make(map[string][]string, len(running))
	for _, id := range running {
		t, err := e.store.GetTask(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("detect deadlocks: %w", err)
		}
		if t != nil {
			deps[id] = t.Dependencies
		}
	}

	var found []Deadlock
	for i, a := range running {
		for _, b := range running[i+1:] {
			if contains(deps[a], b) && contains(deps[b], a) {
				found = append(found, Deadlock{
					Tasks:       []string{a, b},
					Type:        DeadlockCircularWait,
					Description: fmt.Sprintf("tasks %s and %s wait on each other", a, b),
				})
			}
		}
	}
	if len(found) > 0 {
		e.log.WithField("count", len(found)).Warn("deadlocks detected")
	}
	return found, nil
}

// ResolveDeadlock cancels the lower priority task of the pair, or the
// second task when priorities are equal. It returns the cancelled ID.
func (e *Executor) ResolveDeadlock(ctx context.Context, d Deadlock) (string, error) {
	if len(d.Tasks) < 2 {
		return "", fmt.Errorf("deadlock needs two tasks, got %d", len(d.Tasks))
	}
	a, b := d.Tasks[0], d.Tasks[1]
	pa, err := e.priority(ctx, a)
	if err != nil {
		return "", err
	}
	pb, err := e.priority(ctx, b)
	if err != nil {
		return "", err
	}
	victim := b
	if pa < pb {
		victim = a
	}
	e.log.WithField("task_id", victim).Warnf("resolving deadlock between %s and %s", a, b)
	if err := e.CancelTask(ctx, victim); err != nil {
		return "", err
	}
	return victim, nil
}

func (e *Executor) priority(ctx context.Context, id string) (int, error) {
	e.mu.Lock()
	ts, ok := e.tasks[id]
	e.mu.Unlock()
	if ok {
		return ts.Priority, nil
	}
	t, err := e.store.GetTask(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("load task %s: %w", id, err)
	}
	if t == nil {
		return 0, fmt.Errorf("task %s: %w", id, ErrTaskNotFound)
	}
	return t.Priority, nil
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
