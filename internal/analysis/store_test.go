package analysis

import (
	"context"
	"errors"
	"sync"

	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// memStore is an in-memory TaskStore for tests.
type memStore struct {
	mu        sync.Mutex
	order     []string
	tasks     map[string]*models.Task
	removeErr error
	removed   [][2]string
}

func newMemStore(tasks ...*models.Task) *memStore {
	s := &memStore{tasks: make(map[string]*models.Task)}
	for _, t := range tasks {
		if t.SessionID == "" {
			t.SessionID = "s1"
		}
		if t.Status == "" {
			t.Status = models.TaskStatusPending
		}
		s.order = append(s.order, t.ID)
		s.tasks[t.ID] = t
	}
	return s
}

func (s *memStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.Clone(), nil
	}
	return nil, nil
}

func (s *memStore) GetTree(_ context.Context, sessionID, rootID string) (models.Forest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.Task
	for _, id := range s.order {
		if t := s.tasks[id]; t.SessionID == sessionID {
			list = append(list, t.Clone())
		}
	}
	forest := models.BuildForest(list)
	if rootID == "" {
		return forest, nil
	}
	if n := forest.Find(rootID); n != nil {
		return models.Forest{n}, nil
	}
	return nil, nil
}

func (s *memStore) AddDependency(_ context.Context, taskID, dependsOn string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return false, errors.New("task not found")
	}
	if t.DependsOn(dependsOn) || taskID == dependsOn {
		return false, nil
	}
	t.Dependencies = append(t.Dependencies, dependsOn)
	return true, nil
}

func (s *memStore) RemoveDependency(_ context.Context, taskID, dependsOn string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removeErr != nil {
		return false, s.removeErr
	}
	s.removed = append(s.removed, [2]string{taskID, dependsOn})
	t, ok := s.tasks[taskID]
	if !ok {
		return false, nil
	}
	for i, d := range t.Dependencies {
		if d == dependsOn {
			t.Dependencies = append(t.Dependencies[:i:i], t.Dependencies[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) UpdateMetadata(_ context.Context, id, key string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return errors.New("task not found")
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	t.Metadata[key] = value
	return nil
}

func task(id, parent, name string, deps ...string) *models.Task {
	return &models.Task{ID: id, ParentID: parent, Name: name, Dependencies: deps}
}
