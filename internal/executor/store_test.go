package executor

import (
	"context"
	"sync"

	"github.com/ShayCichocki/taskgraph/pkg/models"
)

// memStore is an in-memory TaskStore.
type memStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
}

func newMemStore(tasks ...*models.Task) *memStore {
	s := &memStore{tasks: make(map[string]*models.Task)}
	for _, t := range tasks {
		s.tasks[t.ID] = t.Clone()
	}
	return s
}

func (s *memStore) GetTask(_ context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	return t.Clone(), nil
}

func (s *memStore) UpdateProgress(_ context.Context, id string, progress float64, status *models.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil
	}
	t.Progress = progress
	if status != nil {
		t.Status = *status
	}
	return nil
}

func (s *memStore) status(id string) models.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.Status
	}
	return ""
}

func (s *memStore) progress(id string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.Progress
	}
	return -1
}

func leaf(id string, priority int, deps ...string) *models.Task {
	return &models.Task{
		ID:           id,
		Name:         "task " + id,
		Status:       models.TaskStatusPending,
		Priority:     priority,
		Dependencies: deps,
	}
}
