package mockagent

import (
	"fmt"
	"sync"

	"github.com/igorsilveira/parley/pkg/a2a"
)

type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*a2a.Task
	order []string
}

func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]*a2a.Task)}
}

func (s *TaskStore) Create(task *a2a.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		s.order = append(s.order, task.ID)
	}
	s.tasks[task.ID] = task
}

// Get returns a copy of the task so callers can encode it without holding the lock.
func (s *TaskStore) Get(id string) (*a2a.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %q not found", id)
	}
	return cloneTask(t), nil
}

func (s *TaskStore) Update(id string, state a2a.TaskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	t.Status.State = state
	return nil
}

func (s *TaskStore) AppendMessage(id string, msg a2a.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	t.History = append(t.History, msg)
	return nil
}

func (s *TaskStore) AddArtifacts(id string, arts ...a2a.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}
	t.Artifacts = append(t.Artifacts, arts...)
	return nil
}

// List returns tasks in creation order.
func (s *TaskStore) List() []*a2a.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*a2a.Task, 0, len(s.order))
	for _, id := range s.order {
		result = append(result, cloneTask(s.tasks[id]))
	}
	return result
}

func cloneTask(t *a2a.Task) *a2a.Task {
	c := *t
	c.History = append([]a2a.Message(nil), t.History...)
	c.Artifacts = append([]a2a.Artifact(nil), t.Artifacts...)
	return &c
}
