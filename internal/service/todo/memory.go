package todo

import (
	"context"
	"sync"

	"modalhub/internal/models"
)

// MemoryStore keeps todos in process memory in insertion order.
type MemoryStore struct {
	mu     sync.RWMutex
	todos  []models.Todo
	nextID int64
}

// NewMemoryStore builds an empty store, inserting seed titles first.
func NewMemoryStore(seed ...string) *MemoryStore {
	s := &MemoryStore{nextID: 1}
	for _, title := range seed {
		if _, err := normalizeTitle(title); err != nil {
			continue
		}
		s.insertLocked(title)
	}
	return s
}

func (s *MemoryStore) List(ctx context.Context) ([]models.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Todo, len(s.todos))
	copy(out, s.todos)
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*models.Todo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return nil, ErrNotFound
	}
	t := s.todos[idx]
	return &t, nil
}

func (s *MemoryStore) Create(ctx context.Context, title string) (*models.Todo, error) {
	title, err := normalizeTitle(title)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.insertLocked(title)
	return &t, nil
}

func (s *MemoryStore) Update(ctx context.Context, id int64, params UpdateParams) (*models.Todo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return nil, ErrNotFound
	}
	if params.Title != nil {
		s.todos[idx].Title = *params.Title
	}
	if params.Completed != nil {
		s.todos[idx].Completed = *params.Completed
	}
	t := s.todos[idx]
	return &t, nil
}

// Delete removes the todo if present; a missing id is not an error.
func (s *MemoryStore) Delete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.indexLocked(id); idx >= 0 {
		s.todos = append(s.todos[:idx], s.todos[idx+1:]...)
	}
	return nil
}

func (s *MemoryStore) insertLocked(title string) models.Todo {
	t := models.Todo{ID: s.nextID, Title: title}
	s.nextID++
	s.todos = append(s.todos, t)
	return t
}

func (s *MemoryStore) indexLocked(id int64) int {
	for i := range s.todos {
		if s.todos[i].ID == id {
			return i
		}
	}
	return -1
}
