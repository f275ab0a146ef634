package checklist

import "sync"

// Store exposes checklist retrieval and completion toggling for HTTP handlers.
type Store interface {
	List() []Item
	FindByID(id string) (Item, bool)
	Toggle(id string) (Item, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Item
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied items.
func NewMemoryStore(items []Item) *MemoryStore {
	return &MemoryStore{items: append([]Item(nil), items...)}
}

// List returns the checklist in display order.
func (s *MemoryStore) List() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Item(nil), s.items...)
}

// FindByID looks up an item by identifier.
func (s *MemoryStore) FindByID(id string) (Item, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

// Toggle flips the completion flag and returns the updated item.
func (s *MemoryStore) Toggle(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			s.items[i].Completed = !s.items[i].Completed
			return s.items[i], true
		}
	}
	return Item{}, false
}
