package models

// NewTestStore creates a new in-memory store for testing
func NewTestStore() *InMemoryStore {
	return NewInMemoryStore()
}
