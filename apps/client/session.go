package client

import "sync"

// SessionKey is where the pending transaction id survives the gateway redirect.
const SessionKey = "admission.tran_id"

// SessionStore is a per-tab key/value store, like a browser's session storage.
type SessionStore interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
}

type MemorySession struct {
	mu     sync.Mutex
	values map[string]string
}

var _ SessionStore = (*MemorySession)(nil)

func NewMemorySession() *MemorySession {
	return &MemorySession{values: make(map[string]string)}
}

func (s *MemorySession) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

func (s *MemorySession) Set(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
}

func (s *MemorySession) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}
