package config

import (
	"context"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/model"
)

// MemoryStore is the default KeyStore: a mutex-guarded in-memory table.
// Keys do not survive a process restart. The request pipeline runs on a
// multithreaded HTTP server, so every access takes the lock.
type MemoryStore struct {
	mu       sync.RWMutex
	keys     map[string]*model.APIKey
	order    []string // insertion order of key IDs
	settings map[string]string
}

var _ KeyStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:     make(map[string]*model.APIKey),
		settings: make(map[string]string),
	}
}

// CreateKey inserts a new API key record.
func (s *MemoryStore) CreateKey(_ context.Context, key *model.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *key
	cp.Permissions = append([]string(nil), key.Permissions...)
	s.keys[key.ID] = &cp
	s.order = append(s.order, key.ID)
	return nil
}

// GetKey returns an API key by ID.
func (s *MemoryStore) GetKey(_ context.Context, id string) (*model.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key, ok := s.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *key
	cp.Permissions = append([]string(nil), key.Permissions...)
	return &cp, nil
}

// GetKeyByHash looks up an API key by its SHA-256 hash.
func (s *MemoryStore) GetKeyByHash(_ context.Context, hash string) (*model.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.order {
		if key := s.keys[id]; key != nil && key.KeyHash == hash {
			cp := *key
			cp.Permissions = append([]string(nil), key.Permissions...)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListKeys returns all API keys in insertion order.
func (s *MemoryStore) ListKeys(_ context.Context) ([]model.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]model.APIKey, 0, len(s.order))
	for _, id := range s.order {
		if key := s.keys[id]; key != nil {
			cp := *key
			cp.Permissions = append([]string(nil), key.Permissions...)
			keys = append(keys, cp)
		}
	}
	return keys, nil
}

// UpdateKey replaces the administrative fields of an existing record. The
// usage counters are owned by IncrementKeyUsage: the caller's copy may be
// stale, so they are carried over from the stored record, never written back.
func (s *MemoryStore) UpdateKey(_ context.Context, key *model.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.keys[key.ID]
	if !ok {
		return ErrNotFound
	}
	cp := *key
	cp.Permissions = append([]string(nil), key.Permissions...)
	cp.UsageCount = existing.UsageCount
	cp.LastUsedAt = existing.LastUsedAt
	s.keys[key.ID] = &cp
	return nil
}

// IncrementKeyUsage bumps the usage counter and last-used timestamp under a
// single lock acquisition, so concurrent requests never lose increments.
func (s *MemoryStore) IncrementKeyUsage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	key.UsageCount++
	key.LastUsedAt = &now
	return nil
}

// DeleteKey removes an API key record by ID.
func (s *MemoryStore) DeleteKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.keys[id]; !ok {
		return ErrNotFound
	}
	delete(s.keys, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// GetSetting returns the value stored under key, or ErrNotFound.
func (s *MemoryStore) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.settings[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// SetSetting stores value under key.
func (s *MemoryStore) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings[key] = value
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
