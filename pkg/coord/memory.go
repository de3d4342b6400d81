package coord

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for single-node deployments and
// tests. Semantics match RedisStore, including at-most-once consumes.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
	expiry map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		expiry: make(map[string]time.Time),
	}
}

func (s *MemoryStore) get(k string) ([]byte, bool) {
	v, ok := s.values[k]
	if !ok {
		return nil, false
	}
	if exp, has := s.expiry[k]; has && time.Now().After(exp) {
		delete(s.values, k)
		delete(s.expiry, k)
		return nil, false
	}
	return v, true
}

func (s *MemoryStore) set(k string, v []byte, ttl time.Duration) {
	s.values[k] = v
	if ttl > 0 {
		s.expiry[k] = time.Now().Add(ttl)
	} else {
		delete(s.expiry, k)
	}
}

func (s *MemoryStore) SetStatus(_ context.Context, account string, statusJSON []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key(account, "status"), statusJSON, 0)
	return nil
}

func (s *MemoryStore) Status(_ context.Context, account string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.get(key(account, "status"))
	return v, nil
}

func (s *MemoryStore) ReplaceLogs(_ context.Context, account string, logsJSON []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key(account, "logs"), logsJSON, 0)
	return nil
}

func (s *MemoryStore) Logs(_ context.Context, account string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.get(key(account, "logs"))
	return v, nil
}

func (s *MemoryStore) SetActive(_ context.Context, account, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key(account, "active"), []byte(token), ttl)
	return nil
}

func (s *MemoryStore) ActiveToken(_ context.Context, account string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, _ := s.get(key(account, "active"))
	return string(v), nil
}

func (s *MemoryStore) ClearActive(_ context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key(account, "active"))
	delete(s.expiry, key(account, "active"))
	return nil
}

func (s *MemoryStore) RequestStop(_ context.Context, account string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key(account, "stop"), []byte("1"), 0)
	return nil
}

func (s *MemoryStore) ConsumeStop(_ context.Context, account string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(account, "stop")
	v, ok := s.get(k)
	if !ok {
		return false, nil
	}
	delete(s.values, k)
	delete(s.expiry, k)
	return len(v) > 0, nil
}

func (s *MemoryStore) PushConfig(_ context.Context, account string, configJSON []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key(account, "config"), configJSON, 0)
	return nil
}

func (s *MemoryStore) ConsumeConfig(_ context.Context, account string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(account, "config")
	v, ok := s.get(k)
	if !ok {
		return nil, nil
	}
	delete(s.values, k)
	delete(s.expiry, k)
	return v, nil
}

func (s *MemoryStore) Close() error { return nil }
