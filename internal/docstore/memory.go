package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

type memoryDoc struct {
	data    []byte
	version int64
}

// MemoryStore is an in-process document store. It is safe for concurrent use
// by multiple sessions; commits are serialized, and version checks make the
// racing commit lose exactly like the SQL backend.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]memoryDoc
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]memoryDoc)}
}

// Len returns the number of committed documents.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

// OpenSession starts a unit of work with optimistic concurrency enabled.
func (m *MemoryStore) OpenSession() *MemorySession {
	return &MemorySession{
		store:        m,
		sessionState: newSessionState(),
		optimistic:   true,
	}
}

// MemorySession is a Session over a MemoryStore.
type MemorySession struct {
	store *MemoryStore
	sessionState
	optimistic bool
}

var _ Session = (*MemorySession)(nil)

// SetOptimisticConcurrency toggles commit-time version checks. Disabling
// them forfeits every uniqueness guarantee; it exists so callers depending
// on the checks can detect a misconfigured session and refuse it.
func (s *MemorySession) SetOptimisticConcurrency(enabled bool) {
	s.optimistic = enabled
}

func (s *MemorySession) OptimisticConcurrency() bool {
	return s.optimistic
}

func (s *MemorySession) Store(_ context.Context, key string, doc any) error {
	return s.sessionState.store(key, doc)
}

func (s *MemorySession) Delete(_ context.Context, key string) error {
	return s.remove(key)
}

func (s *MemorySession) Load(_ context.Context, key string, out any) (bool, error) {
	if key == "" {
		return false, fmt.Errorf("docstore: load requires a key")
	}
	if handled, found, err := s.loadTracked(key, out); handled || err != nil {
		return found, err
	}
	s.store.mu.RLock()
	doc, ok := s.store.docs[key]
	s.store.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(doc.data, out); err != nil {
		return false, fmt.Errorf("docstore: unmarshal %s: %w", key, err)
	}
	s.track(key, out, doc.version, doc.data)
	return true, nil
}

func (s *MemorySession) Query(_ context.Context, prefix string, fn func(key string, data []byte) error) error {
	s.store.mu.RLock()
	keys := make([]string, 0, len(s.store.docs))
	for key := range s.store.docs {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	snapshot := make(map[string][]byte, len(keys))
	for _, key := range keys {
		snapshot[key] = s.store.docs[key].data
	}
	s.store.mu.RUnlock()

	sort.Strings(keys)
	for _, key := range keys {
		if err := fn(key, snapshot[key]); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemorySession) Commit(_ context.Context) error {
	writes, deletes, err := s.changes()
	if err != nil {
		return err
	}
	if len(writes) == 0 && len(deletes) == 0 {
		return nil
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if s.optimistic {
		conflict := &ConflictError{}
		for _, w := range writes {
			existing, exists := s.store.docs[w.key]
			switch {
			case w.expected == 0 && exists:
				conflict.CreateKeys = append(conflict.CreateKeys, w.key)
			case w.expected != 0 && (!exists || existing.version != w.expected):
				conflict.UpdateKeys = append(conflict.UpdateKeys, w.key)
			}
		}
		for _, d := range deletes {
			if d.expected == 0 {
				continue
			}
			if existing, exists := s.store.docs[d.key]; !exists || existing.version != d.expected {
				conflict.UpdateKeys = append(conflict.UpdateKeys, d.key)
			}
		}
		if len(conflict.CreateKeys) > 0 || len(conflict.UpdateKeys) > 0 {
			return conflict
		}
	}

	for _, w := range writes {
		s.store.docs[w.key] = memoryDoc{data: w.data, version: s.store.docs[w.key].version + 1}
	}
	for _, d := range deletes {
		delete(s.store.docs, d.key)
	}
	s.applied(writes)
	return nil
}
