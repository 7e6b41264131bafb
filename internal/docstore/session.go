// Package docstore provides the document-store session abstraction the
// identity stores are built on: a unit of work that stages upserts and
// deletes and applies them in one atomic, all-or-nothing commit, with
// optimistic-concurrency conflict detection on every staged key.
//
// Two backends are provided: an in-memory store and a SQL-backed store
// (PostgreSQL or embedded sqlite) keeping documents in a single table.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Session is one unit of work bound to one caller. Loaded documents are
// tracked: mutating a loaded document and committing persists the change.
// Sessions are not safe for concurrent use; open one session per task.
type Session interface {
	// Store stages an upsert of doc under key. The document is marshaled at
	// commit time, so later in-memory mutation of doc is included. Storing a
	// key that was not previously loaded in this session claims the key: the
	// commit fails with a conflict if the key already exists.
	Store(ctx context.Context, key string, doc any) error

	// Delete stages removal of the document at key.
	Delete(ctx context.Context, key string) error

	// Load reads the document at key into out, which must be a pointer.
	// It returns false when the document does not exist. The session is
	// consulted first: a document tracked or staged in this session is
	// returned with its staged state, and a key with a pending delete reads
	// as absent. Only untracked keys hit the committed store, after which
	// the document becomes tracked.
	Load(ctx context.Context, key string, out any) (bool, error)

	// Query invokes fn for every committed document whose key starts with
	// prefix, in key order. Returning an error from fn stops the scan.
	Query(ctx context.Context, prefix string, fn func(key string, data []byte) error) error

	// Commit applies all staged changes atomically. On any version conflict
	// it applies nothing and returns a *ConflictError naming the losing keys.
	Commit(ctx context.Context) error

	// OptimisticConcurrency reports whether commits perform version checks.
	OptimisticConcurrency() bool
}

// ConflictError is returned by Commit when the batch loses one or more
// version checks. The whole batch is discarded.
type ConflictError struct {
	// CreateKeys are keys this session tried to create that already existed:
	// a uniqueness claim lost.
	CreateKeys []string
	// UpdateKeys are previously loaded keys whose stored version no longer
	// matched: a concurrent session changed or removed them.
	UpdateKeys []string
}

func (e *ConflictError) Error() string {
	keys := append(append([]string{}, e.CreateKeys...), e.UpdateKeys...)
	return fmt.Sprintf("commit conflict on %s", strings.Join(keys, ", "))
}

// trackedDoc is a document known to the session, either loaded from the
// store or staged for creation.
type trackedDoc struct {
	doc      any
	version  int64  // stored version; 0 means the key must not exist yet
	baseline []byte // marshaled state as of load/last commit; nil for new docs
}

// write is a marshaled pending upsert. expected 0 means create-only.
type write struct {
	key      string
	data     []byte
	expected int64
}

// deletion is a pending removal. expected 0 means unconditional.
type deletion struct {
	key      string
	expected int64
}

// sessionState implements the tracking and change-set logic shared by the
// memory and SQL sessions.
type sessionState struct {
	tracked map[string]*trackedDoc
	deletes map[string]int64
}

func newSessionState() sessionState {
	return sessionState{
		tracked: make(map[string]*trackedDoc),
		deletes: make(map[string]int64),
	}
}

func (s *sessionState) store(key string, doc any) error {
	if key == "" || doc == nil {
		return fmt.Errorf("docstore: store requires a key and a document")
	}
	if t, ok := s.tracked[key]; ok {
		t.doc = doc
		return nil
	}
	t := &trackedDoc{doc: doc}
	if expected, ok := s.deletes[key]; ok {
		// Re-claiming a key released earlier in this session. The committed
		// document is still there at the version the delete carried, so the
		// write must be a versioned update, not a create.
		delete(s.deletes, key)
		t.version = expected
	}
	s.tracked[key] = t
	return nil
}

func (s *sessionState) remove(key string) error {
	if key == "" {
		return fmt.Errorf("docstore: delete requires a key")
	}
	if t, ok := s.tracked[key]; ok {
		delete(s.tracked, key)
		s.deletes[key] = t.version
		return nil
	}
	// Never clobber the version an earlier, tracked delete carried.
	if _, ok := s.deletes[key]; !ok {
		s.deletes[key] = 0
	}
	return nil
}

func (s *sessionState) track(key string, doc any, version int64, data []byte) {
	s.tracked[key] = &trackedDoc{doc: doc, version: version, baseline: data}
}

// loadTracked serves a Load from the session itself. A pending delete reads
// as absent; a tracked document (loaded earlier or staged for creation) has
// its current staged state copied into out, and out becomes the tracked
// instance so further mutations keep flowing into the next commit. The first
// result reports whether the session answered the load at all.
func (s *sessionState) loadTracked(key string, out any) (handled, found bool, err error) {
	if _, ok := s.deletes[key]; ok {
		return true, false, nil
	}
	t, ok := s.tracked[key]
	if !ok {
		return false, false, nil
	}
	data, err := json.Marshal(t.doc)
	if err != nil {
		return true, false, fmt.Errorf("docstore: marshal %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return true, false, fmt.Errorf("docstore: unmarshal %s: %w", key, err)
	}
	t.doc = out
	return true, true, nil
}

// changes marshals every tracked document and returns the dirty ones plus
// all pending deletions, both in deterministic key order.
func (s *sessionState) changes() ([]write, []deletion, error) {
	var writes []write
	for key, t := range s.tracked {
		data, err := json.Marshal(t.doc)
		if err != nil {
			return nil, nil, fmt.Errorf("docstore: marshal %s: %w", key, err)
		}
		if t.baseline != nil && bytes.Equal(data, t.baseline) {
			continue
		}
		writes = append(writes, write{key: key, data: data, expected: t.version})
	}
	sort.Slice(writes, func(i, j int) bool { return writes[i].key < writes[j].key })

	var deletes []deletion
	for key, expected := range s.deletes {
		deletes = append(deletes, deletion{key: key, expected: expected})
	}
	sort.Slice(deletes, func(i, j int) bool { return deletes[i].key < deletes[j].key })
	return writes, deletes, nil
}

// applied advances tracked state after a successful commit so the session
// stays usable for further mutations of the same documents.
func (s *sessionState) applied(writes []write) {
	for _, w := range writes {
		if t, ok := s.tracked[w.key]; ok {
			t.version++
			t.baseline = w.data
		}
	}
	s.deletes = make(map[string]int64)
}
