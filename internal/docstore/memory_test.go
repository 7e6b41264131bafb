package docstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDoc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemorySession_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	sess := ms.OpenSession()
	require.NoError(t, sess.Store(ctx, "docs/1", &testDoc{Name: "a"}))
	require.NoError(t, sess.Commit(ctx))

	other := ms.OpenSession()
	got := &testDoc{}
	found, err := other.Load(ctx, "docs/1", got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", got.Name)

	found, err = other.Load(ctx, "docs/2", &testDoc{})
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemorySession_TracksLoadedDocuments(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	sess := ms.OpenSession()
	require.NoError(t, sess.Store(ctx, "docs/1", &testDoc{Name: "a"}))
	require.NoError(t, sess.Commit(ctx))

	// Mutating a loaded document and committing persists the change without
	// an explicit Store call.
	editor := ms.OpenSession()
	doc := &testDoc{}
	_, err := editor.Load(ctx, "docs/1", doc)
	require.NoError(t, err)
	doc.Count = 7
	require.NoError(t, editor.Commit(ctx))

	reader := ms.OpenSession()
	got := &testDoc{}
	_, err = reader.Load(ctx, "docs/1", got)
	require.NoError(t, err)
	assert.Equal(t, 7, got.Count)
}

func TestMemorySession_CreateConflict(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	first := ms.OpenSession()
	second := ms.OpenSession()
	require.NoError(t, first.Store(ctx, "docs/1", &testDoc{Name: "first"}))
	require.NoError(t, second.Store(ctx, "docs/1", &testDoc{Name: "second"}))

	require.NoError(t, first.Commit(ctx))

	err := second.Commit(ctx)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"docs/1"}, conflict.CreateKeys)
	assert.Empty(t, conflict.UpdateKeys)

	// The winner's document survived.
	got := &testDoc{}
	_, err = ms.OpenSession().Load(ctx, "docs/1", got)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Name)
}

func TestMemorySession_UpdateConflict(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	setup := ms.OpenSession()
	require.NoError(t, setup.Store(ctx, "docs/1", &testDoc{Name: "v1"}))
	require.NoError(t, setup.Commit(ctx))

	a := ms.OpenSession()
	b := ms.OpenSession()
	docA, docB := &testDoc{}, &testDoc{}
	_, err := a.Load(ctx, "docs/1", docA)
	require.NoError(t, err)
	_, err = b.Load(ctx, "docs/1", docB)
	require.NoError(t, err)

	docA.Name = "from a"
	require.NoError(t, a.Commit(ctx))

	docB.Name = "from b"
	err = b.Commit(ctx)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"docs/1"}, conflict.UpdateKeys)
}

func TestMemorySession_CommitIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	setup := ms.OpenSession()
	require.NoError(t, setup.Store(ctx, "docs/taken", &testDoc{Name: "x"}))
	require.NoError(t, setup.Commit(ctx))

	sess := ms.OpenSession()
	require.NoError(t, sess.Store(ctx, "docs/new", &testDoc{Name: "new"}))
	require.NoError(t, sess.Store(ctx, "docs/taken", &testDoc{Name: "steal"}))

	err := sess.Commit(ctx)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)

	// The non-conflicting write must not have been applied.
	found, err := ms.OpenSession().Load(ctx, "docs/new", &testDoc{})
	require.NoError(t, err)
	assert.False(t, found, "conflicted batch must apply nothing")
}

func TestMemorySession_DeleteFreesKey(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	setup := ms.OpenSession()
	require.NoError(t, setup.Store(ctx, "docs/1", &testDoc{Name: "x"}))
	require.NoError(t, setup.Commit(ctx))

	del := ms.OpenSession()
	require.NoError(t, del.Delete(ctx, "docs/1"))
	require.NoError(t, del.Commit(ctx))

	// A fresh session can claim the key again.
	again := ms.OpenSession()
	require.NoError(t, again.Store(ctx, "docs/1", &testDoc{Name: "y"}))
	require.NoError(t, again.Commit(ctx))
	assert.Equal(t, 1, ms.Len())
}

func TestMemorySession_DeleteOfLoadedDocChecksVersion(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	setup := ms.OpenSession()
	require.NoError(t, setup.Store(ctx, "docs/1", &testDoc{Name: "x"}))
	require.NoError(t, setup.Commit(ctx))

	deleter := ms.OpenSession()
	doc := &testDoc{}
	_, err := deleter.Load(ctx, "docs/1", doc)
	require.NoError(t, err)
	require.NoError(t, deleter.Delete(ctx, "docs/1"))

	// Concurrent change bumps the version before the delete commits.
	racer := ms.OpenSession()
	raced := &testDoc{}
	_, err = racer.Load(ctx, "docs/1", raced)
	require.NoError(t, err)
	raced.Count = 1
	require.NoError(t, racer.Commit(ctx))

	err = deleter.Commit(ctx)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"docs/1"}, conflict.UpdateKeys)
}

func TestMemorySession_QueryByPrefix(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	setup := ms.OpenSession()
	require.NoError(t, setup.Store(ctx, "users/2", &testDoc{Name: "b"}))
	require.NoError(t, setup.Store(ctx, "users/1", &testDoc{Name: "a"}))
	require.NoError(t, setup.Store(ctx, "roles/1", &testDoc{Name: "r"}))
	require.NoError(t, setup.Commit(ctx))

	var keys []string
	err := ms.OpenSession().Query(ctx, "users/", func(key string, data []byte) error {
		keys = append(keys, key)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"users/1", "users/2"}, keys, "prefix-filtered, key order")
}

func TestMemorySession_SessionStaysUsableAfterCommit(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	sess := ms.OpenSession()
	doc := &testDoc{Name: "a"}
	require.NoError(t, sess.Store(ctx, "docs/1", doc))
	require.NoError(t, sess.Commit(ctx))

	doc.Count = 3
	require.NoError(t, sess.Commit(ctx))

	got := &testDoc{}
	_, err := ms.OpenSession().Load(ctx, "docs/1", got)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Count)
}

func TestMemorySession_LoadReturnsStagedDocument(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	sess := ms.OpenSession()
	require.NoError(t, sess.Store(ctx, "docs/1", &testDoc{Name: "staged"}))

	// The staged create is visible to the session before commit.
	got := &testDoc{}
	found, err := sess.Load(ctx, "docs/1", got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "staged", got.Name)

	// Mutating the loaded instance keeps flowing into the commit.
	got.Count = 2
	require.NoError(t, sess.Commit(ctx))

	reader := &testDoc{}
	_, err = ms.OpenSession().Load(ctx, "docs/1", reader)
	require.NoError(t, err)
	assert.Equal(t, testDoc{Name: "staged", Count: 2}, *reader)
}

func TestMemorySession_ReloadKeepsStagedMutations(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	setup := ms.OpenSession()
	require.NoError(t, setup.Store(ctx, "docs/1", &testDoc{Name: "a"}))
	require.NoError(t, setup.Commit(ctx))

	sess := ms.OpenSession()
	doc := &testDoc{}
	_, err := sess.Load(ctx, "docs/1", doc)
	require.NoError(t, err)
	doc.Count = 5

	// A second load of the same key must see the staged mutation, not the
	// committed state, and must not discard it.
	again := &testDoc{}
	found, err := sess.Load(ctx, "docs/1", again)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 5, again.Count)

	require.NoError(t, sess.Commit(ctx))

	reader := &testDoc{}
	_, err = ms.OpenSession().Load(ctx, "docs/1", reader)
	require.NoError(t, err)
	assert.Equal(t, 5, reader.Count)
}

func TestMemorySession_LoadAfterDeleteReadsAbsent(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	setup := ms.OpenSession()
	require.NoError(t, setup.Store(ctx, "docs/1", &testDoc{Name: "a"}))
	require.NoError(t, setup.Commit(ctx))

	sess := ms.OpenSession()
	require.NoError(t, sess.Delete(ctx, "docs/1"))
	found, err := sess.Load(ctx, "docs/1", &testDoc{})
	require.NoError(t, err)
	assert.False(t, found, "a pending delete must read as absent")
}

func TestMemorySession_StoreAfterDeleteKeepsVersion(t *testing.T) {
	ctx := context.Background()
	ms := NewMemoryStore()

	setup := ms.OpenSession()
	require.NoError(t, setup.Store(ctx, "docs/1", &testDoc{Name: "old"}))
	require.NoError(t, setup.Commit(ctx))

	// Release and re-claim the key in one unit of work: the write must go
	// out as a versioned update of the committed document, not as a create
	// that would collide with it.
	sess := ms.OpenSession()
	doc := &testDoc{}
	_, err := sess.Load(ctx, "docs/1", doc)
	require.NoError(t, err)
	require.NoError(t, sess.Delete(ctx, "docs/1"))
	require.NoError(t, sess.Store(ctx, "docs/1", &testDoc{Name: "new"}))
	require.NoError(t, sess.Commit(ctx))

	got := &testDoc{}
	_, err = ms.OpenSession().Load(ctx, "docs/1", got)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Name)
	assert.Equal(t, 1, ms.Len())
}

func TestMemorySession_OptimisticConcurrencyFlag(t *testing.T) {
	sess := NewMemoryStore().OpenSession()
	assert.True(t, sess.OptimisticConcurrency())
	sess.SetOptimisticConcurrency(false)
	assert.False(t, sess.OptimisticConcurrency())
}
