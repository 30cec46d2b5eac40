package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"restylinchpin/internal/domain"
	"restylinchpin/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "nested", "test.db"))
	require.NoError(t, err)
	s := New(db)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Init(ctx, store.Users, store.Workspaces))
	require.NoError(t, s.EnsureIndex(ctx, store.Users, "username", true))
	require.NoError(t, s.EnsureIndex(ctx, store.Workspaces, "username", false))
	return s
}

func TestStore_InsertThenFind(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, store.Users, store.Document{"username": "alice", "admin": false}))
	require.NoError(t, s.Insert(ctx, store.Users, store.Document{"username": "root", "admin": true}))

	doc, err := s.FindOne(ctx, store.Users, store.Filter{"username": "alice"})
	require.NoError(t, err)
	require.Equal(t, "alice", doc.String("username"))
	require.False(t, doc.Bool("admin"))

	admins, err := s.FindAll(ctx, store.Users, store.Filter{"admin": true})
	require.NoError(t, err)
	require.Len(t, admins, 1)
	require.Equal(t, "root", admins[0].String("username"))

	all, err := s.FindAll(ctx, store.Users, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestStore_FindOneMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.FindOne(context.Background(), store.Users, store.Filter{"username": "ghost"})
	require.ErrorIs(t, err, store.ErrNoDocument)
}

func TestStore_UniqueIndexRejectsDuplicates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, store.Users, store.Document{"username": "alice"}))
	err := s.Insert(ctx, store.Users, store.Document{"username": "alice"})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestStore_ConjunctiveFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, doc := range []store.Document{
		{"id": "1_a", "name": "a", "username": "alice"},
		{"id": "2_a", "name": "a", "username": "bob"},
		{"id": "3_b", "name": "b", "username": "alice"},
	} {
		require.NoError(t, s.Insert(ctx, store.Workspaces, doc))
	}

	docs, err := s.FindAll(ctx, store.Workspaces, store.Filter{"name": "a", "username": "alice"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "1_a", docs[0].String("id"))
}

func TestStore_NilFilterMatchesAbsentField(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, store.Workspaces, store.Document{"id": "legacy", "status": "CREATED"}))
	require.NoError(t, s.Insert(ctx, store.Workspaces, store.Document{"id": "owned", "status": "CREATED", "username": "alice"}))

	docs, err := s.FindAll(ctx, store.Workspaces, store.Filter{"username": nil})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, "legacy", docs[0].String("id"))
}

func TestStore_UpdateSetsAndDeletesFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, store.Users, store.Document{"username": "alice", "api_key_hash": "h1", "email": "a@x"}))

	n, err := s.Update(ctx, store.Users, store.Filter{"username": "alice"}, store.Patch{"api_key_hash": nil, "email": "new@x"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	doc, err := s.FindOne(ctx, store.Users, store.Filter{"username": "alice"})
	require.NoError(t, err)
	_, has := doc["api_key_hash"]
	require.False(t, has)
	require.Equal(t, "new@x", doc.String("email"))

	n, err = s.Update(ctx, store.Users, store.Filter{"username": "ghost"}, store.Patch{"email": "x"})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStore_Remove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, store.Workspaces, store.Document{"id": "1", "username": "alice"}))
	require.NoError(t, s.Insert(ctx, store.Workspaces, store.Document{"id": "2", "username": "alice"}))

	n, err := s.Remove(ctx, store.Workspaces, store.Filter{"id": "1"})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	left, err := s.FindAll(ctx, store.Workspaces, nil)
	require.NoError(t, err)
	require.Len(t, left, 1)
	require.Equal(t, "2", left[0].String("id"))
}

func TestStore_RejectsUnsafeFieldNames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.FindAll(ctx, store.Users, store.Filter{"x') OR 1=1 --": "y"})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = s.Update(ctx, store.Users, store.Filter{"username": "a"}, store.Patch{"bad field": 1})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestStore_ConcurrentWritersToDifferentDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	const n = 20
	for i := 0; i < n; i++ {
		require.NoError(t, s.Insert(ctx, store.Workspaces, store.Document{"id": string(rune('a' + i)), "status": "REQUESTED"}))
	}

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := s.Update(ctx, store.Workspaces, store.Filter{"id": id}, store.Patch{"status": "CREATED"}); err != nil {
				errs <- err
			}
		}(string(rune('a' + i)))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	docs, err := s.FindAll(ctx, store.Workspaces, store.Filter{"status": "CREATED"})
	require.NoError(t, err)
	require.Len(t, docs, n)
}

func TestStore_ClosedDatabaseSurfacesStorageError(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.FindAll(context.Background(), store.Users, nil)
	require.True(t, errors.Is(err, domain.ErrStorage), "got %v", err)
}
