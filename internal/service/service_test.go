package service

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"restylinchpin/internal/repository/docstore"
	"restylinchpin/internal/store"
	"restylinchpin/internal/store/sqlite"
)

func newTestRecords(t *testing.T) store.RecordStore {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	s := sqlite.New(db)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	require.NoError(t, s.Init(ctx, store.Users, store.Workspaces))
	require.NoError(t, s.EnsureIndex(ctx, store.Users, "username", true))
	require.NoError(t, s.EnsureIndex(ctx, store.Users, "api_key_hash", false))
	require.NoError(t, s.EnsureIndex(ctx, store.Workspaces, "id", true))
	return s
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestUserService(t *testing.T) UserService {
	t.Helper()
	return NewUserService(docstore.NewUserRepository(newTestRecords(t)), quietLogger())
}

func newTestWorkspaceService(t *testing.T) WorkspaceService {
	t.Helper()
	return NewWorkspaceService(docstore.NewWorkspaceRepository(newTestRecords(t)))
}
