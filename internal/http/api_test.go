package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"restylinchpin/internal/artifacts"
	"restylinchpin/internal/auth"
	"restylinchpin/internal/command"
	"restylinchpin/internal/domain"
	"restylinchpin/internal/lifecycle"
	"restylinchpin/internal/repository/docstore"
	"restylinchpin/internal/runner"
	"restylinchpin/internal/service"
	"restylinchpin/internal/store"
	"restylinchpin/internal/store/sqlite"
)

// initTool creates a manifest on init and succeeds on everything else.
type initTool struct{}

func (initTool) Run(_ context.Context, args []string) (*runner.Result, error) {
	if args[len(args)-1] == "init" {
		if err := os.WriteFile(filepath.Join(args[2], "PinFile"), []byte("---"), 0o644); err != nil {
			return nil, err
		}
	}
	return &runner.Result{Args: args}, nil
}

type testServer struct {
	router   *gin.Engine
	users    service.UserService
	adminKey string
	root     string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	records := sqlite.New(db)
	t.Cleanup(func() { _ = records.Close() })
	ctx := context.Background()
	require.NoError(t, records.Init(ctx, store.Users, store.Workspaces))
	require.NoError(t, records.EnsureIndex(ctx, store.Users, "username", true))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	users := service.NewUserService(docstore.NewUserRepository(records), logger)
	workspaces := service.NewWorkspaceService(docstore.NewWorkspaceRepository(records))
	root := t.TempDir()
	coord := lifecycle.NewCoordinator(lifecycle.Config{
		Builder:   command.Builder{Root: root, DefaultCredsPath: "/creds"},
		Artifacts: artifacts.Reader{},
		Logger:    logger,
	}, workspaces, users, initTool{}, nil)

	_, err = users.EnsureAdmin(ctx, "admin", "adminpw", "")
	require.NoError(t, err)
	adminKey, err := users.Authenticate(ctx, "admin", "adminpw")
	require.NoError(t, err)

	router := gin.New()
	NewHandler(users, workspaces, coord, auth.NewGuard(users, ""), nil, logger).RegisterRoutes(router)
	return &testServer{router: router, users: users, adminKey: adminKey, root: root}
}

func (s *testServer) do(t *testing.T, method, path, key string, body any) (int, map[string]any) {
	t.Helper()
	code, raw := s.doRaw(t, method, path, key, body)
	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return code, out
}

func (s *testServer) doRaw(t *testing.T, method, path, key string, body any) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, "/api/v1.0"+path, reader)
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(auth.DefaultHeader, key)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec.Code, rec.Body.Bytes()
}

func (s *testServer) register(t *testing.T, username string) string {
	t.Helper()
	code, body := s.do(t, http.MethodPost, "/users", "", gin.H{"username": username, "password": "pw-" + username})
	require.Equal(t, http.StatusCreated, code, body)
	return body["api_key"].(string)
}

func TestUsers_RegisterLoginAndKeyLifecycle(t *testing.T) {
	s := newTestServer(t)

	key := s.register(t, "alice")

	code, body := s.do(t, http.MethodPost, "/users", "", gin.H{"username": "alice", "password": "x"})
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, StatusAlreadyExists, body["status"])

	code, body = s.do(t, http.MethodPost, "/users/login", "", gin.H{"username": "alice", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, StatusAuthFailed, body["status"])

	code, body = s.do(t, http.MethodPost, "/users/login", "", gin.H{"username": "alice", "password": "pw-alice"})
	require.Equal(t, http.StatusOK, code)
	fresh := body["api_key"].(string)

	code, _ = s.do(t, http.MethodGet, "/users/alice", key, nil)
	require.Equal(t, http.StatusUnauthorized, code, "login replaced the old key")

	code, body = s.do(t, http.MethodGet, "/users/alice", fresh, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "alice", body["username"])

	code, _ = s.do(t, http.MethodDelete, "/users/apikey", fresh, nil)
	require.Equal(t, http.StatusOK, code)
	code, body = s.do(t, http.MethodGet, "/users/alice", fresh, nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, auth.MessageKeyInvalid, body["status"])
}

func TestUsers_AdminOnlyOperations(t *testing.T) {
	s := newTestServer(t)
	aliceKey := s.register(t, "alice")
	s.register(t, "bob")

	code, body := s.do(t, http.MethodGet, "/users", "", nil)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, auth.MessageKeyMissing, body["status"])

	code, _ = s.doRaw(t, http.MethodGet, "/users", aliceKey, nil)
	require.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodGet, "/users/bob", aliceKey, nil)
	require.Equal(t, http.StatusForbidden, code)
	code, _ = s.do(t, http.MethodPost, "/users/alice/promote", aliceKey, nil)
	require.Equal(t, http.StatusForbidden, code)

	code, raw := s.doRaw(t, http.MethodGet, "/users", s.adminKey, nil)
	require.Equal(t, http.StatusOK, code)
	var list []UserResponse
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 3)

	code, _ = s.do(t, http.MethodPost, "/users/alice/promote", s.adminKey, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.doRaw(t, http.MethodGet, "/users", aliceKey, nil)
	require.Equal(t, http.StatusOK, code)

	code, body = s.do(t, http.MethodPatch, "/users/bob", s.adminKey, gin.H{"email": "bob@example.com"})
	require.Equal(t, http.StatusOK, code, body)
	code, body = s.do(t, http.MethodPost, "/users/bob/reset-key", s.adminKey, nil)
	require.Equal(t, http.StatusOK, code)
	require.NotEmpty(t, body["api_key"])

	code, _ = s.do(t, http.MethodDelete, "/users/bob", s.adminKey, nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = s.do(t, http.MethodGet, "/users/bob", s.adminKey, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestWorkspaces_OwnershipScoping(t *testing.T) {
	s := newTestServer(t)
	s.register(t, "alice")
	bobKey := s.register(t, "bob")

	code, body := s.do(t, http.MethodPost, "/users/login", "", gin.H{"username": "alice", "password": "pw-alice"})
	require.Equal(t, http.StatusOK, code, body)
	aliceKey := body["api_key"].(string)

	code, body = s.do(t, http.MethodPost, "/workspaces", aliceKey, gin.H{"name": "demo1"})
	require.Equal(t, http.StatusCreated, code, body)
	require.Equal(t, StatusCreated, body["status"])
	ws := body["workspace"].(map[string]any)
	id := ws["id"].(string)
	require.Equal(t, string(domain.WorkspaceStatusCreated), ws["status"])
	require.DirExists(t, filepath.Join(s.root, id))

	code, raw := s.doRaw(t, http.MethodGet, "/workspaces", bobKey, nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `[]`, string(raw))

	code, body = s.do(t, http.MethodGet, "/workspaces/"+id, bobKey, nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, StatusNotFound, body["status"])

	code, _ = s.do(t, http.MethodPost, "/workspaces/up", bobKey, gin.H{"id": id})
	require.Equal(t, http.StatusNotFound, code)

	code, raw = s.doRaw(t, http.MethodGet, "/workspaces/search?name=demo1", s.adminKey, nil)
	require.Equal(t, http.StatusOK, code)
	var found []WorkspaceResponse
	require.NoError(t, json.Unmarshal(raw, &found))
	require.Len(t, found, 1)
	require.Equal(t, "alice", found[0].Username)

	code, _ = s.do(t, http.MethodDelete, "/workspaces/"+id, bobKey, nil)
	require.Equal(t, http.StatusNotFound, code)
	code, body = s.do(t, http.MethodDelete, "/workspaces/"+id, aliceKey, nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, StatusDeleted, body["status"])
	require.NoDirExists(t, filepath.Join(s.root, id))

	code, raw = s.doRaw(t, http.MethodGet, "/workspaces", aliceKey, nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `[]`, string(raw))
}

func TestWorkspaces_InvalidNameCanBeDeleted(t *testing.T) {
	s := newTestServer(t)
	key := s.register(t, "alice")

	code, body := s.do(t, http.MethodPost, "/workspaces", key, gin.H{"name": "a/b"})
	require.Equal(t, http.StatusBadRequest, code)
	ws := body["workspace"].(map[string]any)
	require.Equal(t, string(domain.WorkspaceStatusFailed), ws["status"])
	id := ws["id"].(string)
	require.NotContains(t, id, "/")

	code, body = s.do(t, http.MethodDelete, "/workspaces/"+id, key, nil)
	require.Equal(t, http.StatusOK, code, body)
	require.Equal(t, StatusDeleted, body["status"])

	code, raw := s.doRaw(t, http.MethodGet, "/workspaces", key, nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `[]`, string(raw))
}

func TestUsers_ReservedUsername(t *testing.T) {
	s := newTestServer(t)

	code, body := s.do(t, http.MethodPost, "/users", "", gin.H{"username": "apikey", "password": "pw"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, StatusInvalidRequest, body["status"])
}

func TestWorkspaces_FailuresCarryStatus(t *testing.T) {
	s := newTestServer(t)
	key := s.register(t, "alice")

	code, body := s.do(t, http.MethodPost, "/workspaces", key, gin.H{"name": "not valid!"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, string(domain.WorkspaceStatusFailed), body["workspace"].(map[string]any)["status"])

	code, body = s.do(t, http.MethodPost, "/workspaces", key, gin.H{"name": "demo"})
	require.Equal(t, http.StatusCreated, code)
	id := body["workspace"].(map[string]any)["id"].(string)

	code, body = s.do(t, http.MethodPost, "/workspaces/up", key, gin.H{"id": id, "pinfile_name": "Absent"})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, StatusPinfileNotFound, body["status"])

	code, _ = s.do(t, http.MethodPost, "/workspaces/up", key, gin.H{"id": id, "provision_type": "magic"})
	require.Equal(t, http.StatusBadRequest, code)

	code, body = s.do(t, http.MethodPost, "/workspaces/fetch", key, gin.H{"name": "empty", "url": "https://example.com/private.git"})
	require.Equal(t, http.StatusUnprocessableEntity, code)
	require.Equal(t, StatusEmptyWorkspace, body["status"])

	code, _ = s.do(t, http.MethodGet, "/workspaces/"+id+"/archive", key, nil)
	require.Equal(t, http.StatusBadRequest, code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: x", domain.ErrValidation), http.StatusBadRequest},
		{domain.ErrAuthenticationFailed, http.StatusUnauthorized},
		{domain.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: workspace", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{fmt.Errorf("%w: workspace", domain.ErrInProgress), http.StatusConflict},
		{domain.ErrManifestNotFound, http.StatusUnprocessableEntity},
		{&runner.ExitError{Result: &runner.Result{Args: []string{"linchpin"}, ExitCode: 2}}, http.StatusBadGateway},
		{fmt.Errorf("query: %w", domain.ErrStorage), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		code, status := statusFor(tc.err)
		assert.Equal(t, tc.code, code, tc.err.Error())
		assert.NotEmpty(t, status)
	}
}
