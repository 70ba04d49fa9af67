package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/manageusers/pkg/config"
	"github.com/memtensor/manageusers/pkg/errors"
	"github.com/memtensor/manageusers/pkg/logger"
	"github.com/memtensor/manageusers/pkg/metrics"
	"github.com/memtensor/manageusers/pkg/types"
	"github.com/memtensor/manageusers/pkg/users"
)

const testSecret = "test-secret"

// MockAccountService is a mock implementation of AccountService for testing
type MockAccountService struct {
	mock.Mock
}

func (m *MockAccountService) Reconcile(ctx context.Context, id users.Identity, desired users.DesiredState) (*users.Outcome, error) {
	args := m.Called(ctx, id, desired)
	outcome, _ := args.Get(0).(*users.Outcome)
	return outcome, args.Error(1)
}

func (m *MockAccountService) GetUserByName(ctx context.Context, username string) (*users.User, error) {
	args := m.Called(ctx, username)
	user, _ := args.Get(0).(*users.User)
	return user, args.Error(1)
}

func (m *MockAccountService) ListUsers(ctx context.Context, limit, offset int) ([]users.User, int64, error) {
	args := m.Called(ctx, limit, offset)
	list, _ := args.Get(0).([]users.User)
	return list, args.Get(1).(int64), args.Error(2)
}

func (m *MockAccountService) CreateGroup(ctx context.Context, name, description string) (*users.Group, error) {
	args := m.Called(ctx, name, description)
	group, _ := args.Get(0).(*users.Group)
	return group, args.Error(1)
}

func (m *MockAccountService) ListGroups(ctx context.Context) ([]users.Group, error) {
	args := m.Called(ctx)
	groups, _ := args.Get(0).([]users.Group)
	return groups, args.Error(1)
}

func (m *MockAccountService) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Host:      "127.0.0.1",
		Port:      0,
		JWTSecret: testSecret,
		TokenTTL:  time.Hour,
	}
}

func setupTestServer(t *testing.T, service AccountService, opts ...ServerOption) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	server, err := NewServer(service, testAPIConfig(), logger.NewTestLogger(), opts...)
	require.NoError(t, err)
	return server
}

func bearer(t *testing.T, operator string, scopes ...string) string {
	t.Helper()
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	require.NoError(t, err)
	token, _, err := issuer.Issue(operator, scopes)
	require.NoError(t, err)
	return "Bearer " + token
}

func doRequest(server *Server, method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestNewServer_RequiresSecret(t *testing.T) {
	cfg := testAPIConfig()
	cfg.JWTSecret = ""

	_, err := NewServer(&MockAccountService{}, cfg, logger.NewTestLogger())
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
}

func TestHealthCheck(t *testing.T) {
	t.Run("Healthy", func(t *testing.T) {
		service := &MockAccountService{}
		service.On("HealthCheck", mock.Anything).Return(nil)
		server := setupTestServer(t, service, WithVersion("1.2.3"))

		w := doRequest(server, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var health HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
		assert.Equal(t, "healthy", health.Status)
		assert.Equal(t, "1.2.3", health.Version)
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("Unhealthy", func(t *testing.T) {
		service := &MockAccountService{}
		service.On("HealthCheck", mock.Anything).Return(assert.AnError)
		server := setupTestServer(t, service)

		w := doRequest(server, http.MethodGet, "/health", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestAuthentication(t *testing.T) {
	service := &MockAccountService{}
	service.On("ListGroups", mock.Anything).Return([]users.Group{{Name: "editors"}}, nil)
	server := setupTestServer(t, service)

	t.Run("NoToken", func(t *testing.T) {
		w := doRequest(server, http.MethodGet, "/api/v1/groups", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, string(errors.ErrCodeUnauthorized), decodeError(t, w).Error)
	})

	t.Run("GarbageToken", func(t *testing.T) {
		w := doRequest(server, http.MethodGet, "/api/v1/groups", "Bearer nope", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("ReadToken", func(t *testing.T) {
		w := doRequest(server, http.MethodGet, "/api/v1/groups", bearer(t, "ops", ScopeRead), nil)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("WriteRequiresScope", func(t *testing.T) {
		w := doRequest(server, http.MethodPost, "/api/v1/groups", bearer(t, "ops", ScopeRead), GroupCreate{Name: "x"})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, string(errors.ErrCodeForbidden), decodeError(t, w).Error)
		service.AssertNotCalled(t, "CreateGroup", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestReconcileAccount(t *testing.T) {
	auth := func(t *testing.T) string { return bearer(t, "ops", ScopeWrite) }

	t.Run("Created", func(t *testing.T) {
		service := &MockAccountService{}
		service.On("Reconcile",
			mock.MatchedBy(func(ctx context.Context) bool {
				rc := types.GetRequestContext(ctx)
				return rc.Operator == "ops" && rc.RequestID == "req-1"
			}),
			users.Identity{Username: "alice", Email: "alice@example.com"},
			users.DesiredState{IsStaff: true, GroupNames: []string{"editors"}},
		).Return(&users.Outcome{Username: "alice", Action: types.ActionCreated}, nil).Once()
		server := setupTestServer(t, service)

		body := map[string]interface{}{
			"username": "alice",
			"email":    "alice@example.com",
			"staff":    true,
			"groups":   []string{"editors"},
		}
		req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/reconcile", strings.NewReader(mustJSON(t, body)))
		req.Header.Set("Authorization", auth(t))
		req.Header.Set("X-Request-ID", "req-1")
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var resp OutcomeResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, types.ActionCreated, resp.Data.Action)
		service.AssertExpectations(t)
	})

	t.Run("ExplicitEmptyHash", func(t *testing.T) {
		service := &MockAccountService{}
		service.On("Reconcile", mock.Anything, mock.Anything, users.DesiredState{InitialPasswordHashSet: true}).
			Return(nil, errors.NewInvalidPasswordHashError("alice", nil)).Once()
		server := setupTestServer(t, service)

		w := doRequest(server, http.MethodPost, "/api/v1/accounts/reconcile", auth(t), map[string]interface{}{
			"username":              "alice",
			"email":                 "alice@example.com",
			"initial_password_hash": "",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		service.AssertExpectations(t)
	})

	t.Run("InvalidRecord", func(t *testing.T) {
		service := &MockAccountService{}
		server := setupTestServer(t, service)

		w := doRequest(server, http.MethodPost, "/api/v1/accounts/reconcile", auth(t), map[string]interface{}{
			"username": "alice",
			"email":    "not-an-email",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		service.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("MalformedBody", func(t *testing.T) {
		server := setupTestServer(t, &MockAccountService{})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/accounts/reconcile", strings.NewReader("{"))
		req.Header.Set("Authorization", auth(t))
		w := httptest.NewRecorder()
		server.Handler().ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, string(errors.ErrCodeInvalidInput), decodeError(t, w).Error)
	})
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"email mismatch", errors.NewEmailMismatchError("alice"), http.StatusConflict},
		{"already exists", errors.NewAlreadyExistsError("group"), http.StatusConflict},
		{"invalid hash", errors.NewInvalidPasswordHashError("alice", nil), http.StatusUnprocessableEntity},
		{"missing field", errors.NewMissingFieldError("email"), http.StatusBadRequest},
		{"validation", errors.NewValidationError("bad"), http.StatusBadRequest},
		{"not found", errors.NewNotFoundError("user"), http.StatusNotFound},
		{"forbidden", errors.NewForbiddenError("no"), http.StatusForbidden},
		{"profiles", errors.NewProfileUnavailableError(), http.StatusServiceUnavailable},
		{"transaction", errors.NewTransactionFailedError(assert.AnError), http.StatusInternalServerError},
		{"plain", assert.AnError, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestAccounts(t *testing.T) {
	auth := bearer(t, "ops", ScopeRead)

	t.Run("GetNotFound", func(t *testing.T) {
		service := &MockAccountService{}
		service.On("GetUserByName", mock.Anything, "ghost").Return(nil, errors.NewNotFoundError("user ghost"))
		server := setupTestServer(t, service)

		w := doRequest(server, http.MethodGet, "/api/v1/accounts/ghost", auth, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Get", func(t *testing.T) {
		service := &MockAccountService{}
		service.On("GetUserByName", mock.Anything, "alice").Return(&users.User{
			UserName: "alice",
			Email:    "alice@example.com",
			Password: "!unusable",
			Groups:   []users.Group{{Name: "b"}, {Name: "a"}},
		}, nil)
		server := setupTestServer(t, service)

		w := doRequest(server, http.MethodGet, "/api/v1/accounts/alice", auth, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp AccountResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "alice", resp.Data.UserName)
		assert.False(t, resp.Data.HasPassword)
		assert.False(t, resp.Data.HasProfile)
		assert.Equal(t, []string{"a", "b"}, resp.Data.Groups)
		assert.NotContains(t, w.Body.String(), "!unusable")
	})

	t.Run("ListPaging", func(t *testing.T) {
		service := &MockAccountService{}
		service.On("ListUsers", mock.Anything, 2, 4).Return([]users.User{{UserName: "e"}, {UserName: "f"}}, int64(9), nil)
		server := setupTestServer(t, service)

		w := doRequest(server, http.MethodGet, "/api/v1/accounts?limit=2&offset=4", auth, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp AccountListResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, int64(9), resp.Data.Total)
		assert.Len(t, resp.Data.Accounts, 2)
	})

	t.Run("ListBadLimit", func(t *testing.T) {
		server := setupTestServer(t, &MockAccountService{})

		for _, q := range []string{"limit=abc", "limit=0", "limit=5000", "offset=-1"} {
			w := doRequest(server, http.MethodGet, "/api/v1/accounts?"+q, auth, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, q)
		}
	})
}

func TestGroups(t *testing.T) {
	service := &MockAccountService{}
	service.On("CreateGroup", mock.Anything, "editors", "Edit things").Return(&users.Group{Name: "editors"}, nil).Once()
	service.On("CreateGroup", mock.Anything, "editors", "").Return(nil, errors.NewAlreadyExistsError("group editors")).Once()
	server := setupTestServer(t, service)
	auth := bearer(t, "ops", ScopeWrite)

	w := doRequest(server, http.MethodPost, "/api/v1/groups", auth, GroupCreate{Name: "editors", Description: "Edit things"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(server, http.MethodPost, "/api/v1/groups", auth, GroupCreate{Name: "editors"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(server, http.MethodPost, "/api/v1/groups", auth, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	service.AssertExpectations(t)
}

func TestMetricsEndpoint(t *testing.T) {
	service := &MockAccountService{}
	service.On("HealthCheck", mock.Anything).Return(nil)
	m := metrics.NewTestMetrics()
	server := setupTestServer(t, service, WithPrometheus(m))

	doRequest(server, http.MethodGet, "/health", "", nil)
	w := doRequest(server, http.MethodGet, "/metrics", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `manageusers_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestOpenAPISpec(t *testing.T) {
	server := setupTestServer(t, &MockAccountService{})

	w := doRequest(server, http.MethodGet, "/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	paths := doc["paths"].(map[string]interface{})
	for _, path := range []string{"/health", "/api/v1/accounts", "/api/v1/accounts/{username}", "/api/v1/accounts/reconcile", "/api/v1/groups"} {
		assert.Contains(t, paths, path)
	}
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := testAPIConfig()
	cfg.AllowedOrigins = []string{"https://admin.example.com"}
	server, err := NewServer(&MockAccountService{}, cfg, logger.NewTestLogger())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/groups", nil)
	req.Header.Set("Origin", "https://admin.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	assert.Equal(t, "https://admin.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}

// TestWithManager drives the API against a real sqlite-backed manager
func TestWithManager(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "api.db")
	cfg.Passwords.BcryptCost = 4

	manager, err := users.NewManager(cfg, logger.NewTestLogger(), metrics.NewNoOpMetrics())
	require.NoError(t, err)
	defer manager.Close()

	server := setupTestServer(t, manager)
	auth := bearer(t, "ops", ScopeWrite)

	w := doRequest(server, http.MethodPost, "/api/v1/groups", auth, GroupCreate{Name: "editors"})
	require.Equal(t, http.StatusCreated, w.Code)

	record := map[string]interface{}{"username": "alice", "email": "alice@example.com", "groups": []string{"editors"}}
	w = doRequest(server, http.MethodPost, "/api/v1/accounts/reconcile", auth, record)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doRequest(server, http.MethodPost, "/api/v1/accounts/reconcile", auth, record)
	require.Equal(t, http.StatusOK, w.Code)
	var resp OutcomeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, types.ActionUnchanged, resp.Data.Action)

	w = doRequest(server, http.MethodPost, "/api/v1/accounts/reconcile", auth,
		map[string]interface{}{"username": "alice", "email": "other@example.com", "remove": true})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(server, http.MethodGet, "/api/v1/accounts/alice", auth, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var account AccountResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &account))
	assert.True(t, account.Data.HasPassword)
	assert.True(t, account.Data.HasProfile)
	assert.Equal(t, []string{"editors"}, account.Data.Groups)

	logs, err := manager.AuditLogs(context.Background(), "alice", 10)
	require.NoError(t, err)
	require.NotEmpty(t, logs)
	assert.Equal(t, "ops", logs[0].Operator)
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}
