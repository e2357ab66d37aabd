package server

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/xela07ax/trustgate/internal/audit"
	"github.com/xela07ax/trustgate/internal/console/handler"
	"github.com/xela07ax/trustgate/internal/console/service"
	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/infra/auth"
)

type stubUsers struct{ users map[string]*domain.User }

func (s *stubUsers) GetUserByUsername(_ context.Context, name string) (*domain.User, error) {
	if u, ok := s.users[name]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubUsers) CreateUser(_ context.Context, u *domain.User) error {
	u.ID = "id-" + u.Username
	s.users[u.Username] = u
	return nil
}

type stubResources struct{ items map[string]domain.PooledResource }

func (s *stubResources) ListResources(context.Context) ([]domain.PooledResource, error) {
	var out []domain.PooledResource
	for _, r := range s.items {
		out = append(out, r)
	}
	return out, nil
}

func (s *stubResources) GetResource(_ context.Context, id string) (domain.PooledResource, error) {
	r, ok := s.items[id]
	if !ok {
		return r, domain.ErrNotFound
	}
	return r, nil
}

func (s *stubResources) UpsertResource(_ context.Context, r domain.PooledResource) (domain.PooledResource, error) {
	s.items[r.ID()] = r
	return r, nil
}

func (s *stubResources) DeleteResource(_ context.Context, id string) error {
	if _, ok := s.items[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *stubResources) SetActive(_ context.Context, id string, active bool) error {
	r, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Active = active
	s.items[id] = r
	return nil
}

type stubRecords struct{}

func (stubRecords) Get(_ context.Context, id string) (*domain.ValidationRecord, error) {
	if id == "r1" {
		return &domain.ValidationRecord{ID: "r1", Status: domain.StatusCompleted}, nil
	}
	return nil, domain.ErrNotFound
}

func (stubRecords) ListRecent(context.Context, string, int) ([]*domain.ValidationRecord, error) {
	return nil, nil
}

func (stubRecords) Recent(_ context.Context, kind string, _ int) ([]audit.Event, error) {
	return []audit.Event{{ID: "e1", Kind: kind}}, nil
}

func (stubRecords) RecentProbes(_ context.Context, id string, _ int) ([]domain.ProbeResult, error) {
	return []domain.ProbeResult{{ResourceID: id, Healthy: true}}, nil
}

type fixture struct {
	srv   *httptest.Server
	authS *service.AuthService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	logger := zap.NewNop()

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	authS := service.NewAuthService(&stubUsers{users: map[string]*domain.User{}},
		auth.NewBaseValidator(&key.PublicKey, auth.DefaultIssuer),
		auth.NewTokenIssuer(key, auth.DefaultIssuer, time.Hour), bcrypt.MinCost, logger)
	require.NoError(t, authS.EnsureUser(context.Background(), "admin", "pw", "admin", nil))
	require.NoError(t, authS.EnsureUser(context.Background(), "viewer", "pw", "viewer", []string{PermConsoleRead}))

	resources := service.NewResourceService(rdb, &stubResources{items: map[string]domain.PooledResource{}}, logger)
	records := service.NewRecordsService(stubRecords{}, stubRecords{}, stubRecords{})

	s := NewConsoleServer(logger, authS,
		handler.NewAuthHandler(authS, logger),
		handler.NewResourceHandler(resources, logger),
		handler.NewRecordsHandler(records, logger))
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, authS: authS}
}

func (f *fixture) call(t *testing.T, method, path, token string, body any) (int, domain.Result[json.RawMessage]) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out domain.Result[json.RawMessage]
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp.StatusCode, out
}

func (f *fixture) login(t *testing.T, user string) string {
	t.Helper()
	code, res := f.call(t, http.MethodPost, "/auth/token", "", domain.LoginRequest{Username: user, Password: "pw"})
	require.Equal(t, http.StatusOK, code)
	var tok domain.TokenResponse
	require.NoError(t, json.Unmarshal(res.Data, &tok))
	return tok.AccessToken
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	code, res := f.call(t, http.MethodPost, "/auth/token", "", domain.LoginRequest{Username: "admin", Password: "nope"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, res.OK)
	assert.NotEmpty(t, f.login(t, "admin"))
}

func TestResourceLifecycle(t *testing.T) {
	f := newFixture(t)
	admin := f.login(t, "admin")
	viewer := f.login(t, "viewer")

	body := map[string]any{"host": "10.0.0.1", "port": 8080, "region": "eu"}
	code, _ := f.call(t, http.MethodPost, "/v1/resources", "", body)
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = f.call(t, http.MethodPost, "/v1/resources", viewer, body)
	assert.Equal(t, http.StatusForbidden, code)

	code, res := f.call(t, http.MethodPost, "/v1/resources", admin, body)
	require.Equal(t, http.StatusOK, code)
	var saved domain.PooledResource
	require.NoError(t, json.Unmarshal(res.Data, &saved))
	assert.True(t, saved.Active)

	code, _ = f.call(t, http.MethodPut, "/v1/resources/10.0.0.2:8080", admin, body)
	assert.Equal(t, http.StatusBadRequest, code)

	code, res = f.call(t, http.MethodPost, "/v1/resources/10.0.0.1:8080/disable", admin, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"id":"10.0.0.1:8080","active":false}`, string(res.Data))

	code, _ = f.call(t, http.MethodGet, "/v1/resources/10.0.0.1:8080", viewer, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.call(t, http.MethodGet, "/v1/resources/10.0.0.1:8080/probes", viewer, nil)
	assert.Equal(t, http.StatusOK, code)

	code, _ = f.call(t, http.MethodDelete, "/v1/resources/10.0.0.1:8080", admin, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, res = f.call(t, http.MethodGet, "/v1/resources/10.0.0.1:8080", viewer, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, domain.KindNotFound, res.Kind)
}

func TestRecordsAndJournal(t *testing.T) {
	f := newFixture(t)
	viewer := f.login(t, "viewer")

	code, res := f.call(t, http.MethodGet, "/v1/validations", viewer, nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(res.Data))

	code, _ = f.call(t, http.MethodGet, "/v1/validations/r1", viewer, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = f.call(t, http.MethodGet, "/v1/validations/zzz", viewer, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, res = f.call(t, http.MethodGet, "/v1/journal?kind=lease", viewer, nil)
	require.Equal(t, http.StatusOK, code)
	var events []audit.Event
	require.NoError(t, json.Unmarshal(res.Data, &events))
	require.Len(t, events, 1)
	assert.Equal(t, "lease", events[0].Kind)
}

func TestHealthRunWithoutRedis(t *testing.T) {
	f := newFixture(t)
	code, res := f.call(t, http.MethodPost, "/v1/health/run", f.login(t, "admin"), nil)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal error", res.Reason)
}
