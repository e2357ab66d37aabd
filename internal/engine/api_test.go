package engine

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/infra/auth"
)

type apiFixture struct {
	env    *testEnv
	srv    *httptest.Server
	issuer *auth.TokenIssuer
}

func newAPIFixture(t *testing.T, resources ...domain.PooledResource) *apiFixture {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	env := newTestEnv(t, resources...)
	api := NewAPI(env.core, auth.NewBaseValidator(&key.PublicKey, auth.DefaultIssuer), nil, nil, zap.NewNop())
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return &apiFixture{env: env, srv: srv, issuer: auth.NewTokenIssuer(key, auth.DefaultIssuer, time.Hour)}
}

func (f *apiFixture) token(t *testing.T, perms ...string) string {
	t.Helper()
	tok, err := f.issuer.Issue(&domain.User{ID: "u1", Role: "client", Permissions: perms})
	require.NoError(t, err)
	return tok.AccessToken
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any) (int, domain.Result[json.RawMessage]) {
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
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	var out domain.Result[json.RawMessage]
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestAPILeases(t *testing.T) {
	f := newAPIFixture(t, proxy("10.0.0.1", 8080, "eu"))
	tok := f.token(t, PermLease)

	code, res := f.do(t, http.MethodPost, "/v1/leases", "", leaseRequest{ClientID: "c1"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.False(t, res.OK)

	code, _ = f.do(t, http.MethodPost, "/v1/leases", f.token(t, PermValidate), leaseRequest{ClientID: "c1"})
	assert.Equal(t, http.StatusForbidden, code)

	code, res = f.do(t, http.MethodPost, "/v1/leases", tok, leaseRequest{ClientID: "c1"})
	require.Equal(t, http.StatusOK, code)
	var got domain.PooledResource
	require.NoError(t, json.Unmarshal(res.Data, &got))
	assert.Equal(t, "10.0.0.1:8080", got.ID())

	code, res = f.do(t, http.MethodPost, "/v1/leases", tok, leaseRequest{ClientID: "c2", Filter: domain.LeaseFilter{Region: "us"}})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, domain.KindNotFound, res.Kind)
	assert.True(t, res.Retryable)

	code, _ = f.do(t, http.MethodGet, "/v1/leases/c1", tok, nil)
	assert.Equal(t, http.StatusOK, code)

	code, res = f.do(t, http.MethodDelete, "/v1/leases/c1", tok, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"released":true}`, string(res.Data))

	code, _ = f.do(t, http.MethodGet, "/v1/leases/c1", tok, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAPIBadBody(t *testing.T) {
	f := newAPIFixture(t)
	req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/v1/signatures/compare", bytes.NewBufferString("{"))
	req.Header.Set("Authorization", "Bearer "+f.token(t, PermSignatures))
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPIValidationLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	tok := f.token(t, PermValidate, PermValidationsRead)

	in := domain.ValidationInput{ClientID: "c1", Subject: "alice@example.com"}
	code, res := f.do(t, http.MethodPost, "/v1/validations?async=true", tok, in)
	require.Equal(t, http.StatusAccepted, code)
	var accepted struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(res.Data, &accepted))
	require.NotEmpty(t, accepted.ID)

	require.Eventually(t, func() bool {
		code, res := f.do(t, http.MethodGet, "/v1/validations/"+accepted.ID, tok, nil)
		if code != http.StatusOK {
			return false
		}
		var rec domain.ValidationRecord
		return json.Unmarshal(res.Data, &rec) == nil && rec.Status.Final()
	}, 2*time.Second, 20*time.Millisecond)

	code, res = f.do(t, http.MethodGet, "/v1/validations/missing", tok, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, domain.KindNotFound, res.Kind)

	code, res = f.do(t, http.MethodPost, "/v1/validations/batch", tok, []domain.ValidationInput{in, in})
	require.Equal(t, http.StatusOK, code)
	var items []map[string]any
	require.NoError(t, json.Unmarshal(res.Data, &items))
	assert.Len(t, items, 2)
}

func TestAPIProcessAndBroadcast(t *testing.T) {
	f := newAPIFixture(t, proxy("10.0.0.1", 8080, "eu"))

	connID, _ := f.env.core.Connect("dash")
	f.env.hub.Authenticate(connID, "viewer", nil)
	f.env.core.Subscribe(connID, "alerts")

	code, res := f.do(t, http.MethodPost, "/v1/process", f.token(t, PermValidate), ProcessRequest{ClientID: "c1", Subject: "alice@example.com"})
	require.Equal(t, http.StatusOK, code)
	var pr ProcessResult
	require.NoError(t, json.Unmarshal(res.Data, &pr))
	assert.NotEmpty(t, pr.RecordID)
	require.NotNil(t, pr.Record)

	code, res = f.do(t, http.MethodPost, "/v1/broadcast/alerts", f.token(t, PermBroadcast), broadcastRequest{Type: "notice", Data: json.RawMessage(`{"x":1}`)})
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"delivered":1}`, string(res.Data))

	code, _ = f.do(t, http.MethodPost, "/v1/broadcast/alerts", f.token(t, PermBroadcast), broadcastRequest{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAPIHealthIsPublic(t *testing.T) {
	f := newAPIFixture(t, proxy("10.0.0.1", 8080, "eu"))
	code, res := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.OK)
}
