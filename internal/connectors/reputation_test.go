package connectors

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPReputation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("subject") {
		case "busy":
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
		case "broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			_, _ = w.Write([]byte(`{"score":0.25,"listed":false,"categories":["proxy"]}`))
		}
	}))
	defer srv.Close()

	c := NewHTTPReputation(srv.URL, srv.Client())
	ctx := context.Background()

	rep, err := c.Lookup(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.InDelta(t, 0.25, rep.Score, 1e-9)
	assert.Equal(t, []string{"proxy"}, rep.Categories)

	_, err = c.Lookup(ctx, "busy")
	var tErr *ThrottleError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, 3*time.Second, tErr.RetryAfter)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)

	_, err = c.Lookup(ctx, "broken")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.False(t, errors.As(err, &tErr))
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Second, parseRetryAfter("", now, time.Second))
	assert.Equal(t, 7*time.Second, parseRetryAfter("7", now, time.Second))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now, time.Second))
	assert.Equal(t, time.Duration(0), parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now, time.Second))
	assert.Equal(t, time.Second, parseRetryAfter("soon", now, time.Second))
}

func TestMockReputation(t *testing.T) {
	m := &MockReputation{}
	ctx := context.Background()

	rep, err := m.Lookup(ctx, "blocked-user")
	require.NoError(t, err)
	assert.True(t, rep.Listed)

	a, _ := m.Lookup(ctx, "alice")
	b, _ := m.Lookup(ctx, "alice")
	assert.Equal(t, a, b)
	assert.Less(t, a.Score, 0.3)

	_, err = m.Lookup(ctx, "throttle-me")
	var tErr *ThrottleError
	assert.True(t, errors.As(err, &tErr))
}
