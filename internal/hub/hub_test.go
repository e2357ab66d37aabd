package hub

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

func newHub(cfg Config) *Hub {
	return New(cfg, nil, zap.NewNop())
}

func msg(t *testing.T, typ string) Message {
	t.Helper()
	m, err := NewMessage(typ, "", map[string]string{"k": typ})
	require.NoError(t, err)
	return m
}

func TestConnectCap(t *testing.T) {
	h := newHub(Config{MaxConnections: 2})
	_, err := h.Connect("a")
	require.NoError(t, err)
	_, err = h.Connect("b")
	require.NoError(t, err)

	id, err := h.Connect("c")
	assert.Empty(t, id)
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	_, err = h.Connect("")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestBroadcastOnlyToAuthenticatedSubscribers(t *testing.T) {
	h := newHub(Config{})
	authed, _ := h.Connect("c1")
	anon, _ := h.Connect("c2")
	other, _ := h.Connect("c3")

	require.True(t, h.Authenticate(authed, "viewer", nil))
	require.True(t, h.Authenticate(other, "viewer", nil))
	require.True(t, h.Subscribe(authed, "results"))
	require.True(t, h.Subscribe(anon, "results"))

	assert.Equal(t, 1, h.Broadcast("results", msg(t, "r")))
	// подписки нет — но рассылка всем доходит и до неаутентифицированных
	assert.Equal(t, 3, h.BroadcastAll(msg(t, "all")))

	c, _ := h.Get(anon)
	queued := c.Outbox().Drain()
	require.Len(t, queued, 1)
	assert.Equal(t, "all", queued[0].Type)
}

func TestSubscriptionIndicesAreSymmetric(t *testing.T) {
	h := newHub(Config{})
	id, _ := h.Connect("c1")
	h.Authenticate(id, "viewer", nil)

	assert.True(t, h.Subscribe(id, "a"))
	assert.True(t, h.Subscribe(id, "b"))
	assert.False(t, h.Subscribe("ghost", "a"))
	assert.Equal(t, 1, h.Subscribers("a"))

	info, ok := h.Info(id)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, info.Channels)

	assert.True(t, h.Unsubscribe(id, "a"))
	assert.False(t, h.Unsubscribe(id, "a"))
	assert.Equal(t, 0, h.Subscribers("a"))

	assert.True(t, h.Disconnect(id))
	assert.Equal(t, 0, h.Subscribers("b"))
	assert.False(t, h.Disconnect(id))
	assert.Equal(t, 0, h.Broadcast("b", msg(t, "x")))
}

func TestBroadcastIsolatesFailedDelivery(t *testing.T) {
	h := newHub(Config{})
	var ids []string
	for i := 0; i < 3; i++ {
		id, _ := h.Connect(fmt.Sprintf("c%d", i))
		h.Authenticate(id, "viewer", nil)
		h.Subscribe(id, "results")
		ids = append(ids, id)
	}
	// очередь одного подписчика сломана
	broken, _ := h.Get(ids[1])
	broken.Outbox().Close()

	assert.Equal(t, 2, h.Broadcast("results", msg(t, "r")))
	for _, id := range []string{ids[0], ids[2]} {
		c, _ := h.Get(id)
		assert.Equal(t, 1, c.Outbox().Len())
	}
}

func TestSendToClientReachesAllItsConnections(t *testing.T) {
	h := newHub(Config{})
	h.Connect("c1")
	h.Connect("c1")
	h.Connect("c2")
	assert.Equal(t, 2, h.SendToClient("c1", msg(t, "direct")))
	assert.Equal(t, 0, h.SendToClient("nobody", msg(t, "direct")))
}

func TestOutboxDropsOldest(t *testing.T) {
	o := NewOutbox(3)
	for i := 0; i < 5; i++ {
		_, err := o.Push(Message{Type: fmt.Sprint(i)})
		require.NoError(t, err)
	}
	got := o.Drain()
	require.Len(t, got, 3)
	assert.Equal(t, []string{"2", "3", "4"}, []string{got[0].Type, got[1].Type, got[2].Type})
	assert.Equal(t, uint64(2), o.Dropped())

	o.Close()
	_, err := o.Push(Message{})
	assert.ErrorIs(t, err, ErrOutboxClosed)
}

func TestSweepExpiresStaleConnections(t *testing.T) {
	h := newHub(Config{HeartbeatTimeout: time.Minute})
	stale, _ := h.Connect("c1")
	fresh, _ := h.Connect("c2")
	h.Subscribe(stale, "a")

	later := time.Now().Add(2 * time.Minute)
	h.now = func() time.Time { return later }
	h.Heartbeat(fresh)

	expired := h.Sweep(later)
	assert.Equal(t, []string{stale}, expired)
	_, ok := h.Get(stale)
	assert.False(t, ok)
	assert.Equal(t, 0, h.Subscribers("a"))
	assert.Equal(t, 1, h.Count())
}

func TestConcurrentHubUse(t *testing.T) {
	h := newHub(Config{QueueSize: 8})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := h.Connect(fmt.Sprintf("c%d", i%5))
			if err != nil {
				return
			}
			h.Authenticate(id, "viewer", nil)
			h.Subscribe(id, "results")
			h.Broadcast("results", Message{Type: "r"})
			if i%2 == 0 {
				h.Disconnect(id)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, h.Count())
	assert.Equal(t, 25, h.Subscribers("results"))
}

type staticValidator struct{}

func (staticValidator) VerifyToken(tok string) (*domain.CustomClaims, error) {
	if strings.TrimPrefix(tok, "Bearer ") != "good" {
		return nil, domain.ErrUnauthenticated
	}
	return &domain.CustomClaims{UserID: "u1", Role: "viewer"}, nil
}

func TestWebSocketFlow(t *testing.T) {
	h := newHub(Config{})
	srv := httptest.NewServer(NewWSHandler(h, staticValidator{}, nil, zap.NewNop()))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?client_id=c1"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	var m Message
	require.NoError(t, wsjson.Read(ctx, conn, &m))
	assert.Equal(t, "connected", m.Type)

	require.NoError(t, wsjson.Write(ctx, conn, controlFrame{Type: "auth", Token: "good"}))
	require.NoError(t, wsjson.Read(ctx, conn, &m))
	assert.Contains(t, string(m.Data), `"ok":true`)

	require.NoError(t, wsjson.Write(ctx, conn, controlFrame{Type: "subscribe", Channel: "results"}))
	require.NoError(t, wsjson.Read(ctx, conn, &m))
	assert.Contains(t, string(m.Data), `"ok":true`)

	assert.Equal(t, 1, h.Broadcast("results", msg(t, "validation.completed")))
	require.NoError(t, wsjson.Read(ctx, conn, &m))
	assert.Equal(t, "validation.completed", m.Type)
	assert.Equal(t, "results", m.Channel)

	require.NoError(t, wsjson.Write(ctx, conn, controlFrame{Type: "ping"}))
	require.NoError(t, wsjson.Read(ctx, conn, &m))
	assert.Equal(t, "pong", m.Type)
}
