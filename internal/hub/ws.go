package hub

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

const writeTimeout = 5 * time.Second

// TokenValidator проверяет токен из кадра auth.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.CustomClaims, error)
}

// controlFrame — входящий управляющий кадр клиента.
type controlFrame struct {
	Type    string `json:"type"` // auth | subscribe | unsubscribe | ping
	Token   string `json:"token,omitempty"`
	Channel string `json:"channel,omitempty"`
}

type ack struct {
	ConnID  string `json:"conn_id,omitempty"`
	Op      string `json:"op,omitempty"`
	Channel string `json:"channel,omitempty"`
	OK      bool   `json:"ok"`
	Reason  string `json:"reason,omitempty"`
}

// WSHandler — WebSocket-транспорт хаба: читатель обрабатывает управляющие кадры,
// писатель вычерпывает очередь соединения.
type WSHandler struct {
	hub            *Hub
	validator      TokenValidator
	originPatterns []string
	logger         *zap.Logger
}

func NewWSHandler(h *Hub, v TokenValidator, originPatterns []string, logger *zap.Logger) *WSHandler {
	return &WSHandler{hub: h, validator: v, originPatterns: originPatterns, logger: logger.Named("ws")}
}

func (s *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("client_id")
	if clientID == "" {
		http.Error(w, "client_id is required", http.StatusBadRequest)
		return
	}

	opts := &websocket.AcceptOptions{}
	if len(s.originPatterns) > 0 {
		opts.OriginPatterns = s.originPatterns
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		return
	}

	connID, err := s.hub.Connect(clientID)
	if err != nil {
		status := websocket.StatusInternalError
		if errors.Is(err, domain.ErrCapacityExceeded) {
			status = websocket.StatusTryAgainLater
		}
		_ = conn.Close(status, err.Error())
		return
	}
	defer s.hub.Disconnect(connID)

	c, ok := s.hub.Get(connID)
	if !ok {
		_ = conn.Close(websocket.StatusNormalClosure, "closed")
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.reply(c, "connected", ack{ConnID: connID, OK: true})

	readErr := make(chan error, 1)
	go func() {
		for {
			var f controlFrame
			if err := wsjson.Read(ctx, conn, &f); err != nil {
				readErr <- err
				return
			}
			s.hub.Heartbeat(connID)
			s.handleFrame(c, f)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case _, ok := <-c.Outbox().Ready():
			if !ok {
				_ = conn.Close(websocket.StatusPolicyViolation, "expired")
				return
			}
			for _, msg := range c.Outbox().Drain() {
				writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
				err := wsjson.Write(writeCtx, conn, msg)
				cancelWrite()
				if err != nil {
					s.logger.Debug("write failed", zap.String("conn_id", connID), zap.Error(err))
					_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
					return
				}
			}
		}
	}
}

func (s *WSHandler) handleFrame(c *Conn, f controlFrame) {
	switch f.Type {
	case "auth":
		if s.validator == nil {
			s.reply(c, "ack", ack{Op: f.Type, Reason: "auth disabled"})
			return
		}
		claims, err := s.validator.VerifyToken(f.Token)
		if err != nil {
			s.logger.Warn("ws auth failure", zap.String("conn_id", c.ID), zap.Error(err))
			s.reply(c, "ack", ack{Op: f.Type, Reason: "unauthenticated"})
			return
		}
		s.hub.Authenticate(c.ID, claims.Role, claims.Permissions)
		s.reply(c, "ack", ack{Op: f.Type, OK: true})
	case "subscribe":
		s.reply(c, "ack", ack{Op: f.Type, Channel: f.Channel, OK: s.hub.Subscribe(c.ID, f.Channel)})
	case "unsubscribe":
		s.reply(c, "ack", ack{Op: f.Type, Channel: f.Channel, OK: s.hub.Unsubscribe(c.ID, f.Channel)})
	case "ping":
		s.reply(c, "pong", nil)
	default:
		s.reply(c, "ack", ack{Op: f.Type, Reason: "unknown frame type"})
	}
}

// reply идет через ту же очередь, что и рассылки: порядок для соединения сохраняется.
func (s *WSHandler) reply(c *Conn, typ string, data any) {
	msg, err := NewMessage(typ, "", data)
	if err != nil {
		return
	}
	_, _ = c.Outbox().Push(msg)
}
