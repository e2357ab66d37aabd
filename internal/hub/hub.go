// Package hub управляет живыми клиентскими соединениями, подписками на каналы и рассылкой.
//
// Индексы channel→conns и conn→channels меняются вместе под одним RWMutex.
// Доставка идет в собственную очередь соединения и не держит общий замок.
package hub

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

type Config struct {
	MaxConnections   int
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	QueueSize        int
}

// Observer получает счетчики доставки (метрики). Может быть nil.
type Observer interface {
	ObserveDelivery(delivered, failed int)
	ObserveDrop()
	ObserveConnections(n int)
}

// Conn: одно клиентское соединение.
type Conn struct {
	ID        string
	ClientID  string
	CreatedAt time.Time

	authenticated atomic.Bool
	lastSeen      atomic.Int64

	mu          sync.Mutex
	role        string
	permissions []string

	// под Hub.mu
	channels map[string]struct{}

	out *Outbox
}

func (c *Conn) Authenticated() bool { return c.authenticated.Load() }

func (c *Conn) LastHeartbeat() time.Time { return time.Unix(0, c.lastSeen.Load()) }

func (c *Conn) Outbox() *Outbox { return c.out }

func (c *Conn) Role() (string, []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role, append([]string(nil), c.permissions...)
}

// ConnInfo: снимок соединения для API.
type ConnInfo struct {
	ID            string    `json:"id"`
	ClientID      string    `json:"client_id"`
	Authenticated bool      `json:"authenticated"`
	Role          string    `json:"role,omitempty"`
	Channels      []string  `json:"channels"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Queued        int       `json:"queued"`
}

type Hub struct {
	cfg      Config
	logger   *zap.Logger
	observer Observer
	now      func() time.Time

	mu        sync.RWMutex
	conns     map[string]*Conn
	byClient  map[string]map[string]struct{}
	byChannel map[string]map[string]struct{}
}

func New(cfg Config, observer Observer, logger *zap.Logger) *Hub {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 10000
	}
	if cfg.HeartbeatTimeout <= 0 {
		cfg.HeartbeatTimeout = 300 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 60 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Hub{
		cfg:       cfg,
		logger:    logger.Named("hub"),
		observer:  observer,
		now:       time.Now,
		conns:     make(map[string]*Conn),
		byClient:  make(map[string]map[string]struct{}),
		byChannel: make(map[string]map[string]struct{}),
	}
}

func addTo(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func removeFrom(idx map[string]map[string]struct{}, key, id string) {
	if set, ok := idx[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}

// Connect открывает соединение. Сверх лимита: ErrCapacityExceeded и пустой id.
func (h *Hub) Connect(clientID string) (string, error) {
	if clientID == "" {
		return "", fmt.Errorf("%w: empty client id", domain.ErrInvalidInput)
	}

	h.mu.Lock()
	if len(h.conns) >= h.cfg.MaxConnections {
		h.mu.Unlock()
		h.logger.Warn("connection rejected: hub is full", zap.String("client_id", clientID), zap.Int("max", h.cfg.MaxConnections))
		return "", domain.ErrCapacityExceeded
	}
	c := &Conn{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		CreatedAt: h.now(),
		channels:  make(map[string]struct{}),
		out:       NewOutbox(h.cfg.QueueSize),
	}
	c.lastSeen.Store(c.CreatedAt.UnixNano())
	h.conns[c.ID] = c
	addTo(h.byClient, clientID, c.ID)
	n := len(h.conns)
	h.mu.Unlock()

	if h.observer != nil {
		h.observer.ObserveConnections(n)
	}
	h.logger.Debug("client connected", zap.String("conn_id", c.ID), zap.String("client_id", clientID))
	return c.ID, nil
}

func (h *Hub) Get(connID string) (*Conn, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	return c, ok
}

// Authenticate помечает соединение как аутентифицированное.
func (h *Hub) Authenticate(connID, role string, permissions []string) bool {
	c, ok := h.Get(connID)
	if !ok {
		return false
	}
	c.mu.Lock()
	c.role = role
	c.permissions = append([]string(nil), permissions...)
	c.mu.Unlock()
	c.authenticated.Store(true)
	c.lastSeen.Store(h.now().UnixNano())
	return true
}

func (h *Hub) Subscribe(connID, channel string) bool {
	if channel == "" {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return false
	}
	c.channels[channel] = struct{}{}
	addTo(h.byChannel, channel, connID)
	return true
}

func (h *Hub) Unsubscribe(connID, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return false
	}
	if _, subscribed := c.channels[channel]; !subscribed {
		return false
	}
	delete(c.channels, channel)
	removeFrom(h.byChannel, channel, connID)
	return true
}

func (h *Hub) Heartbeat(connID string) bool {
	c, ok := h.Get(connID)
	if !ok {
		return false
	}
	c.lastSeen.Store(h.now().UnixNano())
	return true
}

// Disconnect удаляет соединение из всех индексов и закрывает его очередь.
func (h *Hub) Disconnect(connID string) bool {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if ok {
		h.dropLocked(c)
	}
	n := len(h.conns)
	h.mu.Unlock()
	if !ok {
		return false
	}
	c.out.Close()
	if h.observer != nil {
		h.observer.ObserveConnections(n)
	}
	return true
}

func (h *Hub) dropLocked(c *Conn) {
	delete(h.conns, c.ID)
	removeFrom(h.byClient, c.ClientID, c.ID)
	for ch := range c.channels {
		removeFrom(h.byChannel, ch, c.ID)
	}
	c.channels = make(map[string]struct{})
}

func (h *Hub) collect(ids map[string]struct{}, authOnly bool) []*Conn {
	out := make([]*Conn, 0, len(ids))
	for id := range ids {
		c, ok := h.conns[id]
		if !ok || (authOnly && !c.Authenticated()) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Broadcast доставляет сообщение аутентифицированным подписчикам канала.
// Возвращает число успешных доставок.
func (h *Hub) Broadcast(channel string, msg Message) int {
	msg.Channel = channel
	h.mu.RLock()
	targets := h.collect(h.byChannel[channel], true)
	h.mu.RUnlock()
	return h.deliver(targets, msg)
}

// BroadcastAll рассылает без подписки всем соединениям, включая неаутентифицированные.
func (h *Hub) BroadcastAll(msg Message) int {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	return h.deliver(targets, msg)
}

// SendToClient доставляет сообщение во все соединения клиента.
func (h *Hub) SendToClient(clientID string, msg Message) int {
	h.mu.RLock()
	targets := h.collect(h.byClient[clientID], false)
	h.mu.RUnlock()
	return h.deliver(targets, msg)
}

func (h *Hub) deliver(targets []*Conn, msg Message) int {
	delivered, failed := 0, 0
	for _, c := range targets {
		if err := h.push(c, msg); err != nil {
			failed++
			h.logger.Debug("delivery failed", zap.String("conn_id", c.ID), zap.Error(err))
			continue
		}
		delivered++
	}
	if h.observer != nil {
		h.observer.ObserveDelivery(delivered, failed)
	}
	return delivered
}

func (h *Hub) push(c *Conn, msg Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("delivery panic: %v", r)
		}
	}()
	dropped, err := c.out.Push(msg)
	if dropped && h.observer != nil {
		h.observer.ObserveDrop()
	}
	return err
}

// Sweep отключает соединения без heartbeat дольше таймаута. Возвращает их id.
func (h *Hub) Sweep(now time.Time) []string {
	deadline := now.Add(-h.cfg.HeartbeatTimeout).UnixNano()

	h.mu.Lock()
	var expired []*Conn
	for _, c := range h.conns {
		if c.lastSeen.Load() < deadline {
			expired = append(expired, c)
			h.dropLocked(c)
		}
	}
	n := len(h.conns)
	h.mu.Unlock()

	ids := make([]string, 0, len(expired))
	for _, c := range expired {
		c.out.Close()
		ids = append(ids, c.ID)
	}
	if len(ids) > 0 {
		h.logger.Info("expired connections swept", zap.Int("count", len(ids)))
		if h.observer != nil {
			h.observer.ObserveConnections(n)
		}
	}
	return ids
}

// Run: периодическая зачистка, пока жив контекст.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.Sweep(h.now())
		}
	}
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byChannel[channel])
}

// Info: снимок соединения.
func (h *Hub) Info(connID string) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connID]
	if !ok {
		return ConnInfo{}, false
	}
	channels := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		channels = append(channels, ch)
	}
	sort.Strings(channels)
	role, _ := c.Role()
	return ConnInfo{
		ID:            c.ID,
		ClientID:      c.ClientID,
		Authenticated: c.Authenticated(),
		Role:          role,
		Channels:      channels,
		LastHeartbeat: c.LastHeartbeat(),
		Queued:        c.out.Len(),
	}, true
}
