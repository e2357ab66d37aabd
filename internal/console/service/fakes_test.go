package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/trustgate/internal/domain"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUsers() *memUsers {
	return &memUsers{users: map[string]*domain.User{}}
}

func (m *memUsers) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (m *memUsers) CreateUser(_ context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u.ID = "user-" + u.Username
	u.CreatedAt = time.Now()
	c := *u
	m.users[u.Username] = &c
	return nil
}

type memResources struct {
	mu    sync.Mutex
	items map[string]domain.PooledResource
}

func newMemResources() *memResources {
	return &memResources{items: map[string]domain.PooledResource{}}
}

func (m *memResources) ListResources(context.Context) ([]domain.PooledResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.PooledResource
	for _, r := range m.items {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (m *memResources) GetResource(_ context.Context, id string) (domain.PooledResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return domain.PooledResource{}, domain.ErrNotFound
	}
	return r, nil
}

func (m *memResources) UpsertResource(_ context.Context, r domain.PooledResource) (domain.PooledResource, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.Healthy = true
	m.items[r.ID()] = r
	return r, nil
}

func (m *memResources) DeleteResource(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *memResources) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.Active = active
	m.items[id] = r
	return nil
}

// deadRedis — клиент без сервера: сигналы падают, операции консоли должны оставаться успешными.
func deadRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
}
