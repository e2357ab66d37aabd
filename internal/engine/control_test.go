package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
	"github.com/xela07ax/trustgate/internal/pool"
)

type memResources struct {
	items map[string]domain.PooledResource
}

func (m *memResources) ListResources(context.Context) ([]domain.PooledResource, error) {
	out := make([]domain.PooledResource, 0, len(m.items))
	for _, r := range m.items {
		out = append(out, r)
	}
	return out, nil
}

func (m *memResources) GetResource(_ context.Context, id string) (domain.PooledResource, error) {
	r, ok := m.items[id]
	if !ok {
		return domain.PooledResource{}, domain.ErrNotFound
	}
	return r, nil
}

func TestResourceControl(t *testing.T) {
	p := pool.New(pool.Config{}, zap.NewNop())
	p.Add(proxy("10.9.9.9", 1, "eu")) // в БД его уже нет

	off := proxy("10.0.0.2", 8080, "us")
	off.Active = false
	repo := &memResources{items: map[string]domain.PooledResource{
		"10.0.0.1:8080": {Host: "10.0.0.1", Port: 8080, Protocol: domain.ProtocolHTTP, Region: "eu", Active: true},
		"10.0.0.2:8080": off,
	}}
	journal := &memJournal{}
	rc := NewResourceControl(p, repo, nil, nil, journal, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, rc.Init(ctx))
	assert.Equal(t, 2, p.Stats().Total)
	_, ok := p.Get("10.9.9.9:1")
	assert.False(t, ok)
	first, _ := p.Get("10.0.0.1:8080")
	assert.True(t, first.Healthy, "new resources are healthy until the first probe")
	second, _ := p.Get("10.0.0.2:8080")
	assert.False(t, second.Active)

	rc.SetActive("10.0.0.2:8080", true)
	second, _ = p.Get("10.0.0.2:8080")
	assert.True(t, second.Active)
	rc.SetActive("10.1.1.1:1", true) // неизвестный — только предупреждение

	repo.items["10.0.0.3:3128"] = domain.PooledResource{Host: "10.0.0.3", Port: 3128, Protocol: domain.ProtocolHTTP, Active: true}
	require.NoError(t, rc.ApplySync(ctx, "upsert:10.0.0.3:3128"))
	_, ok = p.Get("10.0.0.3:3128")
	assert.True(t, ok)

	require.NoError(t, rc.ApplySync(ctx, "delete:10.0.0.1:8080"))
	_, ok = p.Get("10.0.0.1:8080")
	assert.False(t, ok)

	// upsert удаленного из БД ресурса убирает его и из пула
	delete(repo.items, "10.0.0.3:3128")
	require.NoError(t, rc.ApplySync(ctx, "upsert:10.0.0.3:3128"))
	_, ok = p.Get("10.0.0.3:3128")
	assert.False(t, ok)

	assert.ErrorIs(t, rc.ApplySync(ctx, "rename:x"), domain.ErrInvalidInput)
	assert.ErrorIs(t, rc.ApplySync(ctx, "upsert"), domain.ErrInvalidInput)
	assert.NotEmpty(t, journal.kinds())
}
