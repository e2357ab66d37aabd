// Package pool хранит арендуемые апстрим-ресурсы и выдает их клиентам.
//
// Блокировки раздельные: индекс ресурсов под RWMutex, у каждого ресурса свой mutex,
// аренды разложены по шардам по clientID. Несвязанные клиенты друг друга не ждут.
package pool

import (
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/trustgate/internal/domain"
)

const leaseShards = 32

type Config struct {
	SessionCap       int // лимит аренд на ресурс, если у ресурса не задан свой MaxSessions
	FailureThreshold int
}

type entry struct {
	mu  sync.Mutex
	res domain.PooledResource
}

type leaseShard struct {
	mu     sync.Mutex
	leases map[string]domain.Lease // clientID -> lease
}

type Pool struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	entries  map[string]*entry
	byRegion map[string]map[string]struct{}

	shards [leaseShards]leaseShard
}

func New(cfg Config, logger *zap.Logger) *Pool {
	if cfg.SessionCap <= 0 {
		cfg.SessionCap = 10
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	p := &Pool{
		cfg:      cfg,
		logger:   logger.Named("pool"),
		now:      time.Now,
		entries:  make(map[string]*entry),
		byRegion: make(map[string]map[string]struct{}),
	}
	for i := range p.shards {
		p.shards[i].leases = make(map[string]domain.Lease)
	}
	return p
}

func (p *Pool) shard(clientID string) *leaseShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(clientID))
	return &p.shards[h.Sum32()%leaseShards]
}

func regionKey(region string) string {
	return strings.ToLower(strings.TrimSpace(region))
}

// Add регистрирует ресурс. Повторное добавление того же host:port обновляет
// атрибуты из реестра (протокол, регион, учетные данные, лимит сессий и флаг Active)
// и сохраняет runtime-счетчики и Healthy. Active берется из res как есть: вызывающий
// передает полную строку реестра, нулевой Active выключит ресурс. true: ресурс новый.
func (p *Pool) Add(res domain.PooledResource) bool {
	id := res.ID()
	if res.MaxSessions <= 0 {
		res.MaxSessions = p.cfg.SessionCap
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = p.now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.entries[id]; ok {
		e.mu.Lock()
		oldRegion := e.res.Region
		e.res.Protocol = res.Protocol
		e.res.Region = res.Region
		e.res.Username = res.Username
		e.res.Password = res.Password
		e.res.MaxSessions = res.MaxSessions
		e.res.Active = res.Active
		e.mu.Unlock()
		if regionKey(oldRegion) != regionKey(res.Region) {
			p.unindex(id, oldRegion)
			p.index(id, res.Region)
		}
		return false
	}

	p.entries[id] = &entry{res: res}
	p.index(id, res.Region)
	p.logger.Debug("resource added", zap.String("resource_id", id), zap.String("region", res.Region))
	return true
}

func (p *Pool) index(id, region string) {
	key := regionKey(region)
	set, ok := p.byRegion[key]
	if !ok {
		set = make(map[string]struct{})
		p.byRegion[key] = set
	}
	set[id] = struct{}{}
}

func (p *Pool) unindex(id, region string) {
	key := regionKey(region)
	if set, ok := p.byRegion[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(p.byRegion, key)
		}
	}
}

// Remove удаляет ресурс и все аренды на него. false: id неизвестен.
func (p *Pool) Remove(id string) bool {
	p.mu.Lock()
	e, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
		e.mu.Lock()
		p.unindex(id, e.res.Region)
		e.mu.Unlock()
	}
	p.mu.Unlock()
	if !ok {
		return false
	}

	for i := range p.shards {
		s := &p.shards[i]
		s.mu.Lock()
		for clientID, l := range s.leases {
			if l.ResourceID == id {
				delete(s.leases, clientID)
			}
		}
		s.mu.Unlock()
	}
	p.logger.Info("resource removed", zap.String("resource_id", id))
	return true
}

// eligibleLocked: предикат выдачи. Вызывается под e.mu.
func (p *Pool) eligibleLocked(e *entry, f domain.LeaseFilter) bool {
	r := &e.res
	return r.Active &&
		r.Healthy &&
		r.ActiveLeases < r.MaxSessions &&
		r.FailureCount < p.cfg.FailureThreshold &&
		f.Match(*r)
}

func (p *Pool) candidates(f domain.LeaseFilter) []*entry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if f.Region != "" {
		set := p.byRegion[regionKey(f.Region)]
		out := make([]*entry, 0, len(set))
		for id := range set {
			out = append(out, p.entries[id])
		}
		return out
	}
	out := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e)
	}
	return out
}

// LeaseFor выдает клиенту один подходящий ресурс, выбранный равновероятно.
// Если у клиента уже есть аренда на живой ресурс: возвращает его же.
func (p *Pool) LeaseFor(clientID string, f domain.LeaseFilter) (domain.PooledResource, error) {
	s := p.shard(clientID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[clientID]; ok {
		if res, kept := p.keepLease(l, f); kept {
			return res, nil
		}
		p.releaseLocked(s, clientID)
	}

	cands := p.candidates(f)
	// Случайная перестановка: первый прошедший повторную проверку равновероятен среди подходящих.
	rand.Shuffle(len(cands), func(i, j int) { cands[i], cands[j] = cands[j], cands[i] })

	now := p.now()
	for _, e := range cands {
		e.mu.Lock()
		if !p.eligibleLocked(e, f) {
			e.mu.Unlock()
			continue
		}
		e.res.ActiveLeases++
		e.res.LastUsed = now
		res := e.res
		e.mu.Unlock()

		s.leases[clientID] = domain.Lease{ClientID: clientID, ResourceID: res.ID(), CreatedAt: now}
		return res, nil
	}
	return domain.PooledResource{}, domain.ErrNotFound
}

// keepLease: текущая аренда остается, если ресурс жив и подходит под фильтр.
func (p *Pool) keepLease(l domain.Lease, f domain.LeaseFilter) (domain.PooledResource, bool) {
	p.mu.RLock()
	e, ok := p.entries[l.ResourceID]
	p.mu.RUnlock()
	if !ok {
		return domain.PooledResource{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	r := e.res
	if !r.Active || !r.Healthy || r.FailureCount >= p.cfg.FailureThreshold || !f.Match(r) {
		return domain.PooledResource{}, false
	}
	e.res.LastUsed = p.now()
	return e.res, true
}

// Release освобождает аренду клиента. false: аренды не было.
func (p *Pool) Release(clientID string) bool {
	s := p.shard(clientID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.releaseLocked(s, clientID)
}

func (p *Pool) releaseLocked(s *leaseShard, clientID string) bool {
	l, ok := s.leases[clientID]
	if !ok {
		return false
	}
	delete(s.leases, clientID)

	p.mu.RLock()
	e, exists := p.entries[l.ResourceID]
	p.mu.RUnlock()
	if exists {
		e.mu.Lock()
		if e.res.ActiveLeases > 0 {
			e.res.ActiveLeases--
		}
		e.mu.Unlock()
	}
	return true
}

// LeaseOf возвращает текущую аренду клиента.
func (p *Pool) LeaseOf(clientID string) (domain.Lease, bool) {
	s := p.shard(clientID)
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[clientID]
	return l, ok
}

func (p *Pool) entry(id string) (*entry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[id]
	return e, ok
}

func blendLatency(avg float64, sample time.Duration) float64 {
	ms := float64(sample) / float64(time.Millisecond)
	if avg == 0 {
		return ms
	}
	return (avg + ms) / 2
}

// MarkSuccess фиксирует успешный запрос через ресурс. latency=0: без замера.
func (p *Pool) MarkSuccess(id string, latency time.Duration) bool {
	e, ok := p.entry(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.res.FailureCount = 0
	if latency > 0 {
		e.res.AvgLatencyMs = blendLatency(e.res.AvgLatencyMs, latency)
	}
	return true
}

// MarkFailure увеличивает счетчик ошибок. На пороге ресурс выключается
// до тех пор, пока проверка здоровья его не восстановит.
func (p *Pool) MarkFailure(id string) bool {
	e, ok := p.entry(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	e.res.FailureCount++
	disabled := e.res.FailureCount >= p.cfg.FailureThreshold && e.res.Healthy
	if disabled {
		e.res.Healthy = false
	}
	failures := e.res.FailureCount
	e.mu.Unlock()

	if disabled {
		p.logger.Warn("resource disabled after consecutive failures",
			zap.String("resource_id", id), zap.Int("failures", failures))
	}
	return true
}

// RecordProbe применяет результат проверки здоровья. Успех восстанавливает ресурс
// и обнуляет счетчик ошибок, неуспех только снимает флаг healthy.
func (p *Pool) RecordProbe(id string, healthy bool, latency time.Duration) bool {
	e, ok := p.entry(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.res.LastCheckedAt = p.now()
	e.res.Healthy = healthy
	if healthy {
		e.res.FailureCount = 0
		if latency > 0 {
			e.res.AvgLatencyMs = blendLatency(e.res.AvgLatencyMs, latency)
		}
	}
	return true
}

// SetActive включает/выключает ресурс (операторский сигнал).
func (p *Pool) SetActive(id string, active bool) bool {
	e, ok := p.entry(id)
	if !ok {
		return false
	}
	e.mu.Lock()
	e.res.Active = active
	e.mu.Unlock()
	return true
}

// Get возвращает копию ресурса.
func (p *Pool) Get(id string) (domain.PooledResource, bool) {
	e, ok := p.entry(id)
	if !ok {
		return domain.PooledResource{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.res, true
}

// Snapshot: копии всех ресурсов, отсортированные по id.
func (p *Pool) Snapshot() []domain.PooledResource {
	p.mu.RLock()
	list := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		list = append(list, e)
	}
	p.mu.RUnlock()

	out := make([]domain.PooledResource, 0, len(list))
	for _, e := range list {
		e.mu.Lock()
		out = append(out, e.res)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (p *Pool) Stats() domain.PoolStats {
	var st domain.PoolStats
	for _, r := range p.Snapshot() {
		st.Total++
		st.ActiveLeases += r.ActiveLeases
		if r.Active {
			st.Active++
		}
		if r.Healthy {
			st.Healthy++
		}
		if r.Active && r.Healthy && r.ActiveLeases < r.MaxSessions && r.FailureCount < p.cfg.FailureThreshold {
			st.Eligible++
		}
	}
	return st
}
