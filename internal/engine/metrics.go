package engine

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xela07ax/trustgate/internal/domain"
)

type Metrics struct {
	// Traffic: аренды по исходу (assigned, reused, not_found, capacity)
	LeasesTotal *prometheus.CounterVec

	// Saturation: состояние пула (total, active, healthy, eligible, leases)
	PoolResources *prometheus.GaugeVec

	// Latency: проверки здоровья
	ProbeDuration *prometheus.HistogramVec

	// Latency: прогон конвейера валидации
	ValidationDuration *prometheus.HistogramVec

	// Итоговые вердикты
	Classifications *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Hub: соединения и доставка
	HubConnections prometheus.Gauge
	HubDelivered   *prometheus.CounterVec
	HubDropped     prometheus.Counter

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило, 0.5 - полуоткрыт)
	CircuitBreakerState *prometheus.GaugeVec

	// Journal: заполненность буфера (backpressure)
	JournalBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		LeasesTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_leases_total",
			Help: "Lease requests by outcome.",
		}, []string{"result"}),

		PoolResources: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "trustgate_pool_resources",
			Help: "Pool size by resource state.",
		}, []string{"state"}),

		ProbeDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustgate_probe_duration_seconds",
			Help:    "Histogram of health probe latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"healthy"}),

		ValidationDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustgate_validation_duration_seconds",
			Help:    "Histogram of validation pipeline latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"status"}),

		Classifications: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_classifications_total",
			Help: "Validation verdicts by classification.",
		}, []string{"classification"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_errors_total",
			Help: "Total number of errors by kind.",
		}, []string{"type"}), // типы: not_found, capacity_exceeded, timeout, invalid_input, internal

		HubConnections: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "trustgate_hub_connections",
			Help: "Current number of hub connections.",
		}),

		HubDelivered: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "trustgate_hub_deliveries_total",
			Help: "Hub message deliveries by result.",
		}, []string{"result"}),

		HubDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "trustgate_hub_dropped_total",
			Help: "Messages evicted from full connection queues.",
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "trustgate_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 0.5=half-open, 1=open).",
		}, []string{"connector_id"}),

		JournalBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "trustgate_journal_buffer_utilization",
			Help: "Current number of events in journal buffer.",
		}),
	}
}

// ObserveError считает ошибку по ее виду.
func (m *Metrics) ObserveError(err error) {
	if kind := domain.KindOf(err); kind != domain.KindNone {
		m.ErrorTotal.WithLabelValues(string(kind)).Inc()
	}
}

// ObservePool переносит сводку пула в gauges.
func (m *Metrics) ObservePool(s domain.PoolStats) {
	m.PoolResources.WithLabelValues("total").Set(float64(s.Total))
	m.PoolResources.WithLabelValues("active").Set(float64(s.Active))
	m.PoolResources.WithLabelValues("healthy").Set(float64(s.Healthy))
	m.PoolResources.WithLabelValues("eligible").Set(float64(s.Eligible))
	m.PoolResources.WithLabelValues("leases").Set(float64(s.ActiveLeases))
}

func (m *Metrics) ObserveProbe(_ context.Context, r domain.ProbeResult) {
	label := "false"
	if r.Healthy {
		label = "true"
	}
	m.ProbeDuration.WithLabelValues(label).Observe(r.Latency.Seconds())
}

func (m *Metrics) ObserveValidation(rec *domain.ValidationRecord) {
	if rec == nil {
		return
	}
	d := rec.CompletedAt.Sub(rec.StartedAt)
	if d < 0 || rec.StartedAt.IsZero() {
		d = 0
	}
	m.ValidationDuration.WithLabelValues(string(rec.Status)).Observe(d.Seconds())
	if rec.Classification != "" {
		m.Classifications.WithLabelValues(string(rec.Classification)).Inc()
	}
}

// hub.Observer

func (m *Metrics) ObserveDelivery(delivered, failed int) {
	m.HubDelivered.WithLabelValues("ok").Add(float64(delivered))
	m.HubDelivered.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) ObserveDrop() {
	m.HubDropped.Inc()
}

func (m *Metrics) ObserveConnections(n int) {
	m.HubConnections.Set(float64(n))
}

// SampleEvery периодически снимает "медленные" показатели: пул и буфер журнала.
func (m *Metrics) SampleEvery(ctx context.Context, interval time.Duration, pool func() domain.PoolStats, journalLen func() int) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if pool != nil {
				m.ObservePool(pool())
			}
			if journalLen != nil {
				m.JournalBufferFill.Set(float64(journalLen()))
			}
		}
	}
}
