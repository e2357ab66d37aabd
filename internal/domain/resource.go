package domain

import (
	"net"
	"strconv"
	"strings"
	"time"
)

// Протоколы апстрим-ресурсов.
const (
	ProtocolHTTP   = "http"
	ProtocolSOCKS5 = "socks5"
	ProtocolTCP    = "tcp"
)

// PooledResource: арендуемый апстрим (например, прокси). Ключ: host:port.
type PooledResource struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Protocol string `json:"protocol"`
	Region   string `json:"region"`
	Username string `json:"-"`
	Password string `json:"-"`

	// Runtime-состояние
	Active        bool      `json:"active"`
	Healthy       bool      `json:"healthy"`
	FailureCount  int       `json:"failure_count"`
	ActiveLeases  int       `json:"active_leases"`
	MaxSessions   int       `json:"max_sessions"`
	LastUsed      time.Time `json:"last_used"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	LastCheckedAt time.Time `json:"last_checked_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// ID: уникальный ключ ресурса.
func (r PooledResource) ID() string {
	return ResourceID(r.Host, r.Port)
}

func ResourceID(host string, port int) string {
	return net.JoinHostPort(strings.ToLower(strings.TrimSpace(host)), strconv.Itoa(port))
}

// ParseResourceID разбирает "host:port". ok=false для некорректного ключа.
func ParseResourceID(id string) (host string, port int, ok bool) {
	h, p, err := net.SplitHostPort(id)
	if err != nil {
		return "", 0, false
	}
	port, err = strconv.Atoi(p)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, false
	}
	return h, port, true
}

// LeaseFilter: необязательные условия выбора ресурса.
type LeaseFilter struct {
	Region   string `json:"region,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

// Match проверяет ресурс на соответствие фильтру. Пустые поля не ограничивают выбор.
func (f LeaseFilter) Match(r PooledResource) bool {
	if f.Region != "" && !strings.EqualFold(f.Region, r.Region) {
		return false
	}
	if f.Protocol != "" && !strings.EqualFold(f.Protocol, r.Protocol) {
		return false
	}
	return true
}

// Lease: привязка клиента к одному ресурсу.
type Lease struct {
	ClientID   string    `json:"client_id"`
	ResourceID string    `json:"resource_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// ProbeResult: итог одной проверки живости ресурса.
type ProbeResult struct {
	ResourceID string        `json:"resource_id"`
	Healthy    bool          `json:"healthy"`
	Latency    time.Duration `json:"latency"`
	Error      string        `json:"error,omitempty"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// PoolStats: сводка по пулу для метрик и консоли.
type PoolStats struct {
	Total        int `json:"total"`
	Active       int `json:"active"`
	Healthy      int `json:"healthy"`
	Eligible     int `json:"eligible"`
	ActiveLeases int `json:"active_leases"`
}
