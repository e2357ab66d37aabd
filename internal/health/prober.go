package health

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/xela07ax/trustgate/internal/domain"
)

// Prober выполняет легкое рукопожатие с ресурсом и возвращает задержку.
type Prober interface {
	Probe(ctx context.Context, res domain.PooledResource) (time.Duration, error)
}

// TCPProber — проверка доступности порта.
type TCPProber struct {
	Dialer net.Dialer
}

func (p *TCPProber) Probe(ctx context.Context, res domain.PooledResource) (time.Duration, error) {
	start := time.Now()
	conn, err := p.Dialer.DialContext(ctx, "tcp", res.ID())
	if err != nil {
		return 0, err
	}
	_ = conn.Close()
	return time.Since(start), nil
}

// SOCKS5Prober проходит SOCKS5-рукопожатие и открывает туннель до Target.
type SOCKS5Prober struct {
	Target string
}

func (p *SOCKS5Prober) Probe(ctx context.Context, res domain.PooledResource) (time.Duration, error) {
	var auth *proxy.Auth
	if res.Username != "" {
		auth = &proxy.Auth{User: res.Username, Password: res.Password}
	}
	d, err := proxy.SOCKS5("tcp", res.ID(), auth, &net.Dialer{})
	if err != nil {
		return 0, fmt.Errorf("socks5 dialer: %w", err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return 0, fmt.Errorf("socks5 dialer does not support context")
	}

	start := time.Now()
	conn, err := cd.DialContext(ctx, "tcp", p.Target)
	if err != nil {
		return 0, err
	}
	_ = conn.Close()
	return time.Since(start), nil
}

// HTTPConnectProber отправляет CONNECT и ждет 2xx от прокси.
type HTTPConnectProber struct {
	Target string
	Dialer net.Dialer
}

func (p *HTTPConnectProber) Probe(ctx context.Context, res domain.PooledResource) (time.Duration, error) {
	start := time.Now()
	conn, err := p.Dialer.DialContext(ctx, "tcp", res.ID())
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: p.Target},
		Host:   p.Target,
		Header: make(http.Header),
	}
	if res.Username != "" {
		req.SetBasicAuth(res.Username, res.Password)
		req.Header.Set("Proxy-Authorization", req.Header.Get("Authorization"))
		req.Header.Del("Authorization")
	}
	if err := req.Write(conn); err != nil {
		return 0, fmt.Errorf("write connect: %w", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		return 0, fmt.Errorf("read connect response: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("proxy answered %s", resp.Status)
	}
	return time.Since(start), nil
}

// ProtocolProber выбирает проверку по протоколу ресурса.
type ProtocolProber struct {
	SOCKS5 Prober
	HTTP   Prober
	TCP    Prober
}

func NewProtocolProber(target string) *ProtocolProber {
	return &ProtocolProber{
		SOCKS5: &SOCKS5Prober{Target: target},
		HTTP:   &HTTPConnectProber{Target: target},
		TCP:    &TCPProber{},
	}
}

func (p *ProtocolProber) Probe(ctx context.Context, res domain.PooledResource) (time.Duration, error) {
	switch strings.ToLower(res.Protocol) {
	case domain.ProtocolSOCKS5, "socks":
		return p.SOCKS5.Probe(ctx, res)
	case domain.ProtocolHTTP, "https":
		return p.HTTP.Probe(ctx, res)
	default:
		return p.TCP.Probe(ctx, res)
	}
}
