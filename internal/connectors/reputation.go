// Package connectors — клиенты внешних систем, которые зовет шлюз.
package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/xela07ax/trustgate/internal/risk"
)

var ErrUpstreamUnavailable = errors.New("reputation service unavailable")

const defaultRetryAfter = time.Second

// HTTPReputation — тонкий клиент внешнего сервиса репутации: GET <url>?subject=<s>.
// Надежность (лимит, предохранитель, повторы) навешивается снаружи.
type HTTPReputation struct {
	baseURL string
	client  *http.Client
	now     func() time.Time
}

func NewHTTPReputation(baseURL string, client *http.Client) *HTTPReputation {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPReputation{baseURL: baseURL, client: client, now: time.Now}
}

func (c *HTTPReputation) Lookup(ctx context.Context, subject string) (risk.Reputation, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return risk.Reputation{}, fmt.Errorf("bad reputation url: %w", err)
	}
	q := u.Query()
	q.Set("subject", subject)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return risk.Reputation{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return risk.Reputation{}, fmt.Errorf("reputation call failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return risk.Reputation{}, &ThrottleError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now(), defaultRetryAfter),
			Cause:      fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode),
		}
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return risk.Reputation{}, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var rep risk.Reputation
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&rep); err != nil {
		return risk.Reputation{}, fmt.Errorf("failed to decode reputation: %w", err)
	}
	return rep, nil
}
