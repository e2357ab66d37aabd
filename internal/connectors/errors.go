package connectors

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ThrottleError — апстрим просит подождать (429/503 с Retry-After).
// Слой надежности использует RetryAfter как задержку перед следующей попыткой.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error {
	return e.Cause
}

// parseRetryAfter понимает обе формы заголовка: секунды и HTTP-дату.
func parseRetryAfter(v string, now time.Time, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}
