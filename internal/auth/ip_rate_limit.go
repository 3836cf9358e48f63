package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"flowers-serverless/internal/observability"
)

const ipLimiterTimeout = 2 * time.Second

type Counter interface {
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// IPRateLimiter caps auth requests per client IP with a fixed window counter
// in the shared TTL store, so every instance sees the same totals.
type IPRateLimiter struct {
	counter Counter
	maxHits int
	window  time.Duration
	now     func() time.Time
	logger  *observability.Logger

	trustProxy bool
}

func NewIPRateLimiter(counter Counter, maxHits int, window time.Duration, logger *observability.Logger) *IPRateLimiter {
	if maxHits <= 0 {
		maxHits = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &IPRateLimiter{
		counter: counter,
		maxHits: maxHits,
		window:  window,
		now:     time.Now,
		logger:  logger,
	}
}

func (l *IPRateLimiter) WithClock(now func() time.Time) *IPRateLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

// WithTrustedProxy keys requests on the last X-Forwarded-For hop instead of
// the connection address. Enable it only behind a proxy that sets the header.
func (l *IPRateLimiter) WithTrustedProxy(trust bool) *IPRateLimiter {
	l.trustProxy = trust
	return l
}

func (l *IPRateLimiter) clientIP(r *http.Request) string {
	if l.trustProxy {
		if ip := observability.ForwardedIP(r); ip != "" {
			return ip
		}
	}
	return observability.RemoteIP(r)
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := l.Allow(r.Context(), l.clientIP(r))
		if err == nil {
			next.ServeHTTP(w, r)
			return
		}

		var limited ErrRateLimited
		if errors.As(err, &limited) {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limited.RetryAfter)))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		l.logger.Error("ip_rate_limit_unavailable", map[string]any{"error": err.Error()})
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	})
}

// Allow counts one request for ip and returns ErrRateLimited once the
// current window is exhausted. Store failures are returned as is.
func (l *IPRateLimiter) Allow(ctx context.Context, ip string) error {
	now := l.now().UTC()
	windowStart := now.Truncate(l.window)
	key := "ip_rate:" + ip + ":" + strconv.FormatInt(windowStart.Unix(), 10)

	ctx, cancel := context.WithTimeout(ctx, ipLimiterTimeout)
	defer cancel()

	hits, err := l.counter.Increment(ctx, key, l.window)
	if err != nil {
		return err
	}
	if hits > int64(l.maxHits) {
		return ErrRateLimited{RetryAfter: windowStart.Add(l.window).Sub(now)}
	}

	return nil
}
