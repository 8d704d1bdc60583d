package httpapi

import (
	"context"
	"log"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/ulule/limiter/v3"
	limitstore "github.com/ulule/limiter/v3/drivers/store/memory"
)

// attemptLimiter counts attempts per key in a fixed window.
type attemptLimiter struct {
	limiter *limiter.Limiter
}

func newAttemptLimiter(max int64, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{
		limiter: limiter.New(limitstore.NewStore(), limiter.Rate{Period: window, Limit: max}),
	}
}

// Allow records one attempt for key and reports whether it is within the limit.
// A store failure lets the attempt through.
func (l *attemptLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil {
		return true
	}
	res, err := l.limiter.Get(ctx, key)
	if err != nil {
		log.Printf("[httpapi] WARN: rate limiter unavailable for %s: %v", key, err)
		return true
	}
	return !res.Reached
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}
