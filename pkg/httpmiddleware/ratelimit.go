package httpmiddleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	// Max is the number of requests allowed per window. Zero disables limiting.
	Max    int
	Window time.Duration
	// Clients bounds the number of tracked clients; the least recently seen
	// client is forgotten first. Defaults to 10000.
	Clients int
	// KeyFunc identifies the client. Defaults to ClientIP.
	KeyFunc func(*http.Request) string

	now func() time.Time
}

// window holds the counts of the current and previous fixed windows. The
// effective count weights the previous window by its overlap with the
// sliding window ending now.
type window struct {
	start time.Time
	prev  float64
	curr  float64
}

type limiter struct {
	max     float64
	size    time.Duration
	mu      sync.Mutex
	clients *lru.Cache[string, *window]
}

func (l *limiter) take(key string, now time.Time) (remaining int, reset time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, found := l.clients.Get(key)
	if !found {
		w = &window{start: now.Truncate(l.size)}
		l.clients.Add(key, w)
	}
	if elapsed := now.Sub(w.start); elapsed >= l.size {
		w.prev = w.curr
		if elapsed >= 2*l.size {
			w.prev = 0
		}
		w.curr = 0
		w.start = now.Truncate(l.size)
	}

	overlap := 1 - float64(now.Sub(w.start))/float64(l.size)
	count := w.prev*max(overlap, 0) + w.curr
	reset = w.start.Add(l.size)
	if count >= l.max {
		return 0, reset, false
	}
	w.curr++
	return max(int(l.max-count-1), 0), reset, true
}

// RateLimit rejects clients exceeding cfg.Max requests per cfg.Window with
// 429. Every response carries X-RateLimit-* headers.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 || cfg.Window <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.Clients <= 0 {
		cfg.Clients = 10000
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	clients, err := lru.New[string, *window](cfg.Clients)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	l := &limiter{max: float64(cfg.Max), size: cfg.Window, clients: clients}
	limit := strconv.Itoa(cfg.Max)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := cfg.now()
			remaining, reset, ok := l.take(cfg.KeyFunc(r), now)

			h := w.Header()
			h.Set("X-RateLimit-Limit", limit)
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
			if !ok {
				retry := math.Ceil(max(reset.Sub(now), 0).Seconds())
				h.Set("Retry-After", strconv.Itoa(int(retry)))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, then X-Real-IP, then the
// host of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
