package ratelimit

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const RetryAfterSeconds = 60

type Config struct {
	PerMinute int
	PerHour   int
}

// Limiter manages per-client request budgets. Every client gets a per-minute
// and a per-hour bucket and must have a token in both.
type Limiter struct {
	config Config

	mu      sync.Mutex
	clients map[string]*clientLimiter

	cleanupInterval time.Duration
	idleTimeout     time.Duration
	lastCleanup     time.Time
	now             func() time.Time
}

type clientLimiter struct {
	minute   *rate.Limiter
	hour     *rate.Limiter
	lastSeen time.Time
}

func New(config Config) *Limiter {
	return &Limiter{
		config:          config,
		clients:         make(map[string]*clientLimiter),
		cleanupInterval: 10 * time.Minute,
		idleTimeout:     2 * time.Hour,
		lastCleanup:     time.Now(),
		now:             time.Now,
	}
}

func (l *Limiter) getLimiter(key string) *clientLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > l.cleanupInterval {
		l.cleanup(now)
	}

	limiter, exists := l.clients[key]
	if exists {
		limiter.lastSeen = now
		return limiter
	}

	limiter = &clientLimiter{
		minute:   newBucket(l.config.PerMinute, time.Minute),
		hour:     newBucket(l.config.PerHour, time.Hour),
		lastSeen: now,
	}
	l.clients[key] = limiter
	return limiter
}

func newBucket(n int, per time.Duration) *rate.Limiter {
	if n <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(per/time.Duration(n)), n)
}

func (l *Limiter) cleanup(now time.Time) {
	cutoff := now.Add(-l.idleTimeout)
	for key, limiter := range l.clients {
		if limiter.lastSeen.Before(cutoff) {
			delete(l.clients, key)
		}
	}
	l.lastCleanup = now
}

// Allow reports whether the client identified by key may make a request now.
func (l *Limiter) Allow(key string) bool {
	limiter := l.getLimiter(key)
	now := l.now()
	hour := limiter.hour.ReserveN(now, 1)
	if !hour.OK() || hour.DelayFrom(now) > 0 {
		hour.CancelAt(now)
		return false
	}
	// A request refused by the minute window must not spend hourly budget.
	minute := limiter.minute.ReserveN(now, 1)
	if !minute.OK() || minute.DelayFrom(now) > 0 {
		minute.CancelAt(now)
		hour.CancelAt(now)
		return false
	}
	return true
}

// KeyFunc identifies the client behind a request.
type KeyFunc func(r *http.Request) string

// ClientIP returns the remote host of the request. Run chi's RealIP first so
// proxy headers are honoured.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Middleware rejects over-budget clients with 429 and a Retry-After header.
func Middleware(l *Limiter, key KeyFunc, logger *zap.Logger) func(http.Handler) http.Handler {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := key(r)
			if !l.Allow(id) {
				logger.Warn("Rate limit exceeded",
					zap.String("client", id),
					zap.String("path", r.URL.Path),
				)
				WriteTooManyRequests(w, "Rate limit exceeded. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteTooManyRequests writes a problem+json 429 response.
func WriteTooManyRequests(w http.ResponseWriter, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":  http.StatusText(http.StatusTooManyRequests),
		"status": http.StatusTooManyRequests,
		"detail": detail,
	})
}
