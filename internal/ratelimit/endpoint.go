package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Endpoint budgets calls per named upstream endpoint. It guards outbound
// Discord API calls made on behalf of users.
type Endpoint struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func NewEndpoint(max int, window time.Duration) *Endpoint {
	return &Endpoint{
		max:      max,
		window:   window,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether another call to endpoint fits the budget.
func (e *Endpoint) Allow(endpoint string) bool {
	e.mu.Lock()
	limiter, ok := e.limiters[endpoint]
	if !ok {
		limiter = newBucket(e.max, e.window)
		e.limiters[endpoint] = limiter
	}
	e.mu.Unlock()

	return limiter.AllowN(e.now(), 1)
}
