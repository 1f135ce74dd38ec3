package daemon

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	clientIdleTTL   = 10 * time.Minute
	maxTrackedPeers = 4096
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// throttle applies a token bucket per client address.
type throttle struct {
	rps   rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

func newThrottle(rps float64, burst int) *throttle {
	if burst <= 0 {
		burst = 1
	}
	return &throttle{
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

func (t *throttle) allow(client string) bool {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.clients[client]
	if !ok {
		if len(t.clients) >= maxTrackedPeers {
			t.pruneLocked(now)
		}
		entry = &clientLimiter{limiter: rate.NewLimiter(t.rps, t.burst)}
		t.clients[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (t *throttle) pruneLocked(now time.Time) {
	for key, entry := range t.clients {
		if now.Sub(entry.lastSeen) > clientIdleTTL {
			delete(t.clients, key)
		}
	}
}

func (t *throttle) middleware(next http.Handler) http.Handler {
	if t == nil || t.rps <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !t.allow(clientKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"kind":"Throttled","message":"Too many requests. Slow down and retry shortly."}}` + "\n"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
