package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/keithlinneman/edgekit/internal/httpmw"
	"github.com/keithlinneman/edgekit/internal/respond"
)

// client tracks a single client's token bucket and last activity.
type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged tracks whether we already emitted the first-denial log.
	// Resets when the entry is evicted and re-created.
	logged bool
}

// Throttle smooths per-client request bursts with token buckets. Unlike
// QuotaLimiter it refills continuously rather than counting against a
// fixed window, and evicts idle entries on a TTL sweep.
//
// In-memory only, not shared between instances.
type Throttle struct {
	mu      sync.Mutex
	clients map[string]*client

	// rate controls: requests per second and burst ceiling
	perSecond rate.Limit
	burst     int

	// ttl controls how long an idle client stays in the map before the
	// sweep evicts it
	ttl time.Duration

	// maxClients caps the tracked-client map. When full, unknown clients
	// are rejected outright rather than growing the map without bound.
	maxClients int

	// onFirstDenied fires once per tracked client on their first denial,
	// used for one-log-entry-per-offender logging
	onFirstDenied func(clientID string)

	// onDenied fires on every denial, used for metrics counters
	onDenied func(clientID string)

	// onCapacity fires when a request is rejected because the client map
	// is full
	onCapacity func(clientID string)
}

type ThrottleOption func(*Throttle)

// WithRate sets the bucket size and the refill rate. burst is the total
// capacity of the bucket, perSecond is how many tokens are added each
// second. WithRate(10, 50) allows 50 requests at once, then refills at
// 10 requests per second.
func WithRate(perSecond float64, burst int) ThrottleOption {
	return func(t *Throttle) {
		t.perSecond = rate.Limit(perSecond)
		t.burst = burst
	}
}

// WithTTL controls how long an idle client stays in the map before the
// sweep evicts it.
func WithTTL(d time.Duration) ThrottleOption {
	return func(t *Throttle) {
		t.ttl = d
	}
}

// WithMaxClients caps how many clients the throttle tracks at once.
// Zero or negative means unbounded.
func WithMaxClients(n int) ThrottleOption {
	return func(t *Throttle) {
		t.maxClients = n
	}
}

// WithOnFirstDenied sets a callback for the first denial per client.
// Intentionally separate from WithThrottleOnDenied so callers can log
// once but count every denial.
func WithOnFirstDenied(fn func(clientID string)) ThrottleOption {
	return func(t *Throttle) {
		t.onFirstDenied = fn
	}
}

// WithThrottleOnDenied sets a callback for every denied request.
func WithThrottleOnDenied(fn func(clientID string)) ThrottleOption {
	return func(t *Throttle) {
		t.onDenied = fn
	}
}

// WithOnCapacity sets a callback for requests rejected because the
// client map hit its WithMaxClients cap.
func WithOnCapacity(fn func(clientID string)) ThrottleOption {
	return func(t *Throttle) {
		t.onCapacity = fn
	}
}

// NewThrottle creates a Throttle and starts its background sweep
// goroutine. The sweep stops when ctx is cancelled.
func NewThrottle(ctx context.Context, opts ...ThrottleOption) *Throttle {
	t := &Throttle{
		clients:   make(map[string]*client),
		perSecond: 10,
		burst:     30,
		ttl:       5 * time.Minute,
	}
	for _, o := range opts {
		o(t)
	}
	go t.sweep(ctx)
	return t
}

// allow reports whether clientID is within its rate limit, creating the
// bucket on first sight. Hooks run outside the lock.
func (t *Throttle) allow(clientID string) bool {
	t.mu.Lock()
	c, exists := t.clients[clientID]
	if !exists {
		if t.maxClients > 0 && len(t.clients) >= t.maxClients {
			t.mu.Unlock()
			if t.onCapacity != nil {
				t.onCapacity(clientID)
			}
			if t.onDenied != nil {
				t.onDenied(clientID)
			}
			return false
		}
		c = &client{
			limiter: rate.NewLimiter(t.perSecond, t.burst),
		}
		t.clients[clientID] = c
	}
	c.lastSeen = time.Now()
	allowed := c.limiter.Allow()

	if !allowed && !c.logged {
		c.logged = true
		// release the lock before calling hooks, they may do slow work
		t.mu.Unlock()
		if t.onFirstDenied != nil {
			t.onFirstDenied(clientID)
		}
		if t.onDenied != nil {
			t.onDenied(clientID)
		}
		return false
	}

	t.mu.Unlock()

	if !allowed && t.onDenied != nil {
		t.onDenied(clientID)
	}

	return allowed
}

// sweep periodically evicts clients idle longer than the TTL. Runs
// every TTL/2 to avoid holding stale entries much longer than intended.
func (t *Throttle) sweep(ctx context.Context) {
	ticker := time.NewTicker(t.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.mu.Lock()
			for id, c := range t.clients {
				if now.Sub(c.lastSeen) > t.ttl {
					delete(t.clients, id)
				}
			}
			t.mu.Unlock()
		}
	}
}

// TrackedClients reports how many clients currently hold a bucket.
func (t *Throttle) TrackedClients() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.clients)
}

// Middleware rejects requests over the per-client rate with 429.
// Intentionally does not include detail about limits, remaining budget,
// or when the bucket refills.
func (t *Throttle) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := httpmw.ClientIPFromContext(r.Context())

		if !t.allow(clientID) {
			w.Header().Set(HeaderRetryAfter, "30")
			respond.Error(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}
