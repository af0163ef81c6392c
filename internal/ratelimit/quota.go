package ratelimit

import (
	"sync"
	"time"

	"github.com/keithlinneman/edgekit/internal/cors"
	"github.com/keithlinneman/edgekit/internal/httpmw"
)

// Response header names for rejected requests.
const (
	HeaderRetryAfter  = "Retry-After"
	HeaderMaxRequests = "X-Max-Requests"
)

// evictionTimer is what the quota limiter needs from a timer: the
// ability to cancel it. Stop reports whether the timer was still
// pending, matching time.Timer.
type evictionTimer interface {
	Stop() bool
}

type realTimer struct{ t *time.Timer }

func (r realTimer) Stop() bool { return r.t.Stop() }

// Decision is the outcome of a single Admit call.
type Decision struct {
	Allowed  bool
	ClientID string

	// Count is the client's tally after this call's increment, 0 when
	// limiting is disabled.
	Count  int
	Limit  int
	Window time.Duration
}

// QuotaLimiter counts requests per client within a fixed window and
// rejects calls beyond the quota. All state is owned by the instance;
// create one per listener (or per test) with NewQuota.
type QuotaLimiter struct {
	mu     sync.Mutex
	counts map[string]int

	// timer is the single shared eviction timer. At most one is pending
	// per limiter; arming a new window stops the previous timer no matter
	// which client it targeted. Guarded by mu together with counts.
	timer evictionTimer

	limit    int
	window   time.Duration
	fallback string

	policy *cors.Policy

	// onQuotaReached fires once per rejected call, after the increment
	// and compare, with a copied view of the current counts.
	onQuotaReached func(clientID string, counts map[string]int)

	// onDenied fires on every rejected call, used for counters.
	onDenied func(clientID string)

	// newTimer exists so tests can drive eviction deterministically.
	newTimer func(d time.Duration, fn func()) evictionTimer
}

type QuotaOption func(*QuotaLimiter)

// WithQuota sets the max admitted requests per client per window.
// Zero or negative means unlimited: Admit allows everything and touches
// no state.
func WithQuota(max int) QuotaOption {
	return func(l *QuotaLimiter) { l.limit = max }
}

// WithWindow sets the eviction window. Zero disables timed eviction
// entirely; counting still happens and rejections omit the retry hints.
func WithWindow(d time.Duration) QuotaOption {
	return func(l *QuotaLimiter) { l.window = d }
}

// WithFallbackClientID overrides the placeholder used when a request
// carries no resolvable client identifier.
func WithFallbackClientID(id string) QuotaOption {
	return func(l *QuotaLimiter) { l.fallback = id }
}

// WithCORS makes rejection responses CORS-readable: the policy is
// applied to the 429 with X-Max-Requests merged into its exposed-header
// list. Admitted requests are not decorated here.
func WithCORS(p *cors.Policy) QuotaOption {
	return func(l *QuotaLimiter) { l.policy = p }
}

// WithOnQuotaReached sets a callback invoked exactly once per rejected
// call with the offending client and a read-only copy of the counts.
func WithOnQuotaReached(fn func(clientID string, counts map[string]int)) QuotaOption {
	return func(l *QuotaLimiter) { l.onQuotaReached = fn }
}

// WithOnDenied sets a callback for every rejected call, used for
// incrementing prometheus counters.
func WithOnDenied(fn func(clientID string)) QuotaOption {
	return func(l *QuotaLimiter) { l.onDenied = fn }
}

// NewQuota creates a QuotaLimiter. With no options it is unlimited.
func NewQuota(opts ...QuotaOption) *QuotaLimiter {
	l := &QuotaLimiter{
		counts:   make(map[string]int),
		fallback: httpmw.UnknownClientIP,
		newTimer: func(d time.Duration, fn func()) evictionTimer {
			return realTimer{t: time.AfterFunc(d, fn)}
		},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Admit records one request for clientID and decides whether it may
// proceed. Every call within a configured quota increments the client's
// count, admitted or not; the decision is a strict count <= limit check.
// Rejection is a normal outcome, not an error.
func (l *QuotaLimiter) Admit(clientID string) Decision {
	if l.limit <= 0 {
		return Decision{Allowed: true, ClientID: clientID, Limit: l.limit, Window: l.window}
	}

	if clientID == "" {
		clientID = l.fallback
	}

	l.mu.Lock()

	if l.window > 0 {
		// cancel-and-rearm: the previous timer is dropped even when it
		// targeted a different client (see package doc)
		if l.timer != nil {
			l.timer.Stop()
		}
		id := clientID
		l.timer = l.newTimer(l.window, func() { l.evict(id) })
	}

	l.counts[clientID]++
	n := l.counts[clientID]
	allowed := n <= l.limit

	var snapshot map[string]int
	if !allowed && l.onQuotaReached != nil {
		snapshot = make(map[string]int, len(l.counts))
		for k, v := range l.counts {
			snapshot[k] = v
		}
	}

	l.mu.Unlock()

	// callbacks run unlocked, they may do slow work
	if !allowed {
		if l.onQuotaReached != nil {
			l.onQuotaReached(clientID, snapshot)
		}
		if l.onDenied != nil {
			l.onDenied(clientID)
		}
	}

	return Decision{
		Allowed:  allowed,
		ClientID: clientID,
		Count:    n,
		Limit:    l.limit,
		Window:   l.window,
	}
}

func (l *QuotaLimiter) evict(clientID string) {
	l.mu.Lock()
	delete(l.counts, clientID)
	l.mu.Unlock()
}

// TrackedClients reports how many clients currently have live entries,
// for gauges and staleness monitoring.
func (l *QuotaLimiter) TrackedClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.counts)
}
