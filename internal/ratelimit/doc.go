// Package ratelimit provides per-client request limiting for the public
// listener.
//
// Two limiters live here:
//
// QuotaLimiter is a fixed-window request counter: each client gets at
// most N requests per window, every call counts (admitted or not), and
// the 429 rejection carries Retry-After and X-Max-Requests hints.
// Eviction uses a single shared timer per limiter: arming the window for
// one client cancels the timer armed for the previous one, so only the
// most recently seen client's entry is guaranteed timed cleanup. Entries
// for clients that go quiet while others stay active persist until the
// timer happens to target them again. This is a known staleness risk for
// abandoned clients, kept because it is observable behavior that callers
// and tests depend on; do not quietly replace it with per-key timers.
//
// Throttle is a per-client token bucket (golang.org/x/time/rate) with
// TTL-based sweeping, for smoothing bursts in front of the quota
// limiter.
//
// Both are single-instance and in-memory. Neither protects against
// distributed attacks and neither shares state across processes.
package ratelimit
