package ratelimit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/keithlinneman/edgekit/internal/httpmw"
	"github.com/keithlinneman/edgekit/internal/respond"
)

// Middleware rejects requests over the client's quota with 429. The
// client identifier comes from the ClientIP middleware, falling back to
// the limiter's placeholder for unresolvable requests. Retry-After and
// X-Max-Requests are only set when a window is configured; CORS
// decoration of the rejection happens when a policy was given.
func (l *QuotaLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := l.Admit(httpmw.ClientIPFromContext(r.Context()))
		if d.Allowed {
			next.ServeHTTP(w, r)
			return
		}

		if d.Window > 0 {
			w.Header().Set(HeaderRetryAfter, strconv.Itoa(int(d.Window/time.Second)))
			w.Header().Set(HeaderMaxRequests, strconv.Itoa(d.Limit))
		}
		if l.policy != nil {
			l.policy.WithExposedHeaders(HeaderMaxRequests).Apply(w.Header(), r)
		}

		respond.Error(w, http.StatusTooManyRequests, "too many requests")
	})
}
