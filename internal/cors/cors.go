// Package cors computes Cross-Origin Resource Sharing response headers.
//
// The rate limiter uses Apply to decorate 429 rejections so browser
// clients can actually read the quota headers; API routes can use
// Handler for full preflight support.
package cors

import (
	"net/http"
	"strconv"
	"strings"
)

// DefaultExposedHeaders is always included in Access-Control-Expose-Headers.
// X-Request-Id is set on every response by the request ID middleware, so
// browser clients should be able to read it back.
var DefaultExposedHeaders = []string{"X-Request-Id"}

var defaultAllowedMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost,
	http.MethodPut, http.MethodPatch, http.MethodDelete,
}

// Policy declares what cross-origin access is allowed. The zero value is
// not useful; start from Default().
type Policy struct {
	// AllowedOrigins matched exactly, or the single entry "*" for any origin.
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string

	// ExposedHeaders is merged with DefaultExposedHeaders on every Apply.
	ExposedHeaders []string

	AllowCredentials bool

	// MaxAge in seconds for preflight caching, 0 omits the header.
	MaxAge int
}

// Default returns a permissive policy: any origin, common methods, no
// credentials.
func Default() *Policy {
	return &Policy{
		AllowedOrigins: []string{"*"},
		AllowedMethods: defaultAllowedMethods,
	}
}

// WithExposedHeaders returns a copy of p with names merged into its
// exposed-header list, preserving order and dropping duplicates.
func (p *Policy) WithExposedHeaders(names ...string) *Policy {
	out := *p
	out.ExposedHeaders = mergeHeaderNames(p.ExposedHeaders, names)
	return &out
}

// originAllowed reports whether origin matches the policy. An empty
// configured list behaves like "*" so a zero-ish policy fails open for
// decoration purposes (rejection responses, not resource protection).
func (p *Policy) originAllowed(origin string) (value string, ok bool) {
	if len(p.AllowedOrigins) == 0 {
		return "*", true
	}
	for _, o := range p.AllowedOrigins {
		if o == "*" {
			return "*", true
		}
		if strings.EqualFold(o, origin) {
			return origin, true
		}
	}
	return "", false
}

// Apply decorates h with CORS headers for the given request. Exposed
// headers are always the default set merged with the policy's list. No-op
// when the request carries no Origin or the origin is not allowed.
func (p *Policy) Apply(h http.Header, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	value, ok := p.originAllowed(origin)
	if !ok {
		return
	}

	h.Set("Access-Control-Allow-Origin", value)
	if value != "*" {
		h.Add("Vary", "Origin")
	}
	if p.AllowCredentials {
		h.Set("Access-Control-Allow-Credentials", "true")
	}
	if exposed := mergeHeaderNames(DefaultExposedHeaders, p.ExposedHeaders); len(exposed) > 0 {
		h.Set("Access-Control-Expose-Headers", strings.Join(exposed, ", "))
	}
}

// Handler is full CORS middleware: decorates normal responses and
// short-circuits OPTIONS preflights.
func (p *Policy) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			value, ok := p.originAllowed(origin)
			if !ok {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", value)
			if value != "*" {
				h.Add("Vary", "Origin")
			}
			methods := p.AllowedMethods
			if len(methods) == 0 {
				methods = defaultAllowedMethods
			}
			h.Set("Access-Control-Allow-Methods", strings.Join(methods, ", "))
			if len(p.AllowedHeaders) > 0 {
				h.Set("Access-Control-Allow-Headers", strings.Join(p.AllowedHeaders, ", "))
			}
			if p.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if p.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(p.MaxAge))
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		p.Apply(w.Header(), r)
		next.ServeHTTP(w, r)
	})
}

// mergeHeaderNames appends extra names to base, case-insensitively
// deduplicated, original order preserved.
func mergeHeaderNames(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]bool, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, name := range list {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			key := strings.ToLower(name)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, name)
		}
	}
	return out
}
