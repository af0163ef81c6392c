package httpmw

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// UnknownClientIP is the placeholder identifier used when no client
// address can be resolved from a request. All such requests share one
// rate-limit bucket; that is accepted behavior, not a bug.
const UnknownClientIP = "0.0.0.0"

// ClientIPOptions configures client IP extraction behavior.
type ClientIPOptions struct {
	// TrustedHops is the number of trusted reverse proxies between the client
	// and this server. 0 = no proxies (X-Forwarded-For ignored), 1 = single
	// load balancer (rightmost XFF entry), 2 = CDN + LB (second from end), etc.
	TrustedHops int
}

// ClientIP extracts the client IP address from the request and stores it in
// the context. Uses default options (TrustedHops=0: X-Forwarded-For ignored).
func ClientIP(next http.Handler) http.Handler {
	return ClientIPWithOptions(ClientIPOptions{})(next)
}

// ClientIPWithOptions returns middleware that extracts the client IP using
// the given options.
func ClientIPWithOptions(opts ClientIPOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractRealClientAddr(r, opts.TrustedHops)
			ctx := WithClientIP(r.Context(), ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractRealClientAddr resolves the requester's address. X-Forwarded-For
// is only honored when the direct peer is a private address AND trusted
// hops are configured; otherwise the forwarded headers are stripped so no
// downstream middleware accidentally trusts them.
func extractRealClientAddr(r *http.Request, trustedHops int) string {
	// should never happen
	if r.RemoteAddr == "" {
		return UnknownClientIP
	}

	clientAddr, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// malformed remote addr, return r.RemoteAddr
		return r.RemoteAddr
	}

	ip := net.ParseIP(clientAddr)
	if ip == nil {
		return UnknownClientIP
	}

	if !ip.IsPrivate() || trustedHops <= 0 {
		// either not from our infrastructure or no proxies configured:
		// dont trust forwarded headers
		r.Header.Del("X-Forwarded-For")
		r.Header.Del("X-Forwarded-Proto")
		return clientAddr
	}

	// trustedHops=1 takes the right-most X-Forwarded-For entry (single LB in
	// front). trustedHops > 1 selects the Nth-from-end entry (CDN -> LB ->
	// app = 2). Fewer entries than expected proxies means misconfiguration
	// or manipulation: fail closed, strip headers, use RemoteAddr.
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		parts := strings.Split(xf, ",")
		idx := len(parts) - trustedHops
		if idx < 0 {
			r.Header.Del("X-Forwarded-For")
			r.Header.Del("X-Forwarded-Proto")
			return clientAddr
		}
		if candidate := strings.TrimSpace(parts[idx]); net.ParseIP(candidate) != nil {
			clientAddr = candidate
		}
	}

	return clientAddr
}

// ClientIPFromContext returns the resolved client IP, or "" if the
// ClientIP middleware has not run.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	if ip == "" {
		return ctx
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}
