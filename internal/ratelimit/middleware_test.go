package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/keithlinneman/edgekit/internal/cors"
	"github.com/keithlinneman/edgekit/internal/httpmw"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func doRequest(t *testing.T, h http.Handler, clientIP, origin string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if clientIP != "" {
		req = req.WithContext(httpmw.WithClientIP(req.Context(), clientIP))
	}
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestQuotaMiddleware_AllowsThenRejects(t *testing.T) {
	l, _ := newTestQuota(WithQuota(2), WithWindow(time.Minute))
	h := l.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		if rr := doRequest(t, h, "10.0.0.1", ""); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rr.Code)
		}
	}

	rr := doRequest(t, h, "10.0.0.1", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "too many requests") {
		t.Fatalf("body = %q, want a too many requests error", rr.Body.String())
	}
}

func TestQuotaMiddleware_RejectionHeaders(t *testing.T) {
	l, _ := newTestQuota(WithQuota(1), WithWindow(time.Minute))
	h := l.Middleware(okHandler())

	doRequest(t, h, "10.0.0.1", "")
	rr := doRequest(t, h, "10.0.0.1", "")

	if got := rr.Header().Get(HeaderRetryAfter); got != "60" {
		t.Errorf("Retry-After = %q, want %q", got, "60")
	}
	if got := rr.Header().Get(HeaderMaxRequests); got != "1" {
		t.Errorf("X-Max-Requests = %q, want %q", got, "1")
	}
}

func TestQuotaMiddleware_NoWindowOmitsHeaders(t *testing.T) {
	l, _ := newTestQuota(WithQuota(1))
	h := l.Middleware(okHandler())

	doRequest(t, h, "10.0.0.1", "")
	rr := doRequest(t, h, "10.0.0.1", "")

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rr.Code)
	}
	if got := rr.Header().Get(HeaderRetryAfter); got != "" {
		t.Errorf("Retry-After = %q, want unset without a window", got)
	}
	if got := rr.Header().Get(HeaderMaxRequests); got != "" {
		t.Errorf("X-Max-Requests = %q, want unset without a window", got)
	}
}

func TestQuotaMiddleware_UnresolvableClientUsesFallback(t *testing.T) {
	l, _ := newTestQuota(WithQuota(1), WithWindow(time.Minute))
	h := l.Middleware(okHandler())

	// no client ip in context, both requests pool under the placeholder
	doRequest(t, h, "", "")
	rr := doRequest(t, h, "", "")

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 (anonymous requests share one count)", rr.Code)
	}
}

func TestQuotaMiddleware_CORSDecoratesRejection(t *testing.T) {
	l, _ := newTestQuota(
		WithQuota(1),
		WithWindow(time.Minute),
		WithCORS(cors.Default()),
	)
	h := l.Middleware(okHandler())

	doRequest(t, h, "10.0.0.1", "https://example.com")
	rr := doRequest(t, h, "10.0.0.1", "https://example.com")

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got == "" {
		t.Fatal("rejection should carry Access-Control-Allow-Origin")
	}

	expose := rr.Header().Get("Access-Control-Expose-Headers")
	if !strings.Contains(expose, HeaderMaxRequests) {
		t.Errorf("Expose-Headers = %q, want it to include %s", expose, HeaderMaxRequests)
	}
	// the default exposed headers are merged in, not replaced
	if !strings.Contains(expose, "X-Request-Id") {
		t.Errorf("Expose-Headers = %q, want it to keep X-Request-Id", expose)
	}
}

func TestQuotaMiddleware_NoCORSWithoutPolicy(t *testing.T) {
	l, _ := newTestQuota(WithQuota(1), WithWindow(time.Minute))
	h := l.Middleware(okHandler())

	doRequest(t, h, "10.0.0.1", "https://example.com")
	rr := doRequest(t, h, "10.0.0.1", "https://example.com")

	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want unset without a policy", got)
	}
}
