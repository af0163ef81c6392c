package httpmw

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func resolveIP(t *testing.T, opts ClientIPOptions, remoteAddr, xff string) string {
	t.Helper()
	var got string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ClientIPFromContext(r.Context())
	})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = remoteAddr
	if xff != "" {
		r.Header.Set("X-Forwarded-For", xff)
	}
	ClientIPWithOptions(opts)(inner).ServeHTTP(httptest.NewRecorder(), r)
	return got
}

func TestClientIP_DirectPeer(t *testing.T) {
	got := resolveIP(t, ClientIPOptions{}, "203.0.113.9:51234", "")
	if got != "203.0.113.9" {
		t.Fatalf("ip = %q", got)
	}
}

func TestClientIP_PublicPeerIgnoresXFF(t *testing.T) {
	got := resolveIP(t, ClientIPOptions{TrustedHops: 1}, "203.0.113.9:51234", "198.51.100.7")
	if got != "203.0.113.9" {
		t.Fatalf("public peer must not be trusted for XFF: ip = %q", got)
	}
}

func TestClientIP_ZeroHopsIgnoresXFF(t *testing.T) {
	got := resolveIP(t, ClientIPOptions{}, "10.1.2.3:443", "198.51.100.7")
	if got != "10.1.2.3" {
		t.Fatalf("trustedHops=0 must ignore XFF: ip = %q", got)
	}
}

func TestClientIP_SingleTrustedHop(t *testing.T) {
	got := resolveIP(t, ClientIPOptions{TrustedHops: 1}, "10.1.2.3:443", "198.51.100.7, 203.0.113.50")
	if got != "203.0.113.50" {
		t.Fatalf("rightmost XFF entry expected: ip = %q", got)
	}
}

func TestClientIP_TwoTrustedHops(t *testing.T) {
	got := resolveIP(t, ClientIPOptions{TrustedHops: 2}, "10.1.2.3:443", "198.51.100.7, 203.0.113.50")
	if got != "198.51.100.7" {
		t.Fatalf("second-from-end XFF entry expected: ip = %q", got)
	}
}

func TestClientIP_TooFewXFFEntriesFailsClosed(t *testing.T) {
	got := resolveIP(t, ClientIPOptions{TrustedHops: 3}, "10.1.2.3:443", "203.0.113.50")
	if got != "10.1.2.3" {
		t.Fatalf("fewer XFF entries than hops must fall back to peer: ip = %q", got)
	}
}

func TestClientIP_GarbageXFFEntryKeptOut(t *testing.T) {
	got := resolveIP(t, ClientIPOptions{TrustedHops: 1}, "10.1.2.3:443", "not-an-ip")
	if got != "10.1.2.3" {
		t.Fatalf("unparseable XFF entry must be ignored: ip = %q", got)
	}
}

func TestClientIP_MalformedRemoteAddr(t *testing.T) {
	got := resolveIP(t, ClientIPOptions{}, "garbage", "")
	if got != "garbage" {
		t.Fatalf("ip = %q", got)
	}

	got = resolveIP(t, ClientIPOptions{}, "not-an-ip:1234", "")
	if got != UnknownClientIP {
		t.Fatalf("unparseable host should map to placeholder: ip = %q", got)
	}
}

func TestClientIP_StripsForwardedHeadersWhenUntrusted(t *testing.T) {
	var sawXFF string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawXFF = r.Header.Get("X-Forwarded-For")
	})
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.9:51234"
	r.Header.Set("X-Forwarded-For", "198.51.100.7")
	r.Header.Set("X-Forwarded-Proto", "https")
	ClientIP(inner).ServeHTTP(httptest.NewRecorder(), r)

	if sawXFF != "" {
		t.Fatalf("X-Forwarded-For should be stripped: %q", sawXFF)
	}
}

func TestClientIPFromContext_Empty(t *testing.T) {
	if got := ClientIPFromContext(context.Background()); got != "" {
		t.Fatalf("empty context should return empty string, got %q", got)
	}
}

func TestWithClientIP_IgnoresEmpty(t *testing.T) {
	ctx := WithClientIP(context.Background(), "")
	if got := ClientIPFromContext(ctx); got != "" {
		t.Fatalf("got %q", got)
	}
}
