package apihttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/edgekit/internal/httpmw"
	"github.com/keithlinneman/edgekit/internal/log"
)

func newTestRouter(maxBody int64) chi.Router {
	api := NewAPI(log.Nop(), maxBody)
	r := chi.NewRouter()
	api.RegisterRoutes(r)
	return r
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
}

// Echo

func TestHandleEcho_RoundTrip(t *testing.T) {
	r := newTestRouter(0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/echo", strings.NewReader(`{"message":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(httpmw.WithRequestID(req.Context(), "req-123"))
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %q)", rec.Code, rec.Body.String())
	}

	var resp EchoResponse
	decodeJSON(t, rec, &resp)

	if resp.Message != "hello" {
		t.Fatalf("message = %q, want %q", resp.Message, "hello")
	}
	if resp.RequestID != "req-123" {
		t.Fatalf("request_id = %q, want %q", resp.RequestID, "req-123")
	}
	if resp.ReceivedAt.IsZero() {
		t.Fatal("received_at not set")
	}
}

func TestHandleEcho_EmptyBody(t *testing.T) {
	r := newTestRouter(0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/echo", nil)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleEcho_MalformedJSON(t *testing.T) {
	r := newTestRouter(0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/echo", strings.NewReader(`{"message":`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleEcho_UnknownField(t *testing.T) {
	r := newTestRouter(0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/echo", strings.NewReader(`{"nope":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for unknown field", rec.Code)
	}
}

func TestHandleEcho_OversizedBody(t *testing.T) {
	r := newTestRouter(16)

	big := `{"message":"` + strings.Repeat("x", 100) + `"}`
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/echo", strings.NewReader(big))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
}

func TestHandleEcho_ContentType(t *testing.T) {
	r := newTestRouter(0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/echo", strings.NewReader(`{"message":"hi"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
}

// Whoami

func TestHandleWhoami_WithClientIP(t *testing.T) {
	r := newTestRouter(0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/whoami", nil)
	req.Header.Set("User-Agent", "test-agent/1.0")
	req = req.WithContext(httpmw.WithClientIP(req.Context(), "203.0.113.9"))
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp WhoamiResponse
	decodeJSON(t, rec, &resp)

	if resp.ClientIP != "203.0.113.9" {
		t.Fatalf("client_ip = %q, want 203.0.113.9", resp.ClientIP)
	}
	if resp.UserAgent != "test-agent/1.0" {
		t.Fatalf("user_agent = %q", resp.UserAgent)
	}
}

func TestHandleWhoami_NoClientIP(t *testing.T) {
	r := newTestRouter(0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/whoami", nil)
	r.ServeHTTP(rec, req)

	var resp WhoamiResponse
	decodeJSON(t, rec, &resp)

	if resp.ClientIP != "0.0.0.0" {
		t.Fatalf("client_ip = %q, want the 0.0.0.0 placeholder", resp.ClientIP)
	}
}

// Version

func TestHandleVersion(t *testing.T) {
	r := newTestRouter(0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/version", nil)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp map[string]any
	decodeJSON(t, rec, &resp)

	if resp["app_name"] != "edgekit" {
		t.Fatalf("app_name = %v, want edgekit", resp["app_name"])
	}
	if resp["version"] == "" {
		t.Fatal("version missing")
	}
}

// Session

func TestHandleSessionStart_SetsCookie(t *testing.T) {
	r := newTestRouter(0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/session", nil)
	req = req.WithContext(httpmw.WithRequestID(req.Context(), "sess-abc"))
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}

	cookies := rec.Result().Cookies()
	var found *http.Cookie
	for _, c := range cookies {
		if c.Name == sessionCookie {
			found = c
		}
	}
	if found == nil {
		t.Fatal("session cookie not set")
	}
	if found.Value != "sess-abc" {
		t.Fatalf("cookie value = %q, want sess-abc", found.Value)
	}
	if !found.HttpOnly || !found.Secure {
		t.Fatal("session cookie should be HttpOnly and Secure")
	}
	if found.SameSite != http.SameSiteLaxMode {
		t.Fatalf("SameSite = %v, want Lax", found.SameSite)
	}
}

func TestHandleSessionStart_NoRequestID(t *testing.T) {
	r := newTestRouter(0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/session", nil)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 without request id middleware", rec.Code)
	}
}

func TestHandleSessionGet_Roundtrip(t *testing.T) {
	r := newTestRouter(0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/session", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "sess-42"})
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp SessionResponse
	decodeJSON(t, rec, &resp)
	if resp.Session != "sess-42" || !resp.Active {
		t.Fatalf("resp = %+v, want active session sess-42", resp)
	}
}

func TestHandleSessionGet_NoCookie(t *testing.T) {
	r := newTestRouter(0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/v1/session", nil)
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleSessionEnd_ClearsCookie(t *testing.T) {
	r := newTestRouter(0)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("DELETE", "/api/v1/session", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "sess-42"})
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	cookies := rec.Result().Cookies()
	var found *http.Cookie
	for _, c := range cookies {
		if c.Name == sessionCookie {
			found = c
		}
	}
	if found == nil {
		t.Fatal("expiring cookie not set")
	}
	if found.MaxAge != -1 {
		t.Fatalf("MaxAge = %d, want -1", found.MaxAge)
	}
}
