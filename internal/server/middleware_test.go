package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSAllowedOriginEchoed(t *testing.T) {
	_, h := newTestServer(t, &stubStore{})

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Expected the origin echoed back, got %q", got)
	}
}

func TestCORSDisallowedOriginIgnored(t *testing.T) {
	_, h := newTestServer(t, &stubStore{})

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Disallowed origins must get no CORS headers, got %q", got)
	}
	if w.Code != http.StatusOK {
		t.Errorf("The request itself still succeeds, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	_, h := newTestServer(t, &stubStore{})

	req := httptest.NewRequest("OPTIONS", "/buckets", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "PUT")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 preflight, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Max-Age") != "86400" {
		t.Errorf("Preflight must be cacheable for 24h, got %q", w.Header().Get("Access-Control-Max-Age"))
	}
}

func TestPanicBecomesEnvelope(t *testing.T) {
	s, _ := newTestServer(t, &stubStore{})

	handler := recoverer(s.log)(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", w.Code)
	}
}
