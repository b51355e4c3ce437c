package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsHandler(origins ...string) http.Handler {
	return CORS(origins)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestCORSExplicitOrigin(t *testing.T) {
	h := corsHandler("https://unoa.example")

	r := httptest.NewRequest("GET", "/api/plans", nil)
	r.Header.Set("Origin", "https://unoa.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://unoa.example" {
		t.Errorf("Expected origin echoed, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Expected credentials for explicit origin, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Errorf("Expected the API's method surface advertised, got %q", got)
	}
}

func TestCORSWildcardWithoutCredentials(t *testing.T) {
	h := corsHandler("*")

	r := httptest.NewRequest("GET", "/api/plans", nil)
	r.Header.Set("Origin", "https://somewhere.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://somewhere.example" {
		t.Errorf("Expected wildcard to echo the origin, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Expected no credentials on a wildcard match, got %q", got)
	}
}

func TestCORSDisallowedOrigin(t *testing.T) {
	h := corsHandler("https://unoa.example")

	r := httptest.NewRequest("GET", "/api/plans", nil)
	r.Header.Set("Origin", "http://evil.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS headers for disallowed origin, got %q", got)
	}
	if w.Code != http.StatusOK {
		t.Errorf("Expected request still served, got %d", w.Code)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	h := corsHandler("https://unoa.example")

	r := httptest.NewRequest(http.MethodOptions, "/api/plans/compare", nil)
	r.Header.Set("Origin", "https://unoa.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", w.Code)
	}
}
