package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsHandler(t *testing.T, origins []string, method, origin string) *httptest.ResponseRecorder {
	t.Helper()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := CORS(origins)(next)

	request := httptest.NewRequest(method, "/v1/documents", nil)
	if origin != "" {
		request.Header.Set("Origin", origin)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestCORSPreflightAllowedOrigin(t *testing.T) {
	recorder := corsHandler(t, []string{"https://app.example.com"}, http.MethodOptions, "https://app.example.com")

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allow-origin header: %q", got)
	}
	if recorder.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Fatalf("expected allow-methods header on preflight")
	}
}

func TestCORSDisallowedOriginPassesThrough(t *testing.T) {
	recorder := corsHandler(t, []string{"https://app.example.com"}, http.MethodGet, "https://evil.example.com")

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected request to reach the handler, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow-origin header, got %q", got)
	}
}

func TestCORSWildcardOrigin(t *testing.T) {
	recorder := corsHandler(t, []string{"*"}, http.MethodGet, "https://anywhere.example.com")

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard allow-origin, got %q", got)
	}
}

func TestCORSDisabledWhenUnconfigured(t *testing.T) {
	recorder := corsHandler(t, nil, http.MethodOptions, "https://app.example.com")

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected middleware to be a no-op, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no CORS headers, got %q", got)
	}
}
