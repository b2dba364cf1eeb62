package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rfalcao/conceptminer/internal/dispatch"
	"github.com/rfalcao/conceptminer/internal/domain"
)

const completionsBody = `{
	"choices":[{"message":{"content":"[{\"name\":\"Raft Consensus\",\"type\":\"Concept\",\"definition\":\"A leader-based consensus protocol.\",\"confidence\":0.9}]"}}],
	"usage":{"prompt_tokens":120,"completion_tokens":80,"total_tokens":200}
}`

func newTestClient(baseURL string) *HTTPClient {
	return NewHTTPClient(HTTPClientConfig{
		APIKey:     "test-key",
		BaseURL:    baseURL,
		Timeout:    2 * time.Second,
		MaxRetries: 2,
	})
}

func TestHTTPClientCallSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionsBody))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	result, err := client.Call(context.Background(), domain.TierSmall, []byte("segment text"))
	if err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if len(result.Output) == 0 {
		t.Fatalf("expected non-empty output")
	}
	// 0.002 per 1000 tokens, 200 tokens used.
	if result.Cost != 0.002*200/1000.0 {
		t.Fatalf("unexpected cost %v", result.Cost)
	}
}

func TestHTTPClientRetriesOnServerError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"upstream"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completionsBody))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	if _, err := client.Call(context.Background(), domain.TierSmall, []byte("segment text")); err != nil {
		t.Fatalf("expected retry to recover, got err=%v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 calls, got %d", got)
	}
}

func TestHTTPClientDoesNotRetryBadRequest(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad prompt"}`))
	}))
	defer server.Close()

	client := newTestClient(server.URL)
	_, err := client.Call(context.Background(), domain.TierSmall, []byte("segment text"))
	if dispatch.CodeOf(err) != dispatch.CodeMalformedRequest {
		t.Fatalf("expected MALFORMED_REQUEST, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly 1 call, got %d", got)
	}
}

func TestHTTPClientRejectsUnknownTier(t *testing.T) {
	client := newTestClient("http://localhost:0")
	_, err := client.Call(context.Background(), domain.Tier("unknown"), []byte("text"))
	if dispatch.CodeOf(err) != dispatch.CodeMalformedRequest {
		t.Fatalf("expected MALFORMED_REQUEST for unknown tier, got %v", err)
	}
}

func TestHTTPClientAvailability(t *testing.T) {
	if NewHTTPClient(HTTPClientConfig{}).Available() {
		t.Fatalf("client without API key should not report available")
	}
	if !NewHTTPClient(HTTPClientConfig{APIKey: "k"}).Available() {
		t.Fatalf("client with API key should report available")
	}
}

func TestStubProviderExtractsCapitalizedTerms(t *testing.T) {
	stub := NewStubProvider()
	result, err := stub.Call(context.Background(), domain.TierBig, []byte("The team migrated to Raft Consensus and kept Write-Ahead Logging around."))
	if err != nil {
		t.Fatalf("stub call failed: %v", err)
	}
	output := string(result.Output)
	if output == "[]" || output == "" {
		t.Fatalf("expected candidates in stub output, got %q", output)
	}
	if result.Cost != 0.03 {
		t.Fatalf("expected big tier cost 0.03, got %v", result.Cost)
	}
}

func TestStubProviderRejectsEmptyPayload(t *testing.T) {
	stub := NewStubProvider()
	if _, err := stub.Call(context.Background(), domain.TierSmall, nil); dispatch.CodeOf(err) != dispatch.CodeMalformedRequest {
		t.Fatalf("expected MALFORMED_REQUEST for empty payload, got %v", err)
	}
}
