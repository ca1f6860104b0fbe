package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, endpoint string, tokenTimeout time.Duration) *Client {
	t.Helper()
	client, err := NewClient(Config{
		Endpoint:     endpoint,
		APIKey:       "test-key",
		Model:        "soap-v2",
		TokenTimeout: tokenTimeout,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestStreamTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
		}

		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		if req.Transcript != "patient has a cough" {
			t.Errorf("transcript = %q", req.Transcript)
		}
		if req.Model != "soap-v2" {
			t.Errorf("model = %q, want configured default", req.Model)
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"token": "{\"plan\":"}`)
		fmt.Fprintln(w, `{"token": " \"rest\"}"}`)
		fmt.Fprintln(w, `{"token": "", "done": true}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 5*time.Second)
	tokens, errCh := client.Stream(context.Background(), Request{Transcript: "patient has a cough"})

	var assembled strings.Builder
	for tok := range tokens {
		assembled.WriteString(tok.Token)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	want := `{"plan": "rest"}`
	if assembled.String() != want {
		t.Errorf("assembled = %q, want %q", assembled.String(), want)
	}
}

func TestStreamOracleError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"token": "partial"}`)
		fmt.Fprintln(w, `{"error": "model overloaded"}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 5*time.Second)
	tokens, errCh := client.Stream(context.Background(), Request{Transcript: "t"})

	for range tokens {
	}
	err := <-errCh
	if !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("got %v, want ErrGenerationFailed", err)
	}
	if !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("error should carry oracle detail, got %v", err)
	}
}

func TestStreamHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 5*time.Second)
	tokens, errCh := client.Stream(context.Background(), Request{Transcript: "t"})

	for range tokens {
	}
	if err := <-errCh; !errors.Is(err, ErrGenerationFailed) {
		t.Errorf("got %v, want ErrGenerationFailed", err)
	}
}

func TestStreamTokenTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"token": "first"}`)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		// Then go silent longer than the token timeout.
		<-release
	}))
	defer server.Close()
	defer close(release)

	client := newTestClient(t, server.URL, 100*time.Millisecond)
	tokens, errCh := client.Stream(context.Background(), Request{Transcript: "t"})

	for range tokens {
	}
	err := <-errCh
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("got %v, want ErrGenerationFailed", err)
	}
	if !strings.Contains(err.Error(), "no token within") {
		t.Errorf("error should name the watchdog, got %v", err)
	}
}

func TestStreamCallerCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"token": "first"}`)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-release
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	client := newTestClient(t, server.URL, 10*time.Second)
	tokens, errCh := client.Stream(ctx, Request{Transcript: "t"})

	<-tokens
	cancel()

	for range tokens {
	}
	// Caller cancellation is not a watchdog failure; any error reported
	// must not claim a token timeout.
	if err := <-errCh; err != nil && strings.Contains(err.Error(), "no token within") {
		t.Errorf("caller cancel misreported as token timeout: %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{APIKey: "k"}); err == nil {
		t.Error("empty endpoint should be rejected")
	}
	if _, err := NewClient(Config{Endpoint: "http://x"}); err == nil {
		t.Error("empty API key should be rejected")
	}
}
