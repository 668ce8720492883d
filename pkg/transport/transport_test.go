package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"loncachat/pkg/config"
	"loncachat/pkg/protocol"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New(config.BackendConfig{BaseURL: server.URL, MessagePath: "/message"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	return client
}

func TestExchangePostsEnvelopeAndDecodesReply(t *testing.T) {
	var gotBody map[string]any
	var gotHeaders http.Header

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/message" {
			t.Errorf("path = %s, want /message", r.URL.Path)
		}
		gotHeaders = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"messages":[{"role":"user","content":"hello"},{"role":"assistant","content":"hi"}],"pending":false,"session_id":"abc123"}`)
	})

	image := "QUJD"
	reply, err := client.Exchange(context.Background(), protocol.Envelope{
		Message: "hello",
		Image:   &image,
		Region:  "Europe",
	})
	if err != nil {
		t.Fatalf("Exchange error: %v", err)
	}

	if reply.SessionID != "abc123" || reply.Pending {
		t.Fatalf("reply = %+v", reply)
	}
	if len(reply.Messages) != 2 || reply.Messages[1].Content != "hi" {
		t.Fatalf("messages = %+v", reply.Messages)
	}

	if gotBody["message"] != "hello" || gotBody["image"] != "QUJD" || gotBody["region"] != "Europe" {
		t.Fatalf("request body = %v", gotBody)
	}
	if v, ok := gotBody["session_id"]; !ok || v != nil {
		t.Fatalf("session_id = %v (present=%v), want explicit null", v, ok)
	}
	if v, ok := gotBody["audio_data"]; !ok || v != nil {
		t.Fatalf("audio_data = %v (present=%v), want explicit null", v, ok)
	}
	if gotHeaders.Get("Content-Type") != "application/json" {
		t.Fatalf("content-type = %q", gotHeaders.Get("Content-Type"))
	}
	if gotHeaders.Get(requestIDHeader) == "" {
		t.Fatal("expected request id header")
	}
}

func TestExchangeNonSuccessStatusIsTransportError(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, "backend exploded", http.StatusBadGateway)
	})

	_, err := client.Exchange(context.Background(), protocol.Envelope{Message: "hello"})

	var transportErr *Error
	if !errors.As(err, &transportErr) {
		t.Fatalf("error = %v, want *transport.Error", err)
	}
	if transportErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", transportErr.StatusCode)
	}
	if !strings.Contains(err.Error(), "backend exploded") {
		t.Fatalf("error text = %q", err.Error())
	}
	if calls != 1 {
		t.Fatalf("backend calls = %d, want exactly 1 (no retry)", calls)
	}
}

func TestExchangeUndecodableBodyIsTransportError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "<html>not json</html>")
	})

	_, err := client.Exchange(context.Background(), protocol.Envelope{Message: "hello"})
	if !IsTransportError(err) {
		t.Fatalf("error = %v, want transport error", err)
	}
}

func TestExchangeUnreachableBackendIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	client, err := New(config.BackendConfig{BaseURL: baseURL, MessagePath: "/message"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	_, err = client.Exchange(context.Background(), protocol.Envelope{Message: "hello"})
	if !IsTransportError(err) {
		t.Fatalf("error = %v, want transport error", err)
	}
}

func TestExchangeHonorsRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	client, err := New(config.BackendConfig{BaseURL: server.URL, MessagePath: "/message"})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	client.requestTimeout = 50 * time.Millisecond

	_, err = client.Exchange(context.Background(), protocol.Envelope{Message: "hello"})
	if !IsTransportError(err) {
		t.Fatalf("error = %v, want transport error", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestNewRejectsInvalidURL(t *testing.T) {
	tests := []string{"ftp://host/x", "://bad", "http://"}
	for _, baseURL := range tests {
		if _, err := New(config.BackendConfig{BaseURL: baseURL, MessagePath: "/message"}); err == nil {
			t.Fatalf("expected error for %q", baseURL)
		}
	}
}
