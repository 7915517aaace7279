package classifier //nolint:testpackage // internal white-box tests need access to unexported fields

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"parley/pkg/convo"
)

// newTestServer returns an httptest server that answers every chat
// completion with the given content string, recording the last request
// body for inspection.
func newTestServer(t *testing.T, content string) (*httptest.Server, *chatRequest) {
	t.Helper()
	var last chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&last); err != nil {
			t.Errorf("decode request: %v", err)
		}
		fmt.Fprintf(w, `{"choices":[{"index":0,"message":{"role":"assistant","content":%q}}]}`, content)
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient("test-model", "test-key", WithBaseURL(baseURL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient("", "key"); err == nil {
		t.Error("empty model should error")
	}
	if _, err := NewClient("model", ""); err == nil {
		t.Error("empty API key should error")
	}
}

func TestChatURL(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"http://localhost:8080/v1/", "http://localhost:8080/v1/chat/completions"},
	}
	for _, tt := range tests {
		c := &Client{}
		if tt.base != "" {
			WithBaseURL(tt.base)(c)
		}
		if got := c.chatURL(); got != tt.want {
			t.Errorf("chatURL(%q) = %q, want %q", tt.base, got, tt.want)
		}
	}
}

func TestShouldCloseParsesVerdict(t *testing.T) {
	srv, last := newTestServer(t, `{"should_close":true,"confidence":92,"reason":"goodbyes exchanged"}`)
	c := newTestClient(t, srv.URL)

	v, err := c.ShouldClose(context.Background(), []convo.Message{
		{Direction: convo.FromAgent, Text: "Anything else I can help with?", Timestamp: time.Now()},
		{Direction: convo.FromCustomer, Text: "No, thanks! Bye.", Timestamp: time.Now()},
	})
	if err != nil {
		t.Fatalf("ShouldClose: %v", err)
	}
	if !v.ShouldClose || v.Confidence != 92 {
		t.Errorf("verdict = %+v", v)
	}
	if last.ResponseFormat == nil || last.ResponseFormat.JSONSchema.Name != "close_verdict" {
		t.Errorf("request should carry the close_verdict schema, got %+v", last.ResponseFormat)
	}
	if last.Model != "test-model" {
		t.Errorf("model = %q, want test-model", last.Model)
	}
}

func TestDetectRequestParsesSignal(t *testing.T) {
	srv, _ := newTestServer(t, `{"is_request":true,"is_complaint":false,"summary":"wants a refund"}`)
	c := newTestClient(t, srv.URL)

	sig, err := c.DetectRequest(context.Background(),
		convo.Message{Direction: convo.FromCustomer, Text: "I want a refund for order 123"}, nil)
	if err != nil {
		t.Fatalf("DetectRequest: %v", err)
	}
	if !sig.IsRequest || sig.IsComplaint || sig.Summary != "wants a refund" {
		t.Errorf("signal = %+v", sig)
	}
}

func TestShouldReopenParsesVerdict(t *testing.T) {
	srv, _ := newTestServer(t, `{"should_reopen":false}`)
	c := newTestClient(t, srv.URL)

	reopen, err := c.ShouldReopen(context.Background(), convo.Message{Text: "thanks!"})
	if err != nil {
		t.Fatalf("ShouldReopen: %v", err)
	}
	if reopen {
		t.Error("bare thanks should not reopen")
	}
}

func TestScoreSetsModel(t *testing.T) {
	srv, _ := newTestServer(t, `{"score":74,"summary":"slow first response, good resolution"}`)
	c := newTestClient(t, srv.URL)

	r, err := c.Score(context.Background(), convo.Conversation{Key: "c1"},
		[]convo.Message{{Direction: convo.FromCustomer, Text: "hi"}}, nil)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if r.Score != 74 {
		t.Errorf("Score = %d, want 74", r.Score)
	}
	if r.Model != "test-model" {
		t.Errorf("Model = %q, want test-model", r.Model)
	}
}

func TestChatHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL)

	_, err := c.ShouldClose(context.Background(), nil)
	var statusErr *HTTPStatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("want HTTPStatusError, got %v", err)
	}
	if statusErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("StatusCode = %d, want 503", statusErr.StatusCode)
	}
}

func TestChatMalformedContent(t *testing.T) {
	srv, _ := newTestServer(t, `not json`)
	c := newTestClient(t, srv.URL)

	if _, err := c.ShouldClose(context.Background(), nil); err == nil {
		t.Error("unparseable content should error")
	}
}

func TestRenderTranscriptLabels(t *testing.T) {
	ts := time.Date(2026, 8, 1, 9, 30, 0, 0, time.UTC)
	out := renderTranscript([]convo.Message{
		{Direction: convo.FromCustomer, Text: "hello", Timestamp: ts},
		{Direction: convo.FromAgent, Text: "hi there", Timestamp: ts},
	})
	want := "[CUSTOMER 09:30:00] hello\n[AGENT 09:30:00] hi there\n"
	if out != want {
		t.Errorf("renderTranscript = %q, want %q", out, want)
	}
}
