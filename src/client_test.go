package src

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

func newTestClient(baseURL string, timeout time.Duration) *Client {
	oc := openai.DefaultConfig("test-key")
	oc.BaseURL = baseURL
	return &Client{
		api:     openai.NewClientWithConfig(oc),
		model:   "test-model",
		timeout: timeout,
		logger:  zap.NewNop(),
	}
}

func completionBody(content string) string {
	return fmt.Sprintf(`{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"test-model","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, content)
}

func apiErrorBody(message, errType string) string {
	return fmt.Sprintf(`{"error":{"message":%q,"type":%q}}`, message, errType)
}

func TestCompleteRetriesTransientFailure(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, apiErrorBody("overloaded", "server_error"))
			return
		}
		fmt.Fprint(w, completionBody("hello"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 10*time.Second)
	out, err := c.Complete(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "", 0.7, 100)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected content: %q", out)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestCompleteExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, apiErrorBody("still down", "server_error"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 30*time.Second)
	_, err := c.Complete(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "", 0.7, 100)

	var apiErr *APICallError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APICallError, got %v", err)
	}
	if apiErr.Model != "test-model" || apiErr.Attempts != 3 {
		t.Fatalf("unexpected error detail: %+v", apiErr)
	}
	if !apiErr.Transient() {
		t.Fatalf("server errors must classify as transient: %v", apiErr)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestCompletePermanentErrorIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, apiErrorBody("model not found", "invalid_request_error"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 10*time.Second)
	_, err := c.Complete(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "", 0.7, 100)

	var apiErr *APICallError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APICallError, got %v", err)
	}
	if apiErr.Transient() {
		t.Fatalf("bad-request errors must classify as permanent: %v", apiErr)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("permanent errors must not retry, got %d attempts", got)
	}
}

func TestCompleteTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 100*time.Millisecond)
	_, err := c.Complete(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "", 0.7, 100)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeoutErr.Op != "model call" {
		t.Fatalf("unexpected op: %q", timeoutErr.Op)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"test-model","choices":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 10*time.Second)
	_, err := c.Complete(context.Background(), []ChatMessage{{Role: RoleUser, Content: "hi"}}, "", 0.7, 100)
	if err == nil || !strings.Contains(err.Error(), "empty response") {
		t.Fatalf("expected empty-response error, got %v", err)
	}
}

func TestCompleteWithFallbackWalksChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		if req.Model == "llama-2-70B" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, apiErrorBody("model decommissioned", "invalid_request_error"))
			return
		}
		fmt.Fprint(w, completionBody("fallback says hi"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 10*time.Second)
	out, used, err := c.CompleteWithFallback(context.Background(),
		[]ChatMessage{{Role: RoleUser, Content: "hi"}}, "llama-2-70B", 0.7, 100)
	if err != nil {
		t.Fatalf("CompleteWithFallback: %v", err)
	}
	if out != "fallback says hi" {
		t.Fatalf("unexpected content: %q", out)
	}
	if used != "llama-3.1-8B" {
		t.Fatalf("expected fallback model, got %q", used)
	}
}

func TestCompleteWithFallbackStopsOnTimeout(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, 100*time.Millisecond)
	_, _, err := c.CompleteWithFallback(context.Background(),
		[]ChatMessage{{Role: RoleUser, Content: "hi"}}, "llama-2-70B", 0.7, 100)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	// Timeouts are not model problems; no fallback model is tried.
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected 1 call, got %d", got)
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(&Config{}, nil)
	if err == nil || !strings.Contains(err.Error(), "GROQ_API_KEY") {
		t.Fatalf("expected missing-key error, got %v", err)
	}
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(&Config{APIKey: "k"}, nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.Model() != DefaultModel {
		t.Fatalf("expected default model, got %q", c.Model())
	}
	c.SetTimeout(0)
	if c.timeout != defaultCallTimeout {
		t.Fatalf("zero timeout must be ignored")
	}
	c.SetTimeout(5 * time.Second)
	if c.timeout != 5*time.Second {
		t.Fatalf("timeout not applied: %v", c.timeout)
	}
}

func TestIsTransientAPIError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&openai.APIError{HTTPStatusCode: 429}, true},
		{&openai.APIError{HTTPStatusCode: 500}, true},
		{&openai.APIError{HTTPStatusCode: 503}, true},
		{&openai.APIError{HTTPStatusCode: 401}, false},
		{&openai.APIError{HTTPStatusCode: 400}, false},
		{&net.DNSError{IsTimeout: true}, true},
		{context.Canceled, false},
		{context.DeadlineExceeded, false},
		{errors.New("dial tcp 127.0.0.1:80: connection refused"), true},
		{errors.New("unexpected EOF"), true},
		{errors.New("plain failure"), false},
	}
	for _, tc := range cases {
		if got := isTransientAPIError(tc.err); got != tc.want {
			t.Fatalf("isTransientAPIError(%v): got %v want %v", tc.err, got, tc.want)
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	if got := stripCodeFence("```go\npackage main\n```"); got != "package main" {
		t.Fatalf("fence not stripped: %q", got)
	}
	if got := stripCodeFence("no fence here"); got != "no fence here" {
		t.Fatalf("plain text mangled: %q", got)
	}
	if got := stripCodeFence("```\nunterminated"); got != "```\nunterminated" {
		t.Fatalf("unterminated fence should pass through: %q", got)
	}
	multi := "```python\nline one\nline two\n```"
	if got := stripCodeFence(multi); got != "line one\nline two" {
		t.Fatalf("multi-line body mangled: %q", got)
	}
}

func TestToOpenAIMessages(t *testing.T) {
	in := []ChatMessage{
		{Role: RoleSystem, Content: "context"},
		{Role: RoleUser, Content: "question"},
	}
	out := toOpenAIMessages(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(out))
	}
	if out[0].Role != RoleSystem || out[0].Content != "context" {
		t.Fatalf("first message mangled: %+v", out[0])
	}
	if out[1].Role != RoleUser || out[1].Content != "question" {
		t.Fatalf("second message mangled: %+v", out[1])
	}
}
