package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
)

const claudeReply = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-test",` +
	`"content":[{"type":"text","text":"Correct. "},{"type":"text","text":"Next question."}],` +
	`"stop_reason":"end_turn","usage":{"input_tokens":5,"output_tokens":4}}`

type claudeRequest struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"max_tokens"`
	System    []struct {
		Text string `json:"text"`
	} `json:"system"`
	Messages []struct {
		Role string `json:"role"`
	} `json:"messages"`
}

func TestClaudeChatModelGenerate(t *testing.T) {
	var got claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "sk-ant" {
			t.Errorf("missing api key header")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(claudeReply))
	}))
	defer srv.Close()

	c := NewClaudeChatModel(ClaudeConfig{APIKey: "sk-ant", Model: "claude-test", BaseURL: srv.URL + "/"})
	msg, err := c.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("be an examiner"),
		schema.AssistantMessage("What is Go?", nil),
		schema.UserMessage("a language"),
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if msg.Content != "Correct. Next question." {
		t.Fatalf("content = %q", msg.Content)
	}
	if got.Model != "claude-test" || got.MaxTokens != defaultClaudeMaxTokens {
		t.Fatalf("unexpected request: %+v", got)
	}
	if len(got.System) != 1 || got.System[0].Text != "be an examiner" {
		t.Fatalf("system prompt not sent separately: %+v", got.System)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "assistant" || got.Messages[1].Role != "user" {
		t.Fatalf("unexpected messages: %+v", got.Messages)
	}
}

func TestClaudeChatModelRetriesOverloaded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(529)
			w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
			return
		}
		w.Write([]byte(claudeReply))
	}))
	defer srv.Close()

	c := NewClaudeChatModel(ClaudeConfig{APIKey: "k", BaseURL: srv.URL + "/"})
	c.baseDelay = time.Millisecond

	if _, err := c.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected 2 calls, got %d", calls.Load())
	}
}

func TestClaudeChatModelDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()

	c := NewClaudeChatModel(ClaudeConfig{APIKey: "k", BaseURL: srv.URL + "/"})
	c.baseDelay = time.Millisecond

	if _, err := c.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")}); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single call, got %d", calls.Load())
	}
}

func TestIsRetryableError(t *testing.T) {
	for msg, want := range map[string]bool{
		"529 Overloaded":            true,
		"service overloaded":        true,
		"503 Service Unavailable":   true,
		"502 Bad Gateway":           true,
		"400 invalid_request":       false,
		"context deadline exceeded": false,
	} {
		if got := isRetryableError(stringError(msg)); got != want {
			t.Fatalf("isRetryableError(%q) = %v, want %v", msg, got, want)
		}
	}
}

type stringError string

func (e stringError) Error() string { return string(e) }
