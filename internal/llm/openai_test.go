package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/docsage/docsage/pkg/models"
)

func newFakeOpenAI(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *OpenAIProvider) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	p := NewOpenAIProvider(OpenAIOptions{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-4o-mini",
	})
	return srv, p
}

func TestOpenAIQuery(t *testing.T) {
	_, p := newFakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req["model"] != "gpt-4o-mini" {
			t.Errorf("model = %v", req["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "cmpl-1", "object": "chat.completion", "model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Markdown is a markup language."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`)
	})

	res, err := p.Query(context.Background(), []models.Message{
		models.NewUserMessage("what is markdown?"),
	}, QueryOptions{}, nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Content != "Markdown is a markup language." {
		t.Fatalf("content = %q", res.Content)
	}
	if res.Usage.TotalTokens != 19 {
		t.Fatalf("usage = %+v", res.Usage)
	}
}

func TestOpenAIQueryToolCalls(t *testing.T) {
	_, p := newFakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tools []struct {
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tools"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "extract_document_topics" {
			t.Errorf("tools in request = %+v", req.Tools)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "cmpl-2", "object": "chat.completion", "model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "",
				"tool_calls": [{"id": "call_abc", "type": "function",
					"function": {"name": "extract_document_topics", "arguments": "{\"max_topics\":3}"}}]},
				"finish_reason": "tool_calls"}],
			"usage": {"prompt_tokens": 20, "completion_tokens": 10, "total_tokens": 30}
		}`)
	})

	tools := []ToolSpec{{
		Name:       "extract_document_topics",
		Parameters: []byte(`{"type":"object","properties":{"max_topics":{"type":"integer"}}}`),
	}}
	res, err := p.Query(context.Background(), []models.Message{
		models.NewUserMessage("topics please"),
	}, QueryOptions{}, tools)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", res.ToolCalls)
	}
	tc := res.ToolCalls[0]
	if tc.ID != "call_abc" || tc.Name != "extract_document_topics" {
		t.Fatalf("tool call = %+v", tc)
	}
	if !strings.Contains(string(tc.Arguments), "max_topics") {
		t.Fatalf("arguments = %s", tc.Arguments)
	}
}

func TestOpenAIStreamAccumulatesToolCall(t *testing.T) {
	frames := []string{
		`{"id":"s1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"Checking"}}]}`,
		`{"id":"s1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_x","type":"function","function":{"name":"check_document_completeness","arguments":"{\"sec"}}]}}]}`,
		`{"id":"s1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"tions\":2}"}}]}}]}`,
		`{"id":"s1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
		`{"id":"s1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[],"usage":{"prompt_tokens":9,"completion_tokens":4,"total_tokens":13}}`,
	}
	_, p := newFakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, f := range frames {
			fmt.Fprintf(w, "data: %s\n\n", f)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	events, err := p.StreamQuery(context.Background(), []models.Message{
		models.NewUserMessage("check completeness"),
	}, QueryOptions{}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var text strings.Builder
	var calls []models.ToolCall
	var usage *models.Usage
	var done bool
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("stream error: %v", ev.Err)
		}
		text.WriteString(ev.Text)
		if ev.ToolCall != nil {
			calls = append(calls, *ev.ToolCall)
		}
		if ev.Usage != nil {
			usage = ev.Usage
		}
		if ev.Done {
			done = true
		}
	}

	if text.String() != "Checking" {
		t.Fatalf("text = %q", text.String())
	}
	if len(calls) != 1 {
		t.Fatalf("calls = %+v", calls)
	}
	if calls[0].ID != "call_x" || calls[0].Name != "check_document_completeness" {
		t.Fatalf("call = %+v", calls[0])
	}
	if string(calls[0].Arguments) != `{"sections":2}` {
		t.Fatalf("arguments split across deltas not reassembled: %s", calls[0].Arguments)
	}
	if usage == nil || usage.TotalTokens != 13 {
		t.Fatalf("usage = %+v", usage)
	}
	if !done {
		t.Fatal("missing done event")
	}
}

func TestOpenAIStreamIdleTimeout(t *testing.T) {
	stall := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, `data: {"id":"s1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"partial"}}]}`+"\n\n")
		w.(http.Flusher).Flush()
		// Upstream goes silent without closing the connection.
		<-stall
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(stall) })

	p := NewOpenAIProvider(OpenAIOptions{
		APIKey:            "test-key",
		BaseURL:           srv.URL + "/v1",
		Model:             "gpt-4o-mini",
		StreamIdleTimeout: 100 * time.Millisecond,
	})

	events, err := p.StreamQuery(context.Background(), []models.Message{
		models.NewUserMessage("hi"),
	}, QueryOptions{}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	var text strings.Builder
	var streamErr error
	for ev := range events {
		text.WriteString(ev.Text)
		if ev.Err != nil {
			streamErr = ev.Err
		}
		if ev.Done {
			t.Fatal("done event on a stalled stream")
		}
	}
	if text.String() != "partial" {
		t.Fatalf("text before stall = %q", text.String())
	}
	if models.KindOf(streamErr) != models.KindProviderTimeout {
		t.Fatalf("stalled stream error = %v", streamErr)
	}
}

func TestOpenAIStreamReaderExitsWhenAbandoned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// Far more chunks than the event channel buffers.
		for i := 0; i < 300; i++ {
			fmt.Fprint(w, `data: {"id":"s1","object":"chat.completion.chunk","model":"gpt-4o-mini","choices":[{"index":0,"delta":{"content":"x"}}]}`+"\n\n")
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	p := NewOpenAIProvider(OpenAIOptions{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "gpt-4o-mini",
	})

	ctx, cancel := context.WithCancel(context.Background())
	events, err := p.StreamQuery(ctx, []models.Message{
		models.NewUserMessage("hi"),
	}, QueryOptions{}, nil)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	// Consume one event, then walk away mid-stream.
	<-events
	cancel()

	// The reader must notice the cancellation and close the channel rather
	// than block on the full buffer forever.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("stream channel still open after cancel")
		}
	}
}

func TestOpenAIErrorKinds(t *testing.T) {
	cases := []struct {
		status int
		want   models.ErrorKind
	}{
		{http.StatusTooManyRequests, models.KindProviderRateLimited},
		{http.StatusInternalServerError, models.KindProviderUnavailable},
		{http.StatusBadRequest, models.KindProviderProtocol},
	}
	for _, tc := range cases {
		_, p := newFakeOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(tc.status)
			fmt.Fprintf(w, `{"error":{"message":"nope","type":"server_error","code":null}}`)
		})
		_, err := p.Query(context.Background(), []models.Message{
			models.NewUserMessage("hi"),
		}, QueryOptions{}, nil)
		if got := models.KindOf(err); got != tc.want {
			t.Errorf("status %d: kind = %v, want %v", tc.status, got, tc.want)
		}
	}
}

func TestOpenAIWireConversion(t *testing.T) {
	msgs := []models.Message{
		models.NewSystemMessage("you help with docs"),
		models.NewUserMessage("hi"),
		{Role: models.RoleAssistant, ToolCalls: []models.ToolCall{
			{ID: "c1", Name: "t", Arguments: json.RawMessage(`{"a":1}`)},
		}},
		models.NewToolMessage("c1", "t", `{"ok":true}`),
	}

	wire := toWireMessages(msgs)
	if len(wire) != 4 {
		t.Fatalf("len = %d", len(wire))
	}
	if wire[0].Role != "system" || wire[1].Role != "user" {
		t.Fatalf("roles = %s, %s", wire[0].Role, wire[1].Role)
	}
	if len(wire[2].ToolCalls) != 1 || wire[2].ToolCalls[0].Function.Name != "t" {
		t.Fatalf("assistant tool calls = %+v", wire[2].ToolCalls)
	}
	if wire[3].ToolCallID != "c1" || wire[3].Name != "t" {
		t.Fatalf("tool message = %+v", wire[3])
	}
}
