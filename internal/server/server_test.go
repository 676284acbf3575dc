package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/docsage/docsage/internal/history"
	"github.com/docsage/docsage/internal/llm"
	"github.com/docsage/docsage/internal/orchestrator"
	"github.com/docsage/docsage/internal/prompt"
	"github.com/docsage/docsage/internal/tools"
	"github.com/docsage/docsage/internal/tools/doctools"
	"github.com/docsage/docsage/pkg/models"
)

func newTestServer(t *testing.T) (*httptest.Server, *llm.MockProvider) {
	t.Helper()

	provider := llm.NewMockProvider()
	registry := tools.NewRegistry(tools.RegistryOptions{DefaultTimeout: time.Second})
	if err := doctools.Register(registry); err != nil {
		t.Fatalf("register doctools: %v", err)
	}

	counter := llm.NewTokenCounter("mock")
	orch := orchestrator.New(orchestrator.Options{
		Provider:     provider,
		Registry:     registry,
		Executor:     tools.NewExecutor(registry, tools.ExecutorOptions{}),
		Builder:      prompt.NewBuilder(prompt.NewStore(), 0),
		Optimizer:    history.NewOptimizer(counter, 4),
		Estimator:    counter,
		Cache:        llm.NewResponseCache(time.Minute, 64),
		RetryBackoff: time.Millisecond,
	})

	srv := New(Options{
		Orchestrator: orch,
		Templates:    prompt.NewStore(),
		Registry:     registry,
		Provider:     provider,
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, provider
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

// readFrames parses the SSE body into its data payloads.
func readFrames(t *testing.T, body io.Reader) []sseFrame {
	t.Helper()
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	var frames []sseFrame
	for _, block := range strings.Split(string(raw), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		payload, ok := strings.CutPrefix(block, "data: ")
		if !ok {
			t.Fatalf("malformed SSE block: %q", block)
		}
		var f sseFrame
		if err := json.Unmarshal([]byte(payload), &f); err != nil {
			t.Fatalf("bad frame %q: %v", payload, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestQueryEndpoint(t *testing.T) {
	ts, provider := newTestServer(t)
	provider.Script(llm.MockTurn{Text: "REST transfers representations of state."})

	resp := postJSON(t, ts.URL+"/llm/query", map[string]any{"prompt": "What is REST?"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out models.LLMResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Content != "REST transfers representations of state." {
		t.Fatalf("content = %q", out.Content)
	}
	if out.Provider != "mock" {
		t.Fatalf("provider = %q", out.Provider)
	}
}

func TestQueryValidationStatus(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/llm/query", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ErrorKind != models.KindInvalidRequest {
		t.Fatalf("error_kind = %q", body.ErrorKind)
	}
}

func TestQueryMalformedBody(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Post(ts.URL+"/llm/query", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestProviderFailureStatus(t *testing.T) {
	ts, provider := newTestServer(t)
	provider.Script(llm.MockTurn{Err: models.NewKindError(models.KindProviderProtocol, "bad upstream request")})

	resp := postJSON(t, ts.URL+"/llm/query", map[string]any{"prompt": "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
	var body errorBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ErrorKind != models.KindProviderProtocol {
		t.Fatalf("error_kind = %q", body.ErrorKind)
	}
}

// Streaming parity: the same scripted exchange produces identical text over
// /llm/query and /llm/stream, with exactly one turn_boundary for the tool
// round-trip and exactly one done frame.
func TestStreamParityWithQuery(t *testing.T) {
	script := func(p *llm.MockProvider) {
		p.Script(
			llm.MockTurn{ToolCalls: []models.ToolCall{{
				ID:        "c1",
				Name:      "analyze_document_quality",
				Arguments: json.RawMessage(`{"content": "# Doc\n\nBody."}`),
			}}},
			llm.MockTurn{Text: "The document is short but well structured."},
		)
	}
	req := map[string]any{"prompt": "assess the doc"}

	ts1, p1 := newTestServer(t)
	script(p1)
	qResp := postJSON(t, ts1.URL+"/llm/query", req)
	defer qResp.Body.Close()
	var direct models.LLMResponse
	if err := json.NewDecoder(qResp.Body).Decode(&direct); err != nil {
		t.Fatalf("decode query: %v", err)
	}

	ts2, p2 := newTestServer(t)
	script(p2)
	sResp := postJSON(t, ts2.URL+"/llm/stream", req)
	defer sResp.Body.Close()
	if sResp.StatusCode != http.StatusOK {
		t.Fatalf("stream status = %d", sResp.StatusCode)
	}
	if ct := sResp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	frames := readFrames(t, sResp.Body)
	var text strings.Builder
	var boundaries, done, started, completed int
	for _, f := range frames {
		switch {
		case f.Text != "":
			text.WriteString(f.Text)
		case f.TurnBoundary:
			boundaries++
		case f.Done:
			done++
		case f.ToolCallStarted != nil:
			started++
		case f.ToolCallCompleted != nil:
			completed++
		case f.Error != "":
			t.Fatalf("unexpected error frame: %+v", f)
		}
	}

	if text.String() != direct.Content {
		t.Fatalf("stream text %q != query content %q", text.String(), direct.Content)
	}
	if boundaries != 1 {
		t.Fatalf("turn_boundary frames = %d, want 1", boundaries)
	}
	if done != 1 {
		t.Fatalf("done frames = %d, want 1", done)
	}
	if started != 1 || completed != 1 {
		t.Fatalf("tool lifecycle frames = %d/%d", started, completed)
	}
	if last := frames[len(frames)-1]; !last.Done {
		t.Fatalf("last frame is not done: %+v", last)
	}
}

// A failure after streaming begins must keep the 200 status and surface as an
// error frame, never a done frame.
func TestStreamErrorStaysHTTP200(t *testing.T) {
	ts, provider := newTestServer(t)
	provider.Script(
		llm.MockTurn{ToolCalls: []models.ToolCall{{
			ID:        "c1",
			Name:      "analyze_document_quality",
			Arguments: json.RawMessage(`{"content": "x"}`),
		}}},
		llm.MockTurn{Err: models.NewKindError(models.KindProviderProtocol, "mid-session failure")},
	)

	resp := postJSON(t, ts.URL+"/llm/stream", map[string]any{"prompt": "hi"})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	frames := readFrames(t, resp.Body)
	var sawError bool
	for _, f := range frames {
		if f.Done {
			t.Fatal("done frame after error")
		}
		if f.Error != "" {
			sawError = true
			if f.Kind != models.KindProviderProtocol {
				t.Fatalf("error kind = %q", f.Kind)
			}
		}
	}
	if !sawError {
		t.Fatalf("no error frame in %+v", frames)
	}
}

// Validation failures happen before the first byte, so the stream endpoint
// still owns the HTTP status.
func TestStreamValidationStatus(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/llm/stream", map[string]any{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/llm/templates")
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	defer resp.Body.Close()
	var tpl struct {
		Templates []prompt.Template `json:"templates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tpl); err != nil {
		t.Fatalf("decode templates: %v", err)
	}
	if len(tpl.Templates) == 0 {
		t.Fatal("no templates listed")
	}

	resp, err = http.Get(ts.URL + "/llm/capabilities")
	if err != nil {
		t.Fatalf("capabilities: %v", err)
	}
	defer resp.Body.Close()
	var caps struct {
		Provider     string           `json:"provider"`
		Capabilities llm.Capabilities `json:"capabilities"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&caps); err != nil {
		t.Fatalf("decode capabilities: %v", err)
	}
	if caps.Provider != "mock" || caps.Capabilities.MaxContext == 0 {
		t.Fatalf("capabilities = %+v", caps)
	}

	resp, err = http.Get(ts.URL + "/llm/tools")
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	defer resp.Body.Close()
	var tl struct {
		Tools []toolInfo `json:"tools"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tl); err != nil {
		t.Fatalf("decode tools: %v", err)
	}
	names := map[string]bool{}
	for _, info := range tl.Tools {
		names[info.Name] = true
		if len(info.Parameters) == 0 {
			t.Fatalf("tool %s has no schema", info.Name)
		}
	}
	if !names["analyze_document_quality"] {
		t.Fatalf("tool listing incomplete: %v", names)
	}

	resp, err = http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}
}
