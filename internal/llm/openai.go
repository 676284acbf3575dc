package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/docsage/docsage/pkg/models"
)

// OpenAIProvider implements Provider against any OpenAI-compatible
// chat-completion API.
//
// The provider handles:
//   - converting between the core message format and the wire format
//   - streaming responses with incremental tool-call accumulation
//   - mapping transport failures onto ErrorKinds
//
// OpenAI streams tool calls incrementally: the ID and function name arrive
// first, then argument fragments across multiple delta chunks. The provider
// buffers fragments and emits each tool call as a single assembled event at
// stream end, per the Provider contract.
//
// Retries are intentionally absent at this layer; the orchestrator owns the
// retry policy.
//
// OpenAIProvider is safe for concurrent use; each call creates an
// independent request or stream.
type OpenAIProvider struct {
	client *openai.Client

	name              string
	defaultModel      string
	maxContext        int
	models            []string
	requestTimeout    time.Duration
	streamIdleTimeout time.Duration
	counter           *TokenCounter
}

// OpenAIOptions configures the remote provider.
type OpenAIOptions struct {
	// APIKey is the bearer token. May be empty for unauthenticated proxies.
	APIKey string

	// BaseURL overrides the API endpoint, for proxies and compatible
	// servers. Empty uses the upstream default.
	BaseURL string

	// Model is the default model for requests that don't name one.
	Model string

	// MaxContext is the advertised context window. 0 picks a default
	// matching the model family.
	MaxContext int

	// RequestTimeout bounds non-streaming calls. Default 60s.
	RequestTimeout time.Duration

	// StreamIdleTimeout bounds the gap between stream chunks. Default 30s.
	StreamIdleTimeout time.Duration
}

// NewOpenAIProvider creates a remote chat provider.
func NewOpenAIProvider(opts OpenAIOptions) *OpenAIProvider {
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(opts.BaseURL, "/")
	}
	cfg.HTTPClient = &http.Client{} // stream lifetimes are context-bound

	model := opts.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	maxContext := opts.MaxContext
	if maxContext <= 0 {
		maxContext = 128000
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	idle := opts.StreamIdleTimeout
	if idle <= 0 {
		idle = 30 * time.Second
	}

	return &OpenAIProvider{
		client:            openai.NewClientWithConfig(cfg),
		name:              "openai",
		defaultModel:      model,
		maxContext:        maxContext,
		models:            []string{model},
		requestTimeout:    timeout,
		streamIdleTimeout: idle,
		counter:           NewTokenCounter(model),
	}
}

// Name returns "openai".
func (p *OpenAIProvider) Name() string { return p.name }

// Capabilities reports the remote provider's limits.
func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{
		MaxContext:        p.maxContext,
		SupportsTools:     true,
		SupportsStreaming: true,
		SupportedModels:   p.models,
	}
}

// CountTokens estimates tokens with the provider's default model encoding.
func (p *OpenAIProvider) CountTokens(text string) int {
	return p.counter.Count(text)
}

// Query performs one blocking chat round-trip.
func (p *OpenAIProvider) Query(ctx context.Context, messages []models.Message, opts QueryOptions, tools []ToolSpec) (*Result, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.requestTimeout)
	defer cancel()

	req := p.buildRequest(messages, opts, tools, false)
	resp, err := p.client.CreateChatCompletion(reqCtx, req)
	if err != nil {
		return nil, p.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, models.NewKindError(models.KindProviderProtocol, "no choices in completion response")
	}

	choice := resp.Choices[0].Message
	result := &Result{
		Content: choice.Content,
		Model:   resp.Model,
		Usage: models.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, models.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	return result, nil
}

// StreamQuery performs one chat round-trip in streaming mode.
func (p *OpenAIProvider) StreamQuery(ctx context.Context, messages []models.Message, opts QueryOptions, tools []ToolSpec) (<-chan StreamEvent, error) {
	req := p.buildRequest(messages, opts, tools, true)

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, p.wrapError(err)
	}

	events := make(chan StreamEvent, 64)
	go p.readStream(ctx, stream, events)
	return events, nil
}

// recvResult carries one stream.Recv outcome across goroutines.
type recvResult struct {
	response openai.ChatCompletionStreamResponse
	err      error
}

// readStream consumes the wire stream and forwards tagged events. Every send
// also waits on ctx so an abandoned consumer never strands this goroutine,
// and an idle timer between chunks fails a stalled upstream with
// provider_timeout.
func (p *OpenAIProvider) readStream(ctx context.Context, stream *openai.ChatCompletionStream, events chan<- StreamEvent) {
	defer close(events)
	defer stream.Close()

	send := func(ev StreamEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	// Recv blocks without a deadline, so it runs on its own goroutine; the
	// deferred stream.Close unblocks it when this function bails out early.
	recvCh := make(chan recvResult)
	readerDone := make(chan struct{})
	defer close(readerDone)
	go func() {
		for {
			response, err := stream.Recv()
			select {
			case recvCh <- recvResult{response: response, err: err}:
			case <-readerDone:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	// Partial tool calls keyed by wire index; assembled at stream end.
	pending := make(map[int]*models.ToolCall)
	order := make([]int, 0, 4)
	var usage *models.Usage

	flushToolCalls := func() bool {
		for _, idx := range order {
			tc := pending[idx]
			if tc != nil && tc.ID != "" && tc.Name != "" {
				if !send(StreamEvent{ToolCall: tc}) {
					return false
				}
			}
		}
		pending = make(map[int]*models.ToolCall)
		order = order[:0]
		return true
	}

	idle := time.NewTimer(p.streamIdleTimeout)
	defer idle.Stop()

	for {
		var rr recvResult
		select {
		case rr = <-recvCh:
		case <-idle.C:
			send(StreamEvent{Err: models.NewKindError(models.KindProviderTimeout,
				"no stream activity within %s", p.streamIdleTimeout)})
			return
		case <-ctx.Done():
			// Best effort; the consumer may already be gone.
			select {
			case events <- StreamEvent{Err: models.WrapKind(models.KindProviderTimeout, ctx.Err())}:
			default:
			}
			return
		}
		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(p.streamIdleTimeout)

		if rr.err != nil {
			if errors.Is(rr.err, io.EOF) {
				if flushToolCalls() {
					send(StreamEvent{Usage: usage, Done: true})
				}
				return
			}
			send(StreamEvent{Err: p.wrapError(rr.err)})
			return
		}
		response := rr.response

		if response.Usage != nil {
			usage = &models.Usage{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
				TotalTokens:      response.Usage.TotalTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]

		if choice.Delta.Content != "" {
			if !send(StreamEvent{Text: choice.Delta.Content}) {
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := pending[idx]
			if !ok {
				call = &models.ToolCall{}
				pending[idx] = call
				order = append(order, idx)
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				call.Arguments = append(call.Arguments, tc.Function.Arguments...)
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flushToolCalls() {
				return
			}
		}
	}
}

func (p *OpenAIProvider) buildRequest(messages []models.Message, opts QueryOptions, tools []ToolSpec, stream bool) openai.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = p.defaultModel
	}

	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: toWireMessages(messages),
		Stream:   stream,
	}
	if stream {
		req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature != nil {
		req.Temperature = float32(*opts.Temperature)
	}
	if len(tools) > 0 {
		req.Tools = toWireTools(tools)
	}
	return req
}

func toWireMessages(messages []models.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		wire := openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}
		switch msg.Role {
		case models.RoleAssistant:
			for _, tc := range msg.ToolCalls {
				wire.ToolCalls = append(wire.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
		case models.RoleTool:
			wire.ToolCallID = msg.ToolCallID
			wire.Name = msg.Name
		}
		out = append(out, wire)
	}
	return out
}

func toWireTools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		var schema map[string]any
		if err := json.Unmarshal(t.Parameters, &schema); err != nil {
			// One bad schema must not break the rest of the toolset.
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		}
	}
	return out
}

// wrapError maps transport and API failures to ErrorKinds. 408 and 429 are
// transient; other 4xx are protocol errors and not retried.
func (p *OpenAIProvider) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return models.WrapKind(models.KindProviderRateLimited, err)
		case apiErr.HTTPStatusCode == http.StatusRequestTimeout:
			return models.WrapKind(models.KindProviderTimeout, err)
		case apiErr.HTTPStatusCode >= 500:
			return models.WrapKind(models.KindProviderUnavailable, err)
		case apiErr.HTTPStatusCode >= 400:
			return models.WrapKind(models.KindProviderProtocol, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.WrapKind(models.KindProviderTimeout, err)
	}
	switch models.KindOf(err) {
	case models.KindProviderTimeout:
		return models.WrapKind(models.KindProviderTimeout, err)
	case models.KindProviderRateLimited:
		return models.WrapKind(models.KindProviderRateLimited, err)
	case models.KindNetwork:
		return models.WrapKind(models.KindProviderUnavailable, err)
	default:
		return models.WrapKind(models.KindProviderProtocol, err)
	}
}
