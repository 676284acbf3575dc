// Package orchestrator drives a single user turn end to end: system-prompt
// construction, history optimization, cache consultation, the provider call,
// and the bounded tool loop.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/docsage/docsage/internal/history"
	"github.com/docsage/docsage/internal/llm"
	"github.com/docsage/docsage/internal/metrics"
	"github.com/docsage/docsage/internal/prompt"
	"github.com/docsage/docsage/internal/tools"
	"github.com/docsage/docsage/internal/tools/gittools"
	"github.com/docsage/docsage/pkg/models"
)

// Defaults for the turn loop.
const (
	DefaultMaxToolIterations = 5
	DefaultProviderRetries   = 2
	DefaultRetryBackoff      = 500 * time.Millisecond

	// contextHeadroom is reserved below the provider context window when
	// trimming history. The local token estimate can undercount versus the
	// provider tokenizer, and the completion needs room too.
	contextHeadroom = 1024
)

// QueryRequest is the full input for one turn.
type QueryRequest struct {
	Prompt  string           `json:"prompt"`
	History []models.Message `json:"history,omitempty"`

	RepositoryContext *models.RepositoryContext `json:"repository_context,omitempty"`
	DocumentMetadata  *models.DocumentMetadata  `json:"document_metadata,omitempty"`
	DocumentContent   string                    `json:"document_content,omitempty"`
	TemplateID        string                    `json:"template_id,omitempty"`

	// ToolsEnabled defaults to true when omitted.
	ToolsEnabled *bool `json:"tools_enabled,omitempty"`

	Options llm.QueryOptions `json:"options,omitempty"`

	// MaxToolIterations overrides the configured bound when positive.
	MaxToolIterations int `json:"max_tool_iterations,omitempty"`
}

func (r *QueryRequest) toolsEnabled() bool {
	return r.ToolsEnabled == nil || *r.ToolsEnabled
}

// Validate rejects malformed requests before any provider call is made.
func (r *QueryRequest) Validate() error {
	if r.Prompt == "" {
		return models.NewKindError(models.KindInvalidRequest, "prompt is required")
	}
	if r.RepositoryContext != nil {
		if err := r.RepositoryContext.Validate(); err != nil {
			return models.WrapKind(models.KindInvalidRequest, err)
		}
	}
	for i, msg := range r.History {
		if err := msg.Validate(); err != nil {
			return models.NewKindError(models.KindInvalidRequest, "history message %d: %v", i, err)
		}
	}
	return nil
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Provider  llm.Provider
	Registry  *tools.Registry
	Executor  *tools.Executor
	Builder   *prompt.Builder
	Optimizer *history.Optimizer

	// Estimator is used for the post-optimization overflow check. Usually
	// the same token counter backing the optimizer.
	Estimator history.Estimator

	// Cache may be nil to disable response caching entirely.
	Cache *llm.ResponseCache

	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// EnabledTools restricts the registry snapshot exposed to the model.
	// Nil exposes everything.
	EnabledTools []string

	MaxToolIterations int
	ProviderRetries   int
	RetryBackoff      time.Duration

	// TurnTimeout bounds a whole turn including tool execution. 0 disables
	// the orchestrator-level deadline.
	TurnTimeout time.Duration
}

// Orchestrator executes turns. It is safe for concurrent use; all per-turn
// state lives on the stack.
type Orchestrator struct {
	provider  llm.Provider
	registry  *tools.Registry
	executor  *tools.Executor
	builder   *prompt.Builder
	optimizer *history.Optimizer
	estimator history.Estimator
	cache     *llm.ResponseCache
	metrics   *metrics.Metrics
	logger    *slog.Logger

	enabledTools  []string
	maxIterations int
	retries       int
	retryBackoff  time.Duration
	turnTimeout   time.Duration
}

// New creates an orchestrator. Provider, Registry, Executor, Builder, and
// Optimizer are required.
func New(opts Options) *Orchestrator {
	if opts.MaxToolIterations <= 0 {
		opts.MaxToolIterations = DefaultMaxToolIterations
	}
	if opts.ProviderRetries <= 0 {
		opts.ProviderRetries = DefaultProviderRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Orchestrator{
		provider:      opts.Provider,
		registry:      opts.Registry,
		executor:      opts.Executor,
		builder:       opts.Builder,
		optimizer:     opts.Optimizer,
		estimator:     opts.Estimator,
		cache:         opts.Cache,
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		enabledTools:  opts.EnabledTools,
		maxIterations: opts.MaxToolIterations,
		retries:       opts.ProviderRetries,
		retryBackoff:  opts.RetryBackoff,
		turnTimeout:   opts.TurnTimeout,
	}
}

// turnSetup is the shared preamble of the streaming and non-streaming paths.
type turnSetup struct {
	messages  []models.Message
	info      models.HistoryOptimizationInfo
	specs     []llm.ToolSpec
	toolNames []string
	maxIter   int
}

func (o *Orchestrator) prepare(req *QueryRequest) (*turnSetup, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sysMsg, err := o.builder.Build(prompt.BuildInputs{
		TemplateID:      req.TemplateID,
		RepoCtx:         req.RepositoryContext,
		DocMeta:         req.DocumentMetadata,
		DocumentContent: req.DocumentContent,
		IncludeContent:  req.DocumentContent != "",
	})
	if err != nil {
		return nil, err
	}

	var messages []models.Message
	if sysMsg != nil {
		messages = append(messages, *sysMsg)
	}
	messages = append(messages, RepairTranscript(req.History)...)
	messages = append(messages, models.NewUserMessage(req.Prompt))

	maxContext := o.provider.Capabilities().MaxContext
	budget := maxContext
	if budget > contextHeadroom {
		budget -= contextHeadroom
	}
	optimized, info := o.optimizer.Optimize(messages, budget)
	if o.estimator != nil && maxContext > 0 && o.estimator.CountMessages(optimized) > maxContext {
		return nil, models.NewKindError(models.KindContextOverflow,
			"conversation exceeds the provider context window even after optimization")
	}

	setup := &turnSetup{
		messages: optimized,
		info:     info,
		maxIter:  o.maxIterations,
	}
	if req.MaxToolIterations > 0 {
		setup.maxIter = req.MaxToolIterations
	}
	if req.toolsEnabled() && o.registry != nil {
		setup.specs = o.registry.Specs(o.enabledTools)
		for _, s := range setup.specs {
			setup.toolNames = append(setup.toolNames, s.Name)
		}
	}
	return setup, nil
}

// cacheEligible reports whether this turn may read and write the cache.
// Streaming turns and turns whose toolset can mutate external state never
// touch it.
func (o *Orchestrator) cacheEligible(setup *turnSetup, stream bool) bool {
	if o.cache == nil || stream {
		return false
	}
	if len(setup.toolNames) > 0 && o.registry.AnySideEffecting(setup.toolNames) {
		return false
	}
	return true
}

// Query executes one non-streaming turn.
func (o *Orchestrator) Query(ctx context.Context, req *QueryRequest) (*models.LLMResponse, error) {
	if o.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.turnTimeout)
		defer cancel()
	}

	setup, err := o.prepare(req)
	if err != nil {
		o.metrics.ObserveTurn("query", err)
		return nil, err
	}

	var fingerprint string
	eligible := o.cacheEligible(setup, false)
	if eligible {
		fingerprint = llm.Fingerprint(o.provider.Name(), req.Options.Model,
			setup.messages, req.Options, llm.ToolsHash(setup.specs))
		if cached, ok := o.cache.Get(fingerprint); ok {
			o.metrics.ObserveCache("hit")
			o.metrics.ObserveTurn("query", nil)
			cached.Cached = true
			return &cached, nil
		}
		o.metrics.ObserveCache("miss")
	} else {
		o.metrics.ObserveCache("skip")
	}

	resp, err := o.runToolLoop(ctx, req, setup)
	o.metrics.ObserveTurn("query", err)
	if err != nil {
		return nil, err
	}

	if eligible && !resp.HistoryOptimizationInfo.PartialToolLoop {
		o.cache.Put(fingerprint, *resp)
	}
	return resp, nil
}

// runToolLoop performs the provider call and bounded tool loop shared by the
// non-streaming path. Tool results append in tool_calls order.
func (o *Orchestrator) runToolLoop(ctx context.Context, req *QueryRequest, setup *turnSetup) (*models.LLMResponse, error) {
	messages := setup.messages
	var usage models.Usage
	var executions []models.ToolExecution

	result, err := o.callProvider(ctx, messages, req.Options, setup.specs)
	if err != nil {
		return nil, err
	}
	usage.Add(result.Usage)

	toolCtx := gittools.WithRepositoryContext(ctx, req.RepositoryContext)
	partial := false

	for iter := 0; len(result.ToolCalls) > 0; iter++ {
		if iter >= setup.maxIter {
			partial = true
			o.logger.Warn("tool iteration budget exhausted",
				"iterations", setup.maxIter,
				"pending_calls", len(result.ToolCalls))
			break
		}

		messages = append(messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   result.Content,
			ToolCalls: result.ToolCalls,
		})

		batch := o.executor.ExecuteBatch(toolCtx, result.ToolCalls, nil)
		for _, exec := range batch {
			o.metrics.ObserveTool(exec.Name, exec.Duration, exec.IsError)
			executions = append(executions, exec)
			messages = append(messages, models.NewToolMessage(exec.ToolCallID, exec.Name, exec.Result))
		}

		result, err = o.callProvider(ctx, messages, req.Options, setup.specs)
		if err != nil {
			return nil, err
		}
		usage.Add(result.Usage)
	}

	// The terminal assistant message completes the returned transcript.
	final := models.Message{Role: models.RoleAssistant, Content: result.Content}
	if partial {
		final.ToolCalls = result.ToolCalls
	}
	messages = append(messages, final)

	info := setup.info
	info.PartialToolLoop = partial

	resp := &models.LLMResponse{
		Content:                      result.Content,
		Model:                        result.Model,
		Provider:                     o.provider.Name(),
		Usage:                        usage,
		ToolExecutionResults:         executions,
		OptimizedConversationHistory: messages,
		HistoryOptimizationInfo:      &info,
	}
	if partial {
		resp.ToolCalls = result.ToolCalls
	}
	return resp, nil
}

// callProvider issues one provider round-trip with the retry policy: up to
// o.retries retries with exponential backoff, transient kinds only.
func (o *Orchestrator) callProvider(ctx context.Context, messages []models.Message, opts llm.QueryOptions, specs []llm.ToolSpec) (*llm.Result, error) {
	var lastErr error
	backoff := o.retryBackoff

	for attempt := 0; attempt <= o.retries; attempt++ {
		if attempt > 0 {
			o.metrics.ObserveRetry(o.provider.Name(), string(models.KindOf(lastErr)))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, models.WrapKind(models.KindProviderTimeout, ctx.Err())
			}
			backoff *= 2
		}

		start := time.Now()
		result, err := o.provider.Query(ctx, messages, opts, specs)
		o.metrics.ObserveProviderCall(o.provider.Name(), opts.Model, time.Since(start), err)
		if err == nil {
			o.metrics.ObserveTokens(o.provider.Name(), result.Model,
				result.Usage.PromptTokens, result.Usage.CompletionTokens)
			return result, nil
		}

		lastErr = err
		if !models.KindOf(err).Retryable() {
			return nil, err
		}
		o.logger.Warn("provider call failed, will retry",
			"attempt", attempt+1,
			"kind", models.KindOf(err),
			"error", err)
	}
	return nil, lastErr
}
