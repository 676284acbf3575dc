package orchestrator

import (
	"context"
	"time"

	"github.com/docsage/docsage/internal/llm"
	"github.com/docsage/docsage/internal/tools"
	"github.com/docsage/docsage/internal/tools/gittools"
	"github.com/docsage/docsage/pkg/models"
)

// EventSink receives the streamed events of one turn. Implementations map
// them onto a transport (SSE in the HTTP server). A sink write error means
// the client is gone: the orchestrator cancels the upstream stream and
// abandons the turn.
type EventSink interface {
	Text(delta string) error
	ToolCallStarted(id, name string) error
	ToolCallCompleted(id, name string, isError bool) error

	// TurnBoundary separates provider round-trips within one session.
	TurnBoundary() error

	// Error delivers a failure frame. The transport must not change the
	// HTTP status; bytes may already be on the wire.
	Error(kind models.ErrorKind, message string) error

	// Done closes the session after the final round-trip.
	Done(resp *models.LLMResponse) error
}

// Stream executes one streaming turn, forwarding token deltas as they
// arrive. The tool loop restarts the provider stream after each batch of
// tool executions; a turn_boundary event separates the round-trips. Caching
// is disabled for streaming turns.
func (o *Orchestrator) Stream(ctx context.Context, req *QueryRequest, sink EventSink) error {
	if o.turnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.turnTimeout)
		defer cancel()
	}
	o.metrics.StreamStarted()
	defer o.metrics.StreamEnded()

	setup, err := o.prepare(req)
	if err != nil {
		o.metrics.ObserveTurn("stream", err)
		return err
	}
	o.metrics.ObserveCache("skip")

	err = o.streamToolLoop(ctx, req, setup, sink)
	o.metrics.ObserveTurn("stream", err)
	return err
}

// roundTrip is one consumed provider stream.
type roundTrip struct {
	content   string
	toolCalls []models.ToolCall
	usage     models.Usage
}

func (o *Orchestrator) streamToolLoop(ctx context.Context, req *QueryRequest, setup *turnSetup, sink EventSink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	messages := setup.messages
	var usage models.Usage
	var executions []models.ToolExecution
	toolCtx := gittools.WithRepositoryContext(ctx, req.RepositoryContext)

	rt, err := o.streamOnce(ctx, messages, req.Options, setup.specs, sink)
	if err != nil {
		return o.deliverStreamError(sink, err)
	}
	usage.Add(rt.usage)

	partial := false
	for iter := 0; len(rt.toolCalls) > 0; iter++ {
		if iter >= setup.maxIter {
			partial = true
			break
		}

		messages = append(messages, models.Message{
			Role:      models.RoleAssistant,
			Content:   rt.content,
			ToolCalls: rt.toolCalls,
		})

		var sinkErr error
		batch := o.executor.ExecuteBatch(toolCtx, rt.toolCalls, func(ev tools.ExecEvent) {
			if sinkErr != nil {
				return
			}
			switch ev.Type {
			case tools.ExecStarted:
				sinkErr = sink.ToolCallStarted(ev.ID, ev.Name)
			case tools.ExecCompleted:
				sinkErr = sink.ToolCallCompleted(ev.ID, ev.Name, false)
			case tools.ExecFailed:
				sinkErr = sink.ToolCallCompleted(ev.ID, ev.Name, true)
			}
			if sinkErr != nil {
				cancel()
			}
		})
		if sinkErr != nil {
			return models.WrapKind(models.KindClientGone, sinkErr)
		}

		for _, exec := range batch {
			o.metrics.ObserveTool(exec.Name, exec.Duration, exec.IsError)
			executions = append(executions, exec)
			messages = append(messages, models.NewToolMessage(exec.ToolCallID, exec.Name, exec.Result))
		}

		if err := sink.TurnBoundary(); err != nil {
			cancel()
			return models.WrapKind(models.KindClientGone, err)
		}

		rt, err = o.streamOnce(ctx, messages, req.Options, setup.specs, sink)
		if err != nil {
			return o.deliverStreamError(sink, err)
		}
		usage.Add(rt.usage)
	}

	final := models.Message{Role: models.RoleAssistant, Content: rt.content}
	if partial {
		final.ToolCalls = rt.toolCalls
		_ = sink.Error(models.KindPartialToolLoop, "tool iteration budget exhausted")
	}
	messages = append(messages, final)

	info := setup.info
	info.PartialToolLoop = partial

	resp := &models.LLMResponse{
		Content:                      rt.content,
		Model:                        req.Options.Model,
		Provider:                     o.provider.Name(),
		Usage:                        usage,
		ToolExecutionResults:         executions,
		OptimizedConversationHistory: messages,
		HistoryOptimizationInfo:      &info,
	}
	if partial {
		resp.ToolCalls = rt.toolCalls
	}
	if err := sink.Done(resp); err != nil {
		return models.WrapKind(models.KindClientGone, err)
	}
	return nil
}

// streamOnce opens one provider stream and forwards it to the sink.
// StreamQuery failures before the first event retry per the provider retry
// policy; mid-stream failures do not.
func (o *Orchestrator) streamOnce(ctx context.Context, messages []models.Message, opts llm.QueryOptions, specs []llm.ToolSpec, sink EventSink) (*roundTrip, error) {
	var events <-chan llm.StreamEvent
	var lastErr error
	var opened time.Time
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
		var err error
		events, err = o.provider.StreamQuery(ctx, messages, opts, specs)
		if err == nil {
			opened = start
			break
		}
		o.metrics.ObserveProviderCall(o.provider.Name(), opts.Model, time.Since(start), err)
		lastErr = err
		if !models.KindOf(err).Retryable() {
			return nil, err
		}
	}
	if events == nil {
		return nil, lastErr
	}

	rt := &roundTrip{}
	for ev := range events {
		switch {
		case ev.Err != nil:
			return nil, ev.Err
		case ev.Text != "":
			rt.content += ev.Text
			if err := sink.Text(ev.Text); err != nil {
				return nil, models.WrapKind(models.KindClientGone, err)
			}
		case ev.ToolCall != nil:
			rt.toolCalls = append(rt.toolCalls, *ev.ToolCall)
		case ev.Done:
			if ev.Usage != nil {
				rt.usage = *ev.Usage
				o.metrics.ObserveTokens(o.provider.Name(), opts.Model,
					ev.Usage.PromptTokens, ev.Usage.CompletionTokens)
			}
		}
	}
	o.metrics.ObserveProviderCall(o.provider.Name(), opts.Model, time.Since(opened), nil)
	return rt, nil
}

// deliverStreamError forwards a turn failure to the sink unless the client
// itself is gone.
func (o *Orchestrator) deliverStreamError(sink EventSink, err error) error {
	kind := models.KindOf(err)
	if kind != models.KindClientGone {
		_ = sink.Error(kind, err.Error())
	}
	return err
}
