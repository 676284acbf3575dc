package tools

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/docsage/docsage/pkg/models"
)

// DefaultConcurrency bounds parallel handler execution within one batch.
const DefaultConcurrency = 4

// ExecEventType tags executor lifecycle callbacks.
type ExecEventType string

const (
	ExecStarted   ExecEventType = "tool_call_started"
	ExecCompleted ExecEventType = "tool_call_completed"
	ExecFailed    ExecEventType = "tool_call_failed"
)

// ExecEvent is one lifecycle notification. Emission is best-effort and must
// never block execution.
type ExecEvent struct {
	Type ExecEventType
	ID   string
	Name string
}

// Executor runs a batch of tool calls concurrently with bounded parallelism.
// Results come back in the order of the originating calls regardless of
// completion order.
type Executor struct {
	registry    *Registry
	concurrency int
	logger      *slog.Logger
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Concurrency is the parallel handler limit per batch. Default 4.
	Concurrency int

	Logger *slog.Logger
}

// NewExecutor creates an executor over a registry.
func NewExecutor(registry *Registry, opts ExecutorOptions) *Executor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Executor{
		registry:    registry,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}
}

// ExecuteBatch invokes every call and returns one execution record per call,
// index-aligned with the input. The emit callback, when non-nil, receives
// started and completed events per call. Events are delivered one at a time:
// the callback never runs concurrently with itself, so it may touch
// single-writer transports like an SSE response directly.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []models.ToolCall, emit func(ExecEvent)) []models.ToolExecution {
	results := make([]models.ToolExecution, len(calls))
	sem := make(chan struct{}, e.concurrency)
	var wg sync.WaitGroup

	var emitMu sync.Mutex
	notify := func(ev ExecEvent) {
		if emit == nil {
			return
		}
		emitMu.Lock()
		defer emitMu.Unlock()
		emit(ev)
	}

	for i, call := range calls {
		wg.Add(1)
		go func(idx int, call models.ToolCall) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = models.ToolExecution{
					ToolCallID: call.ID,
					Name:       call.Name,
					Result:     failedCall(models.KindToolExecution, "batch canceled").JSON(),
					IsError:    true,
				}
				return
			}

			notify(ExecEvent{Type: ExecStarted, ID: call.ID, Name: call.Name})

			start := time.Now()
			res := e.registry.Call(ctx, call.Name, call.Arguments)
			elapsed := time.Since(start)

			results[idx] = models.ToolExecution{
				ToolCallID: call.ID,
				Name:       call.Name,
				Result:     res.JSON(),
				IsError:    !res.OK,
				Duration:   elapsed,
			}

			if !res.OK {
				e.logger.Warn("tool call failed",
					"tool", call.Name,
					"tool_call_id", call.ID,
					"error_kind", res.ErrorKind,
					"duration", elapsed)
			}
			typ := ExecCompleted
			if !res.OK {
				typ = ExecFailed
			}
			notify(ExecEvent{Type: typ, ID: call.ID, Name: call.Name})
		}(i, call)
	}

	wg.Wait()
	return results
}
