package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docsage/docsage/pkg/models"
)

func TestExecuteBatchPreservesOrder(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	err := r.Register(FunctionDefinition{
		Name:       "delay_echo",
		Parameters: json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer"},"ms":{"type":"integer"}}}`),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var in struct{ N, Ms int }
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, err
			}
			time.Sleep(time.Duration(in.Ms) * time.Millisecond)
			return in.N, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	e := NewExecutor(r, ExecutorOptions{Concurrency: 4})
	// The first call finishes last; results must still come back in call
	// order.
	calls := []models.ToolCall{
		{ID: "c0", Name: "delay_echo", Arguments: json.RawMessage(`{"n":0,"ms":60}`)},
		{ID: "c1", Name: "delay_echo", Arguments: json.RawMessage(`{"n":1,"ms":10}`)},
		{ID: "c2", Name: "delay_echo", Arguments: json.RawMessage(`{"n":2,"ms":1}`)},
	}

	results := e.ExecuteBatch(context.Background(), calls, nil)
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	for i, res := range results {
		if res.ToolCallID != fmt.Sprintf("c%d", i) {
			t.Fatalf("result %d has id %s", i, res.ToolCallID)
		}
		if res.IsError {
			t.Fatalf("result %d errored: %s", i, res.Result)
		}
		if !strings.Contains(res.Result, fmt.Sprintf(`"result":%d`, i)) {
			t.Fatalf("result %d payload = %s", i, res.Result)
		}
	}
}

func TestExecuteBatchBoundedConcurrency(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	var active, peak atomic.Int32
	err := r.Register(FunctionDefinition{
		Name: "busy",
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			n := active.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			active.Add(-1)
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	e := NewExecutor(r, ExecutorOptions{Concurrency: 2})
	calls := make([]models.ToolCall, 6)
	for i := range calls {
		calls[i] = models.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "busy", Arguments: json.RawMessage(`{}`)}
	}
	e.ExecuteBatch(context.Background(), calls, nil)

	if p := peak.Load(); p > 2 {
		t.Fatalf("peak concurrency = %d, limit 2", p)
	}
}

func TestExecuteBatchEmitsLifecycleEvents(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	if err := r.Register(echoDef("echo")); err != nil {
		t.Fatalf("register: %v", err)
	}
	e := NewExecutor(r, ExecutorOptions{})

	var mu sync.Mutex
	counts := map[ExecEventType]int{}
	calls := []models.ToolCall{
		{ID: "good", Name: "echo", Arguments: json.RawMessage(`{"text":"hi"}`)},
		{ID: "bad", Name: "echo", Arguments: json.RawMessage(`{"nope":true}`)},
	}
	e.ExecuteBatch(context.Background(), calls, func(ev ExecEvent) {
		mu.Lock()
		counts[ev.Type]++
		mu.Unlock()
	})

	if counts[ExecStarted] != 2 {
		t.Fatalf("started events = %d", counts[ExecStarted])
	}
	if counts[ExecCompleted] != 1 || counts[ExecFailed] != 1 {
		t.Fatalf("completion events = %+v", counts)
	}
}

func TestExecuteBatchEmitNeverOverlaps(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	err := r.Register(FunctionDefinition{
		Name: "sleepy",
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			time.Sleep(5 * time.Millisecond)
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	e := NewExecutor(r, ExecutorOptions{Concurrency: 4})

	calls := make([]models.ToolCall, 8)
	for i := range calls {
		calls[i] = models.ToolCall{ID: fmt.Sprintf("c%d", i), Name: "sleepy", Arguments: json.RawMessage(`{}`)}
	}

	// The callback feeds single-writer transports in production; two
	// invocations must never run at the same time even though the handlers
	// execute in parallel.
	var inFlight, overlaps atomic.Int32
	e.ExecuteBatch(context.Background(), calls, func(ev ExecEvent) {
		if !inFlight.CompareAndSwap(0, 1) {
			overlaps.Add(1)
			return
		}
		time.Sleep(time.Millisecond)
		inFlight.Store(0)
	})

	if n := overlaps.Load(); n != 0 {
		t.Fatalf("emit callback overlapped %d times", n)
	}
}

func TestExecuteBatchFailureIsData(t *testing.T) {
	r := NewRegistry(RegistryOptions{})
	if err := r.Register(echoDef("echo")); err != nil {
		t.Fatalf("register: %v", err)
	}
	e := NewExecutor(r, ExecutorOptions{})

	calls := []models.ToolCall{
		{ID: "c1", Name: "missing_tool", Arguments: json.RawMessage(`{}`)},
		{ID: "c2", Name: "echo", Arguments: json.RawMessage(`{"text":"ok"}`)},
	}
	results := e.ExecuteBatch(context.Background(), calls, nil)

	if !results[0].IsError || !strings.Contains(results[0].Result, string(models.KindToolNotFound)) {
		t.Fatalf("missing tool result = %+v", results[0])
	}
	if results[1].IsError {
		t.Fatalf("healthy call failed: %+v", results[1])
	}
}
