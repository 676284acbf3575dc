// Package tools implements the function registry the model calls into, plus
// the concurrent batch executor used by the tool loop.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/docsage/docsage/internal/llm"
	"github.com/docsage/docsage/pkg/models"
)

// DefaultCallTimeout bounds a single handler invocation unless the
// definition overrides it.
const DefaultCallTimeout = 30 * time.Second

var namePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_-]{0,63}$`)

// Handler executes one tool call. The returned value must be
// JSON-serializable. Handlers must honor ctx cancellation; uncooperative
// handlers are abandoned at the timeout and their result discarded.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// FunctionDefinition describes one callable tool.
type FunctionDefinition struct {
	Name        string
	Description string

	// Parameters is a JSON-Schema object fragment validated against every
	// call's arguments before the handler runs.
	Parameters json.RawMessage

	// SideEffecting marks tools that mutate external state. Their presence
	// in a turn's toolset disables response caching for that turn.
	SideEffecting bool

	// Available gates the tool's exposure to the model. A registered tool
	// whose Available reports false stays out of provider snapshots; Git
	// tools use this to withhold themselves when no credentials exist.
	// Nil means always available.
	Available func() bool

	// Timeout overrides the registry default for this tool when positive.
	Timeout time.Duration

	Handler Handler
}

type registeredTool struct {
	def    FunctionDefinition
	schema *jsonschema.Schema
}

// Registry maps tool names to definitions. It is populated at startup and
// read-only afterwards; registration takes the write lock so late additions
// stay safe.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*registeredTool

	enabled        map[string]bool
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	// DefaultTimeout applies to tools without their own. Default 30s.
	DefaultTimeout time.Duration

	// Enabled restricts registration to the named tools; Register silently
	// drops anything else, so the registry never carries tools the
	// deployment disabled. Empty means all tools register.
	Enabled []string

	// Logger receives panic reports and slow-call warnings. Default
	// slog.Default().
	Logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultCallTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	var enabled map[string]bool
	if len(opts.Enabled) > 0 {
		enabled = make(map[string]bool, len(opts.Enabled))
		for _, n := range opts.Enabled {
			enabled[n] = true
		}
	}
	return &Registry{
		tools:          make(map[string]*registeredTool),
		enabled:        enabled,
		defaultTimeout: opts.DefaultTimeout,
		logger:         opts.Logger,
	}
}

// Register adds a tool. The name must match the tool-name grammar and be
// unique; the parameter schema must compile. The schema is compiled once
// here, not per call.
func (r *Registry) Register(def FunctionDefinition) error {
	if !namePattern.MatchString(def.Name) {
		return fmt.Errorf("invalid tool name %q", def.Name)
	}
	if def.Handler == nil {
		return fmt.Errorf("tool %q has no handler", def.Name)
	}
	if r.enabled != nil && !r.enabled[def.Name] {
		return nil
	}
	if len(def.Parameters) == 0 {
		def.Parameters = json.RawMessage(`{"type":"object"}`)
	}

	compiler := jsonschema.NewCompiler()
	url := "registry:///" + def.Name + ".json"
	if err := compiler.AddResource(url, strings.NewReader(string(def.Parameters))); err != nil {
		return fmt.Errorf("tool %q: bad parameter schema: %w", def.Name, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("tool %q: bad parameter schema: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.tools[def.Name] = &registeredTool{def: def, schema: schema}
	return nil
}

// Get returns a definition by name.
func (r *Registry) Get(name string) (FunctionDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return FunctionDefinition{}, false
	}
	return t.def, true
}

// List returns all definitions sorted by name.
func (r *Registry) List() []FunctionDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FunctionDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Specs returns the provider-facing view of the registry. A non-nil enabled
// list restricts the result to those names.
func (r *Registry) Specs(enabled []string) []llm.ToolSpec {
	var allow map[string]bool
	if enabled != nil {
		allow = make(map[string]bool, len(enabled))
		for _, n := range enabled {
			allow[n] = true
		}
	}
	var specs []llm.ToolSpec
	for _, def := range r.List() {
		if allow != nil && !allow[def.Name] {
			continue
		}
		if def.Available != nil && !def.Available() {
			continue
		}
		specs = append(specs, llm.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}
	return specs
}

// AnySideEffecting reports whether any of the named tools mutates external
// state. Unknown names are ignored.
func (r *Registry) AnySideEffecting(names []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, n := range names {
		if t, ok := r.tools[n]; ok && t.def.SideEffecting {
			return true
		}
	}
	return false
}

// CallResult is the structured outcome of one tool call, serialized into the
// tool message content. Failures are data, not errors; a failed call never
// aborts the enclosing turn.
type CallResult struct {
	OK        bool             `json:"ok"`
	Result    any              `json:"result,omitempty"`
	ErrorKind models.ErrorKind `json:"error_kind,omitempty"`
	Message   string           `json:"message,omitempty"`
}

// JSON renders the result for a tool message.
func (cr CallResult) JSON() string {
	data, err := json.Marshal(cr)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"error_kind":"unknown","message":%q}`, err.Error())
	}
	return string(data)
}

func failedCall(kind models.ErrorKind, format string, args ...any) CallResult {
	return CallResult{OK: false, ErrorKind: kind, Message: fmt.Sprintf(format, args...)}
}

// Call validates arguments and invokes the named handler under its timeout.
// Validation failure never reaches the handler. Panics are contained and
// reported as tool_execution failures.
func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) CallResult {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return failedCall(models.KindToolNotFound, "no tool named %q", name)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return failedCall(models.KindInvalidArguments, "arguments are not valid JSON: %v", err)
	}
	if err := tool.schema.Validate(decoded); err != nil {
		return failedCall(models.KindInvalidArguments, "arguments rejected by schema: %v", err)
	}

	timeout := tool.def.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Error("tool handler panicked",
					"tool", name,
					"panic", rec,
					"stack", string(debug.Stack()))
				done <- outcome{err: models.NewKindError(models.KindToolExecution, "handler panicked: %v", rec)}
			}
		}()
		value, err := tool.def.Handler(callCtx, args)
		done <- outcome{value: value, err: err}
	}()

	select {
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return failedCall(models.KindToolTimeout, "tool %q timed out after %v", name, timeout)
		}
		return failedCall(models.KindToolExecution, "tool %q canceled", name)
	case out := <-done:
		if out.err != nil {
			kind := models.KindOf(out.err)
			switch kind {
			case models.KindAuth, models.KindNotFound, models.KindConflict,
				models.KindRateLimited, models.KindNetwork, models.KindInvalidArguments:
				// adapter kinds pass through
			default:
				kind = models.KindToolExecution
			}
			return failedCall(kind, "%v", out.err)
		}
		return CallResult{OK: true, Result: out.value}
	}
}
