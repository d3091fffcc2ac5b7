package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alexandertaboriskiy/navixmind-sub000/internal/bridge"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/metrics"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/sandbox"
	"github.com/alexandertaboriskiy/navixmind-sub000/pkg/models"
)

// HostCaller forwards a tool invocation to the host. *bridge.Bridge
// satisfies it; tests substitute a fake.
type HostCaller interface {
	Call(ctx context.Context, tool string, args map[string]any, timeout time.Duration) bridge.Outcome
}

// Options tune dispatch behavior beyond the per-tool defaults.
type Options struct {
	// OutputDir is where sandboxed runs may leave artifacts.
	OutputDir string
	// SandboxTimeout overrides the class budget for sandboxed runs
	// when positive.
	SandboxTimeout time.Duration
	// HostCallCap bounds every host call's budget when positive.
	HostCallCap time.Duration
}

// Dispatcher routes validated tool calls to their execution target.
// Every call produces a ToolResult: failures travel back to the model
// as is_error results, never as Go errors, so the conversation can
// continue.
type Dispatcher struct {
	registry *Registry
	sandbox  *sandbox.Executor
	host     HostCaller
	files    *FileResolver
	metrics  *metrics.Metrics
	opts     Options
	logger   *slog.Logger
}

func NewDispatcher(registry *Registry, exec *sandbox.Executor, host HostCaller, files *FileResolver, m *metrics.Metrics, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if files == nil {
		files = NewFileResolver()
	}
	return &Dispatcher{
		registry: registry,
		sandbox:  exec,
		host:     host,
		files:    files,
		metrics:  m,
		opts:     opts,
		logger:   logger,
	}
}

// Files exposes the resolver so the context-update path can refresh it.
func (d *Dispatcher) Files() *FileResolver { return d.files }

// Defs returns the tool catalog for the model request.
func (d *Dispatcher) Defs() []models.ToolDef { return d.registry.Defs() }

// Dispatch executes one tool call and returns its result.
func (d *Dispatcher) Dispatch(ctx context.Context, call models.ToolCall) models.ToolResult {
	binding, ok := d.registry.Lookup(call.Name)
	if !ok {
		return errorResult(call, fmt.Sprintf("unknown tool %q", call.Name))
	}
	if err := d.registry.ValidateInput(call.Name, call.Input); err != nil {
		return errorResult(call, err.Error())
	}

	d.logger.Info("dispatching tool", "tool", call.Name, "kind", binding.Kind)
	switch binding.Kind {
	case KindSandbox:
		return d.runSandboxed(ctx, call, binding)
	case KindHost:
		return d.runOnHost(ctx, call, binding)
	default:
		return errorResult(call, fmt.Sprintf("tool %q has no execution target", call.Name))
	}
}

func (d *Dispatcher) runSandboxed(ctx context.Context, call models.ToolCall, binding Binding) models.ToolResult {
	var params codeParams
	if err := json.Unmarshal(call.Input, &params); err != nil {
		return errorResult(call, fmt.Sprintf("decode input: %v", err))
	}
	timeout := binding.Class.Duration()
	if d.opts.SandboxTimeout > 0 {
		timeout = d.opts.SandboxTimeout
	}
	res := d.sandbox.Execute(ctx, sandbox.Request{
		Code:         params.Code,
		AllowedPaths: d.files.Paths(),
		OutputDir:    d.opts.OutputDir,
		Timeout:      timeout,
	})
	switch res.Status {
	case sandbox.StatusOK:
		// Produced files become addressable by basename, both for host
		// tools and for later runs' read access.
		d.files.Add(res.Artifacts...)
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    renderRunOutput(res),
		}
	case sandbox.StatusTimedOut:
		return errorResult(call, res.Failure)
	default:
		return errorResult(call, res.Failure)
	}
}

// renderRunOutput folds the print stream, trailing value, and artifact
// listing into one block for the model.
func renderRunOutput(res sandbox.Result) string {
	var b strings.Builder
	if res.Output != "" {
		b.WriteString(res.Output)
	}
	if res.Value != "" {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
		b.WriteString(res.Value)
	}
	for _, a := range res.Artifacts {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "[created file: %s (%d bytes)]", a.Name, a.Size)
	}
	if b.Len() == 0 {
		return "(no output)"
	}
	return b.String()
}

func (d *Dispatcher) runOnHost(ctx context.Context, call models.ToolCall, binding Binding) models.ToolResult {
	var args map[string]any
	if err := json.Unmarshal(call.Input, &args); err != nil {
		return errorResult(call, fmt.Sprintf("decode input: %v", err))
	}
	for _, arg := range binding.FileArgs {
		if value, ok := args[arg].(string); ok {
			args[arg] = d.files.Resolve(value)
		}
	}

	timeout := binding.Class.Duration()
	if d.opts.HostCallCap > 0 && timeout > d.opts.HostCallCap {
		timeout = d.opts.HostCallCap
	}
	outcome := d.host.Call(ctx, call.Name, args, timeout)
	switch outcome.Status {
	case bridge.StatusOK:
		return models.ToolResult{
			ToolCallID: call.ID,
			Content:    renderHostResult(outcome.Result),
		}
	case bridge.StatusTimedOut:
		d.metrics.BridgeTimeout()
		return errorResult(call, fmt.Sprintf("tool %q did not respond within %s", call.Name, timeout))
	default:
		msg := "host reported an error"
		if outcome.Err != nil {
			msg = outcome.Err.Error()
		}
		return errorResult(call, msg)
	}
}

// renderHostResult turns a raw host result into text. Plain JSON
// strings are unquoted; everything else passes through as compact
// JSON.
func renderHostResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "(no output)"
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func errorResult(call models.ToolCall, msg string) models.ToolResult {
	return models.ToolResult{
		ToolCallID: call.ID,
		Content:    msg,
		IsError:    true,
	}
}
