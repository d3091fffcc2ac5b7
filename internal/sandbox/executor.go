package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	starlarkjson "go.starlark.net/lib/json"
	starlarkmath "go.starlark.net/lib/math"
	starlarktime "go.starlark.net/lib/time"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/alexandertaboriskiy/navixmind-sub000/pkg/models"
)

// Status classifies how a sandboxed run ended.
type Status int

const (
	StatusOK Status = iota
	StatusFailed
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Request describes one sandboxed run. AllowedPaths grants read access
// to exactly those files; an empty list means no file access at all.
// Files the script writes land in OutputDir and are harvested after
// the run.
type Request struct {
	Code         string
	AllowedPaths []string
	OutputDir    string
	Timeout      time.Duration
}

// Result is the outcome of a run. Output is the captured print stream,
// Value the rendering of the script's trailing expression (empty when
// the script ends in a statement). Artifacts lists files the script
// left in the output directory.
type Result struct {
	Status    Status
	Output    string
	Value     string
	Artifacts []models.Attachment
	Failure   string
}

const (
	// DefaultTimeout bounds a run when the request does not set one.
	DefaultTimeout = 30 * time.Second
	// maxOutputBytes caps the captured print stream.
	maxOutputBytes = 64 * 1024

	truncationMarker = "\n[output truncated]"
)

// fileOptions is the Starlark dialect for every parse and exec in this
// package: scripts may loop, branch, and reassign at top level, since
// model-generated scripts routinely do all three.
var fileOptions = &syntax.FileOptions{
	TopLevelControl: true,
	While:           true,
	GlobalReassign:  true,
}

// Executor runs scripts in a capability-gated Starlark interpreter.
// Each run gets a fresh thread and fresh globals, so running the same
// code twice yields the same result.
type Executor struct {
	logger *slog.Logger
}

func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{logger: logger}
}

// Execute validates and runs req.Code. Validation failures never reach
// the interpreter. The run is raced against the timeout: on expiry the
// interpreter thread is cancelled and StatusTimedOut is returned
// without waiting for the worker, since a script stuck inside a Go
// builtin never observes the cancellation.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	if err := Validate(req.Code, len(req.AllowedPaths) > 0, req.OutputDir != ""); err != nil {
		return Result{Status: StatusFailed, Failure: err.Error()}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	output := &printBuffer{}
	thread := &starlark.Thread{
		Name:  "sandbox",
		Print: func(_ *starlark.Thread, msg string) { output.write(msg) },
		Load:  moduleLoader,
	}

	before := snapshotDir(req.OutputDir)

	type runResult struct {
		value starlark.Value
		err   error
	}
	// Buffered so an abandoned worker can still deliver and exit.
	done := make(chan runResult, 1)
	go func() {
		value, err := e.run(thread, req)
		done <- runResult{value: value, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var res runResult
	timedOut := false
	select {
	case res = <-done:
	case <-timer.C:
		timedOut = true
		thread.Cancel("time limit exceeded")
	case <-ctx.Done():
		timedOut = true
		thread.Cancel("cancelled")
	}

	result := Result{Output: output.String()}
	switch {
	case timedOut:
		result.Status = StatusTimedOut
		result.Failure = fmt.Sprintf("execution exceeded %s", timeout)
	case res.err != nil:
		result.Status = StatusFailed
		result.Failure = formatEvalError(res.err)
	default:
		result.Status = StatusOK
		if res.value != nil && res.value != starlark.None {
			result.Value = res.value.String()
		}
	}
	if req.OutputDir != "" {
		result.Artifacts = harvestArtifacts(req.OutputDir, before)
	}
	e.logger.Debug("sandbox run finished",
		"status", result.Status,
		"output_bytes", len(result.Output),
		"artifacts", len(result.Artifacts))
	return result
}

// printBuffer captures the print stream. The worker may still be
// printing when a timed-out Execute reads the buffer, so both sides
// lock.
type printBuffer struct {
	mu        sync.Mutex
	buf       strings.Builder
	truncated bool
}

func (p *printBuffer) write(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.truncated {
		return
	}
	if p.buf.Len()+len(msg)+1 > maxOutputBytes {
		p.truncated = true
		p.buf.WriteString(truncationMarker)
		return
	}
	p.buf.WriteString(msg)
	p.buf.WriteByte('\n')
}

func (p *printBuffer) String() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.String()
}

// run executes the script body and, when the script ends in a bare
// expression, evaluates that expression separately so its value can be
// reported alongside the print stream.
func (e *Executor) run(thread *starlark.Thread, req Request) (starlark.Value, error) {
	predeclared := basePredeclared(req)

	body, trailing, err := splitTrailingExpr(req.Code)
	if err != nil {
		return nil, err
	}
	globals, err := starlark.ExecFileOptions(fileOptions, thread, "script.star", body, predeclared)
	if err != nil {
		return nil, err
	}
	if trailing == "" {
		return starlark.None, nil
	}
	env := make(starlark.StringDict, len(predeclared)+len(globals))
	for k, v := range predeclared {
		env[k] = v
	}
	for k, v := range globals {
		env[k] = v
	}
	return starlark.EvalOptions(fileOptions, thread, "script.star", trailing, env)
}

// splitTrailingExpr separates the script into its body and a trailing
// bare expression, if the last top-level statement is one.
func splitTrailingExpr(code string) (body, trailing string, err error) {
	f, err := fileOptions.Parse("script.star", code, 0)
	if err != nil {
		return "", "", err
	}
	if len(f.Stmts) == 0 {
		return code, "", nil
	}
	last, ok := f.Stmts[len(f.Stmts)-1].(*syntax.ExprStmt)
	if !ok {
		return code, "", nil
	}
	start, _ := last.Span()
	lines := strings.Split(code, "\n")
	if int(start.Line) > len(lines) {
		return code, "", nil
	}
	body = strings.Join(lines[:start.Line-1], "\n")
	trailing = strings.TrimSpace(strings.Join(lines[start.Line-1:], "\n"))
	return body, trailing, nil
}

func moduleLoader(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	switch module {
	case "math.star":
		return starlark.StringDict{"math": starlarkmath.Module}, nil
	case "json.star":
		return starlark.StringDict{"json": starlarkjson.Module}, nil
	case "time.star":
		return starlark.StringDict{"time": starlarktime.Module}, nil
	default:
		return nil, fmt.Errorf("module %q is not available", module)
	}
}

// basePredeclared builds the environment for one run. File builtins
// appear only when the request grants the matching capability.
func basePredeclared(req Request) starlark.StringDict {
	env := starlark.StringDict{}
	if len(req.AllowedPaths) > 0 {
		env["open"] = starlark.NewBuiltin("open", makeOpen(req.AllowedPaths))
	}
	if req.OutputDir != "" {
		env["write_file"] = starlark.NewBuiltin("write_file", makeWriteFile(req.OutputDir))
	}
	return env
}

// makeOpen returns a read-only open(path) builtin restricted to the
// granted paths. The whole file is returned as a string.
func makeOpen(allowed []string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &path); err != nil {
			return nil, err
		}
		resolved, ok := resolveAllowed(path, allowed)
		if !ok {
			return nil, fmt.Errorf("open: %q is not an accessible file", path)
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return nil, fmt.Errorf("open: %w", err)
		}
		return starlark.String(data), nil
	}
}

// makeWriteFile returns a write_file(name, data) builtin that writes
// only into the run's output directory. Path components in name are
// rejected so the script cannot escape it.
func makeWriteFile(outputDir string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var name, data string
		if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &name, &data); err != nil {
			return nil, err
		}
		if name == "" || name != filepath.Base(name) {
			return nil, fmt.Errorf("write_file: invalid file name %q", name)
		}
		if err := os.WriteFile(filepath.Join(outputDir, name), []byte(data), 0o644); err != nil {
			return nil, fmt.Errorf("write_file: %w", err)
		}
		return starlark.None, nil
	}
}

// resolveAllowed matches path against the granted files, by full path
// or by basename, since scripts usually see only a file's short name.
func resolveAllowed(path string, allowed []string) (string, bool) {
	clean := filepath.Clean(path)
	for _, p := range allowed {
		if filepath.Clean(p) == clean || filepath.Base(p) == path {
			return p, true
		}
	}
	return "", false
}

// snapshotDir records the names present in dir so artifacts can be
// limited to files a run actually produced.
func snapshotDir(dir string) map[string]bool {
	if dir == "" {
		return nil
	}
	names := make(map[string]bool)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return names
	}
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	return names
}

// harvestArtifacts lists regular files newly present in dir after a
// run; files already there before the run are not re-reported. A
// missing or unreadable directory yields no artifacts rather than an
// error, since the run itself already succeeded or failed on its own
// terms.
func harvestArtifacts(dir string, before map[string]bool) []models.Attachment {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var artifacts []models.Attachment
	for _, entry := range entries {
		if entry.IsDir() || before[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		artifacts = append(artifacts, models.Attachment{
			Name: entry.Name(),
			Path: filepath.Join(dir, entry.Name()),
			Size: info.Size(),
		})
	}
	return artifacts
}

func formatEvalError(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Backtrace()
	}
	return err.Error()
}
