// Package bridge makes calls into the surrounding host application appear
// synchronous even though the only transport is an asynchronous, serialized
// message channel: requests are enqueued outbound for the host to poll, and
// responses arrive out of order on a separate inbound channel, paired back
// to their callers by correlation id.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MethodNativeTool is the outbound method name for host tool invocations.
const MethodNativeTool = "native_tool"

// MethodLog is the outbound method name for fire-and-forget log messages.
const MethodLog = "log"

// DefaultCallTimeout applies when Call is given a non-positive timeout.
const DefaultCallTimeout = 30 * time.Second

// Status is the three-way outcome of a host call. Callers must be able to
// tell "host never answered" apart from "host answered with a failure".
type Status int

const (
	// StatusOK means the host delivered a result payload.
	StatusOK Status = iota
	// StatusFailed means the host answered with an error, or the call could
	// not be issued at all.
	StatusFailed
	// StatusTimedOut means no response arrived before the deadline.
	StatusTimedOut
)

// String returns the status name for logging.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// HostError is a failure delivered by the host in a response payload.
type HostError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Error implements the error interface.
func (e *HostError) Error() string {
	return fmt.Sprintf("host error %d: %s", e.Code, e.Message)
}

// Outcome is the result of a single host call.
type Outcome struct {
	Status Status
	// Result is the host's result payload, verbatim. Set only on StatusOK.
	Result json.RawMessage
	// Err describes the failure. Set on StatusFailed and StatusTimedOut.
	Err *HostError
}

// outbound is the wire shape for host-bound messages. Log notifications
// carry no id and expect no reply.
type outbound struct {
	ID     string `json:"id,omitempty"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

type nativeToolParams struct {
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	TimeoutMs int64          `json:"timeout_ms"`
}

type logParams struct {
	Level    string   `json:"level"`
	Message  string   `json:"message"`
	Progress *float64 `json:"progress,omitempty"`
}

// inboundResponse is the wire shape for host replies.
type inboundResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *HostError      `json:"error,omitempty"`
}

// Bridge pairs outbound host requests with their asynchronous responses.
// The pending map is the single shared mutable structure; its mutex guards
// only map mutation, never the wait itself, so a blocked caller can never
// stall the dispatcher or another caller's registration.
type Bridge struct {
	out    chan<- json.RawMessage
	in     <-chan json.RawMessage
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan inboundResponse

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a bridge over the given outbound queue and inbound channel.
// Start must be called before Call will ever complete.
func New(out chan<- json.RawMessage, in <-chan json.RawMessage, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		out:     out,
		in:      in,
		logger:  logger.With("component", "bridge"),
		pending: make(map[string]chan inboundResponse),
		closed:  make(chan struct{}),
	}
}

// Start launches the background dispatcher that drains the inbound channel
// and releases waiters. It returns immediately.
func (b *Bridge) Start(ctx context.Context) {
	go b.dispatchLoop(ctx)
}

func (b *Bridge) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.Close()
			return
		case <-b.closed:
			return
		case raw, ok := <-b.in:
			if !ok {
				b.Close()
				return
			}
			b.deliver(raw)
		}
	}
}

// deliver routes one inbound host message to its waiting caller. Unmatched
// ids (arrived after timeout, or malformed payloads) are dropped without
// raising: the caller that would have consumed them is already gone.
func (b *Bridge) deliver(raw json.RawMessage) {
	var resp inboundResponse
	if err := json.Unmarshal(raw, &resp); err != nil || resp.ID == "" {
		b.logger.Debug("dropping unparseable host message", "error", err)
		return
	}

	b.mu.Lock()
	ch, ok := b.pending[resp.ID]
	if ok {
		delete(b.pending, resp.ID)
	}
	b.mu.Unlock()

	if !ok {
		b.logger.Debug("dropping response for unknown correlation id", "id", resp.ID)
		return
	}
	// The slot is buffered; this never blocks the dispatcher.
	ch <- resp
}

// Call issues a tool request to the host and blocks until a response
// arrives or the timeout elapses. Many calls may be outstanding at once,
// each with an independent deadline.
func (b *Bridge) Call(ctx context.Context, tool string, args map[string]any, timeout time.Duration) Outcome {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	id := uuid.NewString()
	slot := make(chan inboundResponse, 1)

	b.mu.Lock()
	b.pending[id] = slot
	b.mu.Unlock()

	payload, err := json.Marshal(outbound{
		ID:     id,
		Method: MethodNativeTool,
		Params: nativeToolParams{Tool: tool, Args: args, TimeoutMs: timeout.Milliseconds()},
	})
	if err != nil {
		b.remove(id)
		return failedOutcome(fmt.Sprintf("encode request: %v", err))
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case b.out <- payload:
	case <-timer.C:
		b.remove(id)
		return timedOutOutcome(tool, timeout)
	case <-ctx.Done():
		b.remove(id)
		return failedOutcome(ctx.Err().Error())
	case <-b.closed:
		b.remove(id)
		return failedOutcome("bridge closed")
	}

	select {
	case resp := <-slot:
		if resp.Error != nil {
			return Outcome{Status: StatusFailed, Err: resp.Error}
		}
		return Outcome{Status: StatusOK, Result: resp.Result}
	case <-timer.C:
		// Remove our own entry so a late response is silently ignored.
		b.remove(id)
		return timedOutOutcome(tool, timeout)
	case <-ctx.Done():
		b.remove(id)
		return failedOutcome(ctx.Err().Error())
	case <-b.closed:
		b.remove(id)
		return failedOutcome("bridge closed")
	}
}

// Log enqueues a fire-and-forget log message for the host. It carries no
// correlation id and expects no reply; when the outbound queue is full the
// message is dropped rather than stalling the caller.
func (b *Bridge) Log(level, message string, progress *float64) {
	payload, err := json.Marshal(outbound{
		Method: MethodLog,
		Params: logParams{Level: level, Message: message, Progress: progress},
	})
	if err != nil {
		return
	}
	select {
	case b.out <- payload:
	default:
		b.logger.Debug("outbound queue full, dropping log message")
	}
}

// Outstanding reports the number of calls currently awaiting a response.
func (b *Bridge) Outstanding() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close fails every outstanding call and stops the dispatcher. Safe to call
// more than once.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.closed)
		b.mu.Lock()
		for id, ch := range b.pending {
			delete(b.pending, id)
			ch <- inboundResponse{ID: id, Error: &HostError{Message: "bridge closed", Code: -1}}
		}
		b.mu.Unlock()
	})
}

func (b *Bridge) remove(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func failedOutcome(msg string) Outcome {
	return Outcome{Status: StatusFailed, Err: &HostError{Message: msg, Code: -1}}
}

func timedOutOutcome(tool string, timeout time.Duration) Outcome {
	return Outcome{
		Status: StatusTimedOut,
		Err:    &HostError{Message: fmt.Sprintf("host call %q timed out after %v", tool, timeout), Code: -2},
	}
}
