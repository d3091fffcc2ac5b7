// Package controlplane speaks newline-delimited JSON-RPC 2.0 with the
// host process. One stream carries both directions of control traffic
// and the tool bridge: inbound lines with a method are requests to us,
// inbound lines with only an id are the host's answers to our own
// outbound tool calls.
package controlplane

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// JSON-RPC error codes used on this stream.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
	CodeServerError    = -32000
)

// Method names the host may call.
const (
	MethodProcessQuery   = "process_query"
	MethodUpdateContext  = "update_context"
	MethodSetCredentials = "set_credentials"
	MethodImprovePrompt  = "improve_prompt"
)

// RPCError is a JSON-RPC error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Handler implements the control methods. Params arrive raw so each
// method owns its own decoding; a returned *RPCError passes through
// verbatim, any other error becomes a server error.
type Handler interface {
	Handle(ctx context.Context, method string, params json.RawMessage) (any, error)
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// maxLineBytes bounds a single stream line; attachments travel by
// path, not by value, so lines stay small.
const maxLineBytes = 4 * 1024 * 1024

// Server runs the stream. All writes to out funnel through a single
// goroutine, so control responses, bridge requests, and log
// notifications never interleave mid-line.
type Server struct {
	in      io.Reader
	out     io.Writer
	handler Handler
	// toHost carries the bridge's outbound traffic onto the stream.
	toHost <-chan json.RawMessage
	// fromHost receives the host's answers for the bridge.
	fromHost chan<- json.RawMessage
	logger   *slog.Logger

	responses chan json.RawMessage
	wg        sync.WaitGroup
}

func NewServer(in io.Reader, out io.Writer, handler Handler, toHost <-chan json.RawMessage, fromHost chan<- json.RawMessage, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		in:        in,
		out:       out,
		handler:   handler,
		toHost:    toHost,
		fromHost:  fromHost,
		logger:    logger,
		responses: make(chan json.RawMessage, 16),
	}
}

// Run reads the stream until EOF or ctx is cancelled. Requests are
// handled concurrently; a slow query does not block credential updates
// or the bridge.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go s.writeLoop(ctx, writerDone)

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		s.route(ctx, line)
	}
	s.wg.Wait()
	cancel()
	<-writerDone
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return nil
}

// writeLoop is the only writer on out.
func (s *Server) writeLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for {
		var raw json.RawMessage
		select {
		case raw = <-s.responses:
		case raw = <-s.toHost:
		case <-ctx.Done():
			// Drain queued responses before exiting.
			for {
				select {
				case raw = <-s.responses:
					s.writeLine(raw)
				default:
					return
				}
			}
		}
		s.writeLine(raw)
	}
}

func (s *Server) writeLine(raw json.RawMessage) {
	if _, err := s.out.Write(append(raw, '\n')); err != nil {
		s.logger.Error("write stream", "error", err)
	}
}

func (s *Server) route(ctx context.Context, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.enqueue(response{
			JSONRPC: "2.0",
			ID:      json.RawMessage("null"),
			Error:   &RPCError{Code: CodeParseError, Message: "parse error: " + err.Error()},
		})
		return
	}

	switch {
	case req.Method != "":
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleRequest(ctx, req)
		}()
	case len(req.ID) != 0:
		// A bare id is the host answering one of our tool calls.
		select {
		case s.fromHost <- json.RawMessage(line):
		case <-ctx.Done():
		}
	default:
		s.logger.Warn("dropping stream line with neither method nor id")
	}
}

func (s *Server) handleRequest(ctx context.Context, req request) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked", "method", req.Method, "panic", r)
			s.reply(req.ID, nil, &RPCError{Code: CodeInternalError, Message: "internal error"})
		}
	}()

	result, err := s.handler.Handle(ctx, req.Method, req.Params)
	if err != nil {
		if rpcErr, ok := err.(*RPCError); ok {
			s.reply(req.ID, nil, rpcErr)
			return
		}
		s.reply(req.ID, nil, &RPCError{Code: CodeServerError, Message: err.Error()})
		return
	}
	s.reply(req.ID, result, nil)
}

func (s *Server) reply(id json.RawMessage, result any, rpcErr *RPCError) {
	if len(id) == 0 {
		// Notification: nothing goes back.
		return
	}
	s.enqueue(response{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr})
}

func (s *Server) enqueue(resp response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", "error", err)
		raw, _ = json.Marshal(response{
			JSONRPC: "2.0",
			ID:      resp.ID,
			Error:   &RPCError{Code: CodeInternalError, Message: "internal error"},
		})
	}
	s.responses <- raw
}
