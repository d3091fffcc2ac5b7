package conductor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alexandertaboriskiy/navixmind-sub000/internal/conversation"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/metrics"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/provider"
	"github.com/alexandertaboriskiy/navixmind-sub000/pkg/models"
)

// Phase is where the loop currently is within a turn.
type Phase int

const (
	PhaseThinking Phase = iota
	PhaseAwaitingModel
	PhaseToolUse
	PhaseLengthCapped
	PhaseCompleted
	PhaseUnexpected
)

func (p Phase) String() string {
	switch p {
	case PhaseThinking:
		return "thinking"
	case PhaseAwaitingModel:
		return "awaiting_model"
	case PhaseToolUse:
		return "tool_use"
	case PhaseLengthCapped:
		return "length_capped"
	case PhaseCompleted:
		return "completed"
	case PhaseUnexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Config bounds a single turn.
type Config struct {
	// MaxIterations caps model round-trips per turn.
	MaxIterations int
	// MaxToolCalls caps dispatched tool calls across the whole turn.
	MaxToolCalls int
	// MaxToolCallsPerStep caps dispatched calls from one model
	// response; the excess gets error results without running.
	MaxToolCallsPerStep int
	// TokenBudget caps total token usage per turn; zero disables it.
	TokenBudget int64
	// MaxTokensPerReply is the per-request generation ceiling.
	MaxTokensPerReply int64
	// MaxHistory bounds the history sent to the model.
	MaxHistory int
	// MaxToolResultBytes bounds a single tool result; longer output is
	// truncated keeping the head and the tail.
	MaxToolResultBytes int

	SystemPrompt string
	Tiers        Tiers
}

func DefaultConfig() Config {
	return Config{
		MaxIterations:       10,
		MaxToolCalls:        15,
		MaxToolCallsPerStep: 3,
		TokenBudget:         120_000,
		MaxTokensPerReply:   4096,
		MaxHistory:          60,
		MaxToolResultBytes:  16 * 1024,
		Tiers:               DefaultTiers(),
	}
}

// ToolRunner is the tool surface the loop drives. *dispatch.Dispatcher
// satisfies it.
type ToolRunner interface {
	Dispatch(ctx context.Context, call models.ToolCall) models.ToolResult
	Defs() []models.ToolDef
}

// Notifier receives progress signals for the host UI. May be nil.
type Notifier interface {
	Log(level, message string, progress *float64)
}

// Conductor runs the reason-act loop: ask the model, run the tools it
// asks for, feed the results back, and repeat until the model answers
// or a budget runs out.
type Conductor struct {
	client   provider.Client
	tools    ToolRunner
	store    conversation.Store
	cfg      Config
	metrics  *metrics.Metrics
	notifier Notifier
	logger   *slog.Logger
}

func New(client provider.Client, tools ToolRunner, store conversation.Store, cfg Config, m *metrics.Metrics, notifier Notifier, logger *slog.Logger) *Conductor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	if cfg.MaxToolCallsPerStep <= 0 {
		cfg.MaxToolCallsPerStep = DefaultConfig().MaxToolCallsPerStep
	}
	if cfg.MaxTokensPerReply <= 0 {
		cfg.MaxTokensPerReply = DefaultConfig().MaxTokensPerReply
	}
	return &Conductor{
		client:   client,
		tools:    tools,
		store:    store,
		cfg:      cfg,
		metrics:  m,
		notifier: notifier,
		logger:   logger,
	}
}

// TurnRequest is one user turn to process.
type TurnRequest struct {
	ConversationID  string
	Query           string
	Attachments     []models.Attachment
	ModelPreference string
	CostPressure    bool
}

// TurnResult is the outcome of a turn. Reply is always set: whatever
// path the turn ended on, the user gets exactly one assistant reply.
type TurnResult struct {
	Reply         models.Message
	Model         string
	Iterations    int
	ToolCallsUsed int
	Usage         models.Usage
}

// RunTurn processes one user turn to completion. The returned error is
// diagnostic; even when it is non-nil, result.Reply holds the reply
// that was recorded for the user.
func (c *Conductor) RunTurn(ctx context.Context, req TurnRequest) (result TurnResult, err error) {
	start := time.Now()
	model := Route(c.cfg.Tiers, RouteInput{
		Preference:     req.ModelPreference,
		CostPressure:   req.CostPressure,
		Query:          req.Query,
		HasAttachments: len(req.Attachments) > 0,
	})
	result.Model = model
	c.logger.Info("turn started", "conversation", req.ConversationID, "model", model)

	replied := false
	finish := func(text, outcome string) {
		if replied {
			return
		}
		replied = true
		reply := models.Message{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   text,
			CreatedAt: time.Now(),
		}
		if appendErr := c.store.Append(ctx, req.ConversationID, reply); appendErr != nil {
			c.logger.Error("record reply", "error", appendErr)
		}
		result.Reply = reply
		c.metrics.TurnFinished(outcome, time.Since(start))
		c.logger.Info("turn finished",
			"conversation", req.ConversationID,
			"outcome", outcome,
			"iterations", result.Iterations,
			"tool_calls", result.ToolCallsUsed)
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("turn panicked", "panic", r)
			finish("I ran into an internal problem and had to stop. Please try again.", "panic")
			err = fmt.Errorf("turn panicked: %v", r)
		}
	}()

	userMsg := models.Message{
		ID:          uuid.NewString(),
		Role:        models.RoleUser,
		Content:     req.Query,
		Attachments: req.Attachments,
		CreatedAt:   time.Now(),
	}
	if err := c.store.Append(ctx, req.ConversationID, userMsg); err != nil {
		finish("I couldn't record your message. Please try again.", "store_error")
		return result, err
	}

	stored, err := c.store.History(ctx, req.ConversationID)
	if err != nil {
		finish("I couldn't load our conversation. Please try again.", "store_error")
		return result, err
	}
	working := truncateHistory(stored, c.cfg.MaxHistory)

	// partial accumulates text across length-capped responses so the
	// final reply contains everything the model generated.
	var partial strings.Builder
	var toolsUsed []string

	phase := PhaseThinking
	for iter := 1; iter <= c.cfg.MaxIterations; iter++ {
		result.Iterations = iter
		phase = PhaseAwaitingModel
		c.notify("info", fmt.Sprintf("thinking (step %d)", iter), stepProgress(iter, c.cfg.MaxIterations))

		resp, sendErr := c.client.Send(ctx, &provider.Request{
			Model:     model,
			System:    c.cfg.SystemPrompt,
			Messages:  working,
			Tools:     c.tools.Defs(),
			MaxTokens: c.cfg.MaxTokensPerReply,
		})
		if sendErr != nil {
			finish(modelFailureReply(sendErr), "model_error")
			return result, sendErr
		}
		result.Usage.Add(resp.Usage)
		c.metrics.ModelCall(model, string(resp.StopReason))
		c.metrics.Tokens(resp.Usage.InputTokens, resp.Usage.OutputTokens)

		if c.cfg.TokenBudget > 0 && result.Usage.Total() > c.cfg.TokenBudget {
			finish(exhaustedReply(partial.String(), resp.Text, toolsUsed, "token budget"), "token_budget")
			return result, nil
		}

		switch resp.StopReason {
		case provider.StopCompleted:
			phase = PhaseCompleted
			finish(partial.String()+resp.Text, "completed")
			return result, nil

		case provider.StopLengthCapped:
			phase = PhaseLengthCapped
			partial.WriteString(resp.Text)
			// Ask for the rest. The scaffolding stays in the working
			// copy only; the stored history gets the stitched reply.
			working = append(working,
				models.Message{Role: models.RoleAssistant, Content: resp.Text},
				models.Message{Role: models.RoleUser, Content: "Continue exactly where you left off."},
			)

		case provider.StopToolUse:
			phase = PhaseToolUse
			// Leading text on a tool-use response is the model narrating
			// what it is about to do; surface it as progress.
			if note := strings.TrimSpace(resp.Text); note != "" {
				c.notify("info", firstLine(note), nil)
			}
			assistantMsg := models.Message{
				ID:        uuid.NewString(),
				Role:      models.RoleAssistant,
				Content:   resp.Text,
				ToolCalls: resp.ToolCalls,
				CreatedAt: time.Now(),
			}
			toolMsg := c.runToolCalls(ctx, resp.ToolCalls, &result, &toolsUsed)
			working = append(working, assistantMsg, toolMsg)
			if err := c.store.Append(ctx, req.ConversationID, assistantMsg, toolMsg); err != nil {
				c.logger.Error("record tool exchange", "error", err)
			}

		default:
			phase = PhaseUnexpected
			text := partial.String() + resp.Text
			if strings.TrimSpace(text) == "" {
				text = "I couldn't produce an answer for that. Please try rephrasing."
			}
			finish(text, "unexpected_stop")
			return result, fmt.Errorf("unexpected stop reason %q", resp.StopReason)
		}
	}

	c.logger.Debug("iteration budget exhausted", "phase", phase, "iterations", result.Iterations)
	finish(exhaustedReply(partial.String(), "", toolsUsed, "step limit"), "iterations")
	return result, nil
}

// runToolCalls dispatches one model response's tool calls under the
// per-step ceiling and the per-turn budget. Every requested call gets
// a result: calls over a budget come back as errors without running.
func (c *Conductor) runToolCalls(ctx context.Context, calls []models.ToolCall, result *TurnResult, toolsUsed *[]string) models.Message {
	results := make([]models.ToolResult, 0, len(calls))
	for i, call := range calls {
		switch {
		case i >= c.cfg.MaxToolCallsPerStep:
			results = append(results, models.ToolResult{
				ToolCallID: call.ID,
				Content: fmt.Sprintf("budget exceeded: at most %d tool calls per step; re-request this one in your next step",
					c.cfg.MaxToolCallsPerStep),
				IsError: true,
			})
		case c.cfg.MaxToolCalls > 0 && result.ToolCallsUsed >= c.cfg.MaxToolCalls:
			results = append(results, models.ToolResult{
				ToolCallID: call.ID,
				Content:    "budget exceeded: no tool calls left this turn; answer with what you have",
				IsError:    true,
			})
		default:
			result.ToolCallsUsed++
			*toolsUsed = append(*toolsUsed, call.Name)
			c.notify("info", fmt.Sprintf("running %s", call.Name), nil)
			res := c.tools.Dispatch(ctx, call)
			res.Content = truncateResult(res.Content, c.cfg.MaxToolResultBytes)
			c.metrics.ToolCall(call.Name, res.IsError)
			results = append(results, res)
		}
	}
	return models.Message{
		ID:          uuid.NewString(),
		Role:        models.RoleTool,
		ToolResults: results,
		CreatedAt:   time.Now(),
	}
}

func (c *Conductor) notify(level, message string, progress *float64) {
	if c.notifier == nil {
		return
	}
	c.notifier.Log(level, message, progress)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func stepProgress(iter, max int) *float64 {
	if max <= 0 {
		return nil
	}
	p := float64(iter-1) / float64(max)
	return &p
}

func modelFailureReply(err error) string {
	switch {
	case provider.IsAuthError(err):
		return "I can't reach the language model because my credentials were rejected. Please check the API key in settings."
	case provider.IsRateLimited(err):
		return "The language model is rate limiting me right now. Please try again in a moment."
	default:
		return "I couldn't reach the language model. Please check your connection and try again."
	}
}

// exhaustedReply builds the final message when a budget runs out,
// preserving any partial text and naming the tools that did run so the
// work is not invisible.
func exhaustedReply(partial, last string, toolsUsed []string, budget string) string {
	var b strings.Builder
	text := partial + last
	if strings.TrimSpace(text) != "" {
		b.WriteString(text)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "I stopped before finishing because I hit the %s for this request.", budget)
	if len(toolsUsed) > 0 {
		fmt.Fprintf(&b, " Along the way I used: %s.", strings.Join(dedupe(toolsUsed), ", "))
	}
	return b.String()
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
