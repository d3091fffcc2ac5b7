package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/alexandertaboriskiy/navixmind-sub000/pkg/models"
)

// AnthropicClient talks to the Anthropic Messages API without streaming.
type AnthropicClient struct {
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropicClient builds a client with the given API key. The key can
// be replaced later via SetAPIKey when the host rotates credentials.
func NewAnthropicClient(apiKey string, logger *slog.Logger) *AnthropicClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		logger: logger,
	}
}

// SetAPIKey swaps the underlying client for one using the new key.
func (c *AnthropicClient) SetAPIKey(apiKey string) {
	c.client = anthropic.NewClient(option.WithAPIKey(apiKey))
}

func (c *AnthropicClient) Send(ctx context.Context, req *Request) (*Response, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  buildMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := buildTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, translateError(err)
	}

	resp := &Response{
		StopReason: mapStopReason(string(msg.StopReason)),
		Usage: models.Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Text += block.Text
		case "tool_use":
			tu := block.AsToolUse()
			input, err := json.Marshal(tu.Input)
			if err != nil {
				return nil, fmt.Errorf("encode tool input for %s: %w", tu.Name, err)
			}
			resp.ToolCalls = append(resp.ToolCalls, models.ToolCall{
				ID:    tu.ID,
				Name:  tu.Name,
				Input: input,
			})
		}
	}
	c.logger.Debug("model response",
		"model", req.Model,
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
		"tool_calls", len(resp.ToolCalls))
	return resp, nil
}

func buildMessages(history []models.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case models.RoleUser:
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}
			out = append(out, anthropic.NewUserMessage(blocks...))
		case models.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if err := json.Unmarshal(tc.Input, &input); err != nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		case models.RoleTool:
			var blocks []anthropic.ContentBlockParamUnion
			for _, tr := range m.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(tr.ToolCallID, tr.Content, tr.IsError))
			}
			if len(blocks) == 0 {
				continue
			}
			// Tool results ride in a user-role message on the wire.
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func buildTools(defs []models.ToolDef) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(def.InputSchema, &schema); err != nil {
			return nil, fmt.Errorf("tool %s: invalid input schema: %w", def.Name, err)
		}
		tool := anthropic.ToolUnionParamOfTool(schema, def.Name)
		if def.Description != "" {
			tool.OfTool.Description = anthropic.String(def.Description)
		}
		out = append(out, tool)
	}
	return out, nil
}

func mapStopReason(reason string) StopReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return StopCompleted
	case "tool_use":
		return StopToolUse
	case "max_tokens":
		return StopLengthCapped
	default:
		return StopUnexpected
	}
}

// translateError folds SDK errors into APIError so the retry layer sees
// one shape regardless of transport details.
func translateError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		translated := &APIError{
			Message: apiErr.Error(),
			Status:  apiErr.StatusCode,
		}
		if apiErr.Response != nil {
			translated.RetryAfter = retryAfterDuration(apiErr.Response.Header.Get("Retry-After"))
		}
		return translated
	}
	return err
}
