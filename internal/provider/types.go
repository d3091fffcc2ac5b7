package provider

import (
	"context"

	"github.com/alexandertaboriskiy/navixmind-sub000/pkg/models"
)

// StopReason classifies why the model stopped generating.
type StopReason string

const (
	StopCompleted    StopReason = "completed"
	StopToolUse      StopReason = "tool_use"
	StopLengthCapped StopReason = "length_capped"
	StopUnexpected   StopReason = "unexpected"
)

// Request is a single non-streaming completion request.
type Request struct {
	Model     string
	System    string
	Messages  []models.Message
	Tools     []models.ToolDef
	MaxTokens int64
}

// Response carries the model's reply. Text holds the concatenated text
// blocks; ToolCalls is non-empty only when StopReason is StopToolUse.
type Response struct {
	Text       string
	ToolCalls  []models.ToolCall
	StopReason StopReason
	Usage      models.Usage
}

// Client sends completion requests to a model provider.
type Client interface {
	Send(ctx context.Context, req *Request) (*Response, error)
}
