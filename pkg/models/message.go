// Package models defines the shared data model for the assistant core:
// conversation messages, tool calls and results, attachments, and token
// usage accounting.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single entry in the conversation window. Content carries the
// plain text; structured blocks (tool calls, tool results) ride alongside in
// their own fields and are folded into provider-specific content blocks at
// the model-client boundary.
type Message struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	ToolCalls   []ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []ToolResult `json:"tool_results,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ToolCall represents the model's request to execute a tool. The ID is
// opaque and unique within a turn; Input is the raw JSON argument object.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the outcome of a tool execution. ToolCallID always
// references a ToolCall from the immediately preceding assistant message.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

// Attachment is a file supplied by the caller for the turn or produced by a
// tool during it. Tools address attachments by basename; Path is the
// resolved absolute location on disk.
type Attachment struct {
	Name     string `json:"name"`
	Path     string `json:"path"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// ToolDef describes one entry in the tool catalog sent to the model.
// InputSchema is a JSON-Schema object declaring the tool's parameters.
type ToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}
