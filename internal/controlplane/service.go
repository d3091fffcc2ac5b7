package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alexandertaboriskiy/navixmind-sub000/internal/conductor"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/conversation"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/dispatch"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/provider"
	"github.com/alexandertaboriskiy/navixmind-sub000/pkg/models"
)

// TurnRunner runs one user turn. *conductor.Conductor satisfies it.
type TurnRunner interface {
	RunTurn(ctx context.Context, req conductor.TurnRequest) (conductor.TurnResult, error)
}

// CredentialSetter rotates the provider API key at runtime.
type CredentialSetter interface {
	SetAPIKey(key string)
}

// Service implements the control methods on top of the loop, the
// store, and the provider.
type Service struct {
	turns TurnRunner
	store conversation.Store
	files *dispatch.FileResolver
	creds CredentialSetter
	// prompter serves improve_prompt; typically the light tier.
	prompter    provider.Client
	promptModel string
	logger      *slog.Logger
}

func NewService(turns TurnRunner, store conversation.Store, files *dispatch.FileResolver, creds CredentialSetter, prompter provider.Client, promptModel string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		turns:       turns,
		store:       store,
		files:       files,
		creds:       creds,
		prompter:    prompter,
		promptModel: promptModel,
		logger:      logger,
	}
}

// ProcessQueryParams is the payload of process_query.
type ProcessQueryParams struct {
	ConversationID string              `json:"conversation_id"`
	Query          string              `json:"query"`
	Attachments    []models.Attachment `json:"attachments,omitempty"`
	Model          string              `json:"model,omitempty"`
	CostPressure   bool                `json:"cost_pressure,omitempty"`
}

// ProcessQueryResult is the payload of a process_query response.
type ProcessQueryResult struct {
	Reply      string       `json:"reply"`
	Model      string       `json:"model"`
	Iterations int          `json:"iterations"`
	ToolCalls  int          `json:"tool_calls"`
	Usage      models.Usage `json:"usage"`
}

// UpdateContextParams replaces a conversation's history and the set of
// files the model may reference. Reset discards the conversation
// instead, ignoring Messages.
type UpdateContextParams struct {
	ConversationID string              `json:"conversation_id"`
	Messages       []models.Message    `json:"messages"`
	Attachments    []models.Attachment `json:"attachments,omitempty"`
	Reset          bool                `json:"reset,omitempty"`
}

type SetCredentialsParams struct {
	APIKey string `json:"api_key"`
}

type ImprovePromptParams struct {
	Prompt string `json:"prompt"`
}

type ImprovePromptResult struct {
	Prompt string `json:"prompt"`
}

func (s *Service) Handle(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case MethodProcessQuery:
		return s.processQuery(ctx, params)
	case MethodUpdateContext:
		return s.updateContext(ctx, params)
	case MethodSetCredentials:
		return s.setCredentials(params)
	case MethodImprovePrompt:
		return s.improvePrompt(ctx, params)
	default:
		return nil, &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", method)}
	}
}

func (s *Service) processQuery(ctx context.Context, raw json.RawMessage) (any, error) {
	var params ProcessQueryParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	if params.Query == "" {
		return nil, &RPCError{Code: CodeServerError, Message: "query must not be empty"}
	}
	if params.ConversationID == "" {
		params.ConversationID = "default"
	}
	if len(params.Attachments) > 0 {
		s.files.SetAttachments(params.Attachments)
	}

	result, err := s.turns.RunTurn(ctx, conductor.TurnRequest{
		ConversationID:  params.ConversationID,
		Query:           params.Query,
		Attachments:     params.Attachments,
		ModelPreference: params.Model,
		CostPressure:    params.CostPressure,
	})
	if err != nil {
		// The loop still produced a reply; surface it rather than
		// hiding the turn behind an error.
		s.logger.Warn("turn finished with error", "error", err)
	}
	return ProcessQueryResult{
		Reply:      result.Reply.Content,
		Model:      result.Model,
		Iterations: result.Iterations,
		ToolCalls:  result.ToolCallsUsed,
		Usage:      result.Usage,
	}, nil
}

func (s *Service) updateContext(ctx context.Context, raw json.RawMessage) (any, error) {
	var params UpdateContextParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	if params.ConversationID == "" {
		return nil, &RPCError{Code: CodeServerError, Message: "conversation_id must not be empty"}
	}
	if params.Reset {
		if err := s.store.Clear(ctx, params.ConversationID); err != nil {
			return nil, err
		}
		s.files.SetAttachments(nil)
		s.logger.Info("context cleared", "conversation", params.ConversationID)
		return map[string]bool{"ok": true}, nil
	}
	if err := s.store.Replace(ctx, params.ConversationID, params.Messages); err != nil {
		return nil, err
	}
	s.files.SetAttachments(params.Attachments)
	s.logger.Info("context updated",
		"conversation", params.ConversationID,
		"messages", len(params.Messages),
		"attachments", len(params.Attachments))
	return map[string]bool{"ok": true}, nil
}

func (s *Service) setCredentials(raw json.RawMessage) (any, error) {
	var params SetCredentialsParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	if params.APIKey == "" {
		return nil, &RPCError{Code: CodeServerError, Message: "api_key must not be empty"}
	}
	s.creds.SetAPIKey(params.APIKey)
	s.logger.Info("credentials updated")
	return map[string]bool{"ok": true}, nil
}

const improveSystemPrompt = "You improve prompts for an AI assistant. Rewrite the user's prompt to be clearer and more specific while preserving its intent. Reply with the rewritten prompt only."

func (s *Service) improvePrompt(ctx context.Context, raw json.RawMessage) (any, error) {
	var params ImprovePromptParams
	if err := decode(raw, &params); err != nil {
		return nil, err
	}
	if params.Prompt == "" {
		return nil, &RPCError{Code: CodeServerError, Message: "prompt must not be empty"}
	}
	resp, err := s.prompter.Send(ctx, &provider.Request{
		Model:     s.promptModel,
		System:    improveSystemPrompt,
		Messages:  []models.Message{{Role: models.RoleUser, Content: params.Prompt}},
		MaxTokens: 1024,
	})
	if err != nil {
		return nil, &RPCError{Code: CodeServerError, Message: "improve prompt: " + err.Error()}
	}
	improved := strings.TrimSpace(resp.Text)
	if improved == "" {
		improved = params.Prompt
	}
	return ImprovePromptResult{Prompt: improved}, nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return &RPCError{Code: CodeServerError, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &RPCError{Code: CodeServerError, Message: "invalid params: " + err.Error()}
	}
	return nil
}
