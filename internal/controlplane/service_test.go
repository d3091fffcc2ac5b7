package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alexandertaboriskiy/navixmind-sub000/internal/conductor"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/conversation"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/dispatch"
	"github.com/alexandertaboriskiy/navixmind-sub000/internal/provider"
	"github.com/alexandertaboriskiy/navixmind-sub000/pkg/models"
)

type fakeTurns struct {
	lastReq conductor.TurnRequest
	result  conductor.TurnResult
	err     error
}

func (f *fakeTurns) RunTurn(_ context.Context, req conductor.TurnRequest) (conductor.TurnResult, error) {
	f.lastReq = req
	return f.result, f.err
}

type fakeCreds struct{ key string }

func (f *fakeCreds) SetAPIKey(key string) { f.key = key }

type fakePrompter struct {
	lastReq *provider.Request
	resp    *provider.Response
	err     error
}

func (f *fakePrompter) Send(_ context.Context, req *provider.Request) (*provider.Response, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newTestService() (*Service, *fakeTurns, *conversation.MemoryStore, *fakeCreds, *fakePrompter) {
	turns := &fakeTurns{result: conductor.TurnResult{
		Reply:         models.Message{Role: models.RoleAssistant, Content: "the answer"},
		Model:         "claude-sonnet-4-5",
		Iterations:    2,
		ToolCallsUsed: 1,
		Usage:         models.Usage{InputTokens: 100, OutputTokens: 50},
	}}
	store := conversation.NewMemoryStore(0)
	creds := &fakeCreds{}
	prompter := &fakePrompter{resp: &provider.Response{Text: "a better prompt", StopReason: provider.StopCompleted}}
	svc := NewService(turns, store, dispatch.NewFileResolver(), creds, prompter, "claude-haiku-4-5", nil)
	return svc, turns, store, creds, prompter
}

func mustParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestProcessQuery(t *testing.T) {
	svc, turns, _, _, _ := newTestService()
	result, err := svc.Handle(context.Background(), MethodProcessQuery, mustParams(t, ProcessQueryParams{
		ConversationID: "c1",
		Query:          "what is the answer",
		CostPressure:   true,
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	res, ok := result.(ProcessQueryResult)
	if !ok {
		t.Fatalf("result type %T", result)
	}
	if res.Reply != "the answer" || res.Iterations != 2 || res.ToolCalls != 1 {
		t.Fatalf("result = %+v", res)
	}
	if turns.lastReq.ConversationID != "c1" || !turns.lastReq.CostPressure {
		t.Fatalf("turn request = %+v", turns.lastReq)
	}
}

func TestProcessQueryTurnErrorStillReturnsReply(t *testing.T) {
	svc, turns, _, _, _ := newTestService()
	turns.err = errors.New("model unreachable")
	turns.result.Reply.Content = "I couldn't reach the language model."

	result, err := svc.Handle(context.Background(), MethodProcessQuery,
		mustParams(t, ProcessQueryParams{Query: "hello"}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.(ProcessQueryResult).Reply == "" {
		t.Fatal("reply lost")
	}
}

func TestProcessQueryEmptyQuery(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	_, err := svc.Handle(context.Background(), MethodProcessQuery,
		mustParams(t, ProcessQueryParams{ConversationID: "c1"}))
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeServerError {
		t.Fatalf("err = %v, want server error", err)
	}
}

func TestUpdateContext(t *testing.T) {
	svc, _, store, _, _ := newTestService()
	_ = store.Append(context.Background(), "c1", models.Message{Role: models.RoleUser, Content: "old"})

	_, err := svc.Handle(context.Background(), MethodUpdateContext, mustParams(t, UpdateContextParams{
		ConversationID: "c1",
		Messages: []models.Message{
			{Role: models.RoleUser, Content: "replaced"},
		},
		Attachments: []models.Attachment{{Name: "a.txt", Path: "/files/a.txt"}},
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	history, _ := store.History(context.Background(), "c1")
	if len(history) != 1 || history[0].Content != "replaced" {
		t.Fatalf("history = %+v", history)
	}
}

func TestUpdateContextReset(t *testing.T) {
	svc, _, store, _, _ := newTestService()
	_ = store.Append(context.Background(), "c1", models.Message{Role: models.RoleUser, Content: "old"})

	_, err := svc.Handle(context.Background(), MethodUpdateContext, mustParams(t, UpdateContextParams{
		ConversationID: "c1",
		Reset:          true,
	}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	history, _ := store.History(context.Background(), "c1")
	if len(history) != 0 {
		t.Fatalf("history = %+v, want cleared", history)
	}
}

func TestSetCredentials(t *testing.T) {
	svc, _, _, creds, _ := newTestService()
	_, err := svc.Handle(context.Background(), MethodSetCredentials,
		mustParams(t, SetCredentialsParams{APIKey: "sk-new"}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if creds.key != "sk-new" {
		t.Fatalf("key = %q", creds.key)
	}

	_, err = svc.Handle(context.Background(), MethodSetCredentials,
		mustParams(t, SetCredentialsParams{}))
	if err == nil {
		t.Fatal("empty key accepted")
	}
}

func TestImprovePrompt(t *testing.T) {
	svc, _, _, _, prompter := newTestService()
	result, err := svc.Handle(context.Background(), MethodImprovePrompt,
		mustParams(t, ImprovePromptParams{Prompt: "make food"}))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if result.(ImprovePromptResult).Prompt != "a better prompt" {
		t.Fatalf("result = %+v", result)
	}
	if prompter.lastReq.Model != "claude-haiku-4-5" {
		t.Fatalf("model = %q, want the light tier", prompter.lastReq.Model)
	}
	if len(prompter.lastReq.Tools) != 0 {
		t.Fatal("prompt improvement must not expose tools")
	}
}

func TestUnknownMethod(t *testing.T) {
	svc, _, _, _, _ := newTestService()
	_, err := svc.Handle(context.Background(), "no_such", nil)
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != CodeMethodNotFound {
		t.Fatalf("err = %v, want method not found", err)
	}
}
