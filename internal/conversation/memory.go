package conversation

import (
	"context"
	"sync"

	"github.com/alexandertaboriskiy/navixmind-sub000/pkg/models"
)

// MemoryStore is the in-process Store. History is bounded: when a
// conversation outgrows maxMessages the oldest messages are dropped,
// keeping the tail where the live exchange is.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]models.Message
	maxMessages   int
}

const defaultMaxMessages = 200

func NewMemoryStore(maxMessages int) *MemoryStore {
	if maxMessages <= 0 {
		maxMessages = defaultMaxMessages
	}
	return &MemoryStore{
		conversations: make(map[string][]models.Message),
		maxMessages:   maxMessages,
	}
}

func (s *MemoryStore) Append(_ context.Context, conversationID string, msgs ...models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := append(s.conversations[conversationID], msgs...)
	if len(history) > s.maxMessages {
		history = history[len(history)-s.maxMessages:]
	}
	s.conversations[conversationID] = history
	return nil
}

// History returns a copy so callers can truncate or annotate their
// view without mutating the stored conversation.
func (s *MemoryStore) History(_ context.Context, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.conversations[conversationID]
	out := make([]models.Message, len(history))
	copy(out, history)
	return out, nil
}

func (s *MemoryStore) Replace(_ context.Context, conversationID string, msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := make([]models.Message, len(msgs))
	copy(history, msgs)
	if len(history) > s.maxMessages {
		history = history[len(history)-s.maxMessages:]
	}
	s.conversations[conversationID] = history
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conversations, conversationID)
	return nil
}
