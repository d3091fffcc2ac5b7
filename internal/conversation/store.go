package conversation

import (
	"context"

	"github.com/alexandertaboriskiy/navixmind-sub000/pkg/models"
)

// Store keeps per-conversation message history. Implementations must
// be safe for concurrent use.
type Store interface {
	// Append adds messages to the conversation, creating it if needed.
	Append(ctx context.Context, conversationID string, msgs ...models.Message) error
	// History returns the conversation's messages, oldest first.
	History(ctx context.Context, conversationID string) ([]models.Message, error)
	// Replace swaps the conversation's history wholesale, used when the
	// host pushes a context update.
	Replace(ctx context.Context, conversationID string, msgs []models.Message) error
	// Clear removes the conversation entirely.
	Clear(ctx context.Context, conversationID string) error
}
