package chat

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicore/practice/internal/platform/datastore"
)

// ErrNotFound matches datastore.ErrNotFound so the HTTP edge maps it to 404.
var ErrNotFound = fmt.Errorf("chat conversation: %w", datastore.ErrNotFound)

// Repository stores transcripts. Implementations filter every query by
// tenantID themselves; the document store is not behind the relational
// tenant guard.
type Repository interface {
	Append(ctx context.Context, m *Message) error
	// List returns up to limit messages created before the given time,
	// newest first.
	List(ctx context.Context, tenantID, conversationID string, before time.Time, limit int) ([]*Message, error)
	DeleteConversation(ctx context.Context, tenantID, conversationID string) (int64, error)
}
