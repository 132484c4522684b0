package pipeline

import (
	"context"
	"fmt"

	"github.com/quicklingo/quicklingo/internal/database"
)

// Assembler builds the bounded conversation context for a generation prompt.
// The result is rebuilt from the store on every invocation, never cached.
type Assembler struct {
	store database.Store
	limit int
}

// NewAssembler creates a context assembler with a fixed window size.
func NewAssembler(store database.Store, limit int) *Assembler {
	return &Assembler{store: store, limit: limit}
}

// Assemble returns up to the configured number of prior turns for the
// (chat, user) conversation, oldest first.
func (a *Assembler) Assemble(ctx context.Context, chatID, userID int64) ([]database.Message, error) {
	msgs, err := a.store.RecentMessages(ctx, chatID, userID, a.limit)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble context: %w", err)
	}

	// The store returns newest first; the prompt wants chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	return msgs, nil
}
