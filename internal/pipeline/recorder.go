package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/quicklingo/quicklingo/internal/database"
	"github.com/quicklingo/quicklingo/internal/openai"
	"github.com/quicklingo/quicklingo/internal/telegram"
	"github.com/quicklingo/quicklingo/internal/update"
)

// Recorder persists the participants and turns of an exchange. All writes
// are idempotent: user/chat upserts no-op on conflict, and turn inserts
// no-op on the (chat_id, message_id, role) uniqueness key, so a redelivered
// event records nothing twice.
type Recorder struct {
	store  database.Store
	bot    telegram.BotInfo
	logger *slog.Logger
}

// NewRecorder creates a turn recorder. Assistant turns are attributed to the
// given bot identity.
func NewRecorder(store database.Store, bot telegram.BotInfo, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:  store,
		bot:    bot,
		logger: logger.With("component", "recorder"),
	}
}

// EnsureBotUser upserts the bot's own user row, which assistant turns
// reference. Called once at startup.
func (r *Recorder) EnsureBotUser(ctx context.Context) error {
	return r.store.UpsertUser(ctx, &database.User{
		UserID:    r.bot.ID,
		FirstName: nullString(r.bot.FirstName),
		Username:  nullString(r.bot.Username),
		IsBot:     true,
	})
}

// EnsureParticipants upserts the sender and chat of an inbound event so the
// gate and turn inserts find their rows.
func (r *Recorder) EnsureParticipants(ctx context.Context, from update.User, chat update.Chat) error {
	if err := r.store.UpsertUser(ctx, &database.User{
		UserID:    from.ID,
		FirstName: nullString(from.FirstName),
		LastName:  nullString(from.LastName),
		Username:  nullString(from.Username),
		IsBot:     from.IsBot,
	}); err != nil {
		return fmt.Errorf("failed to ensure user: %w", err)
	}

	if err := r.store.UpsertChat(ctx, &database.Chat{
		ChatID: chat.ID,
		Title:  chat.Title,
		Type:   chat.Type,
	}); err != nil {
		return fmt.Errorf("failed to ensure chat: %w", err)
	}

	return nil
}

// RecordUserTurn inserts the user's turn. wasTagged marks turns that
// interacted with the quota.
func (r *Recorder) RecordUserTurn(ctx context.Context, ev *update.MessageEvent, wasTagged bool) error {
	msg := &database.Message{
		MessageID: sql.NullInt64{Int64: int64(ev.MessageID), Valid: ev.MessageID != 0},
		Role:      database.RoleUser,
		UserID:    ev.From.ID,
		ChatID:    ev.Chat.ID,
		Text:      ev.Text,
		WasTagged: wasTagged,
	}

	if err := r.store.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to record user turn: %w", err)
	}

	r.logger.DebugContext(ctx, "Recorded user turn",
		"chat_id", ev.Chat.ID, "user_id", ev.From.ID, "was_tagged", wasTagged)
	return nil
}

// RecordAssistantTurn inserts the assistant's turn under the bot identity,
// keyed by the delivery receipt's source-assigned message ID.
func (r *Recorder) RecordAssistantTurn(ctx context.Context, chatID int64, receipt *telegram.Receipt, reply *openai.Reply) error {
	msg := &database.Message{
		MessageID:    sql.NullInt64{Int64: int64(receipt.MessageID), Valid: receipt.MessageID != 0},
		Role:         database.RoleAssistant,
		UserID:       r.bot.ID,
		ChatID:       chatID,
		Text:         reply.Text,
		Cost:         reply.Cost,
		InputTokens:  reply.InputTokens,
		OutputTokens: reply.OutputTokens,
	}

	if err := r.store.InsertMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to record assistant turn: %w", err)
	}

	r.logger.DebugContext(ctx, "Recorded assistant turn",
		"chat_id", chatID, "message_id", receipt.MessageID, "cost", reply.Cost)
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
