package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrChatNotFound is returned by GetChat when no row exists for the chat.
// The pipeline treats this as a precondition violation: chats are upserted
// on first contact before any gating decision reads them.
var ErrChatNotFound = errors.New("chat not found")

// Store defines the conversation store gateway. All methods accept a
// context.Context for cancellation and timeouts.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// UpsertUser inserts a user row if none exists. A conflicting identity
	// is a no-op, never an error.
	UpsertUser(ctx context.Context, user *User) error

	// UpsertChat inserts a chat row if none exists, leaving authorization
	// and quota at their defaults. A conflicting identity is a no-op.
	UpsertChat(ctx context.Context, chat *Chat) error

	// GetChat retrieves a chat by ID. Returns ErrChatNotFound if missing.
	GetChat(ctx context.Context, chatID int64) (*Chat, error)

	// InsertMessage appends one turn. Inserting a turn that already exists
	// for the same (chat_id, message_id, role) is a no-op, so redelivered
	// events record idempotently.
	InsertMessage(ctx context.Context, message *Message) error

	// RecentMessages retrieves up to 'limit' of the most recently inserted
	// turns for the (chat, user) conversation: the user's own turns plus
	// assistant turns in the chat. Newest first.
	RecentMessages(ctx context.Context, chatID, userID int64, limit int) ([]Message, error)

	// CountTaggedToday counts the user's tagged turns in the chat since the
	// start of the current UTC calendar date.
	CountTaggedToday(ctx context.Context, chatID, userID int64, now time.Time) (int, error)

	// Vacuum performs database maintenance.
	Vacuum(ctx context.Context) error
}

type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store implementation backed by sqlx.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlxStore) UpsertUser(ctx context.Context, user *User) error {
	if user == nil {
		return fmt.Errorf("cannot upsert nil user")
	}
	if user.UserID == 0 {
		return fmt.Errorf("user must have a non-zero user_id")
	}

	query := `
        INSERT INTO users (user_id, first_name, last_name, username, is_bot)
        VALUES (:user_id, :first_name, :last_name, :username, :is_bot)
        ON CONFLICT (user_id) DO NOTHING;
    `

	if _, err := s.db.NamedExecContext(ctx, query, user); err != nil {
		s.logger.ErrorContext(ctx, "Error upserting user", "user_id", user.UserID, "error", err)
		return fmt.Errorf("failed to upsert user %d: %w", user.UserID, err)
	}

	return nil
}

func (s *sqlxStore) UpsertChat(ctx context.Context, chat *Chat) error {
	if chat == nil {
		return fmt.Errorf("cannot upsert nil chat")
	}
	if chat.ChatID == 0 {
		return fmt.Errorf("chat must have a non-zero chat_id")
	}

	// is_authorized and allowed_usage_per_day are provisioned externally,
	// so the insert only carries identity and the conflict path never
	// touches an existing row.
	query := `
        INSERT INTO chats (chat_id, title, type)
        VALUES (:chat_id, :title, :type)
        ON CONFLICT (chat_id) DO NOTHING;
    `

	if _, err := s.db.NamedExecContext(ctx, query, chat); err != nil {
		s.logger.ErrorContext(ctx, "Error upserting chat", "chat_id", chat.ChatID, "error", err)
		return fmt.Errorf("failed to upsert chat %d: %w", chat.ChatID, err)
	}

	return nil
}

func (s *sqlxStore) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("chat_id cannot be zero")
	}

	var chat Chat
	query := `
        SELECT chat_id, title, type, is_authorized, allowed_usage_per_day
        FROM chats
        WHERE chat_id = ?;
    `

	err := s.db.GetContext(ctx, &chat, query, chatID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: %d", ErrChatNotFound, chatID)
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting chat", "chat_id", chatID, "error", err)
		return nil, fmt.Errorf("failed to get chat %d: %w", chatID, err)
	}

	return &chat, nil
}

func (s *sqlxStore) InsertMessage(ctx context.Context, message *Message) error {
	if message == nil {
		return fmt.Errorf("cannot insert nil message")
	}
	if message.ChatID == 0 {
		return fmt.Errorf("message must have a non-zero chat_id")
	}
	if message.UserID == 0 {
		return fmt.Errorf("message must have a non-zero user_id")
	}
	if message.Role == "" {
		return fmt.Errorf("message must have a role")
	}

	if message.InsertedAt.IsZero() {
		message.InsertedAt = time.Now().UTC()
	}

	// OR IGNORE covers the partial unique index on (chat_id, message_id,
	// role): a redelivered event's turn lands on the same key and no-ops.
	query := `
        INSERT OR IGNORE INTO messages
            (message_id, role, user_id, chat_id, text, cost, input_tokens, output_tokens, was_tagged, inserted_at)
        VALUES
            (:message_id, :role, :user_id, :chat_id, :text, :cost, :input_tokens, :output_tokens, :was_tagged, :inserted_at);
    `

	result, err := s.db.NamedExecContext(ctx, query, message)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error inserting message",
			"chat_id", message.ChatID, "user_id", message.UserID, "role", message.Role, "error", err)
		return fmt.Errorf("failed to insert message (chat %d, user %d): %w", message.ChatID, message.UserID, err)
	}

	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		s.logger.DebugContext(ctx, "Duplicate turn, insert skipped",
			"chat_id", message.ChatID, "message_id", message.MessageID.Int64, "role", message.Role)
		return nil
	}

	if id, err := result.LastInsertId(); err == nil {
		message.ID = id
	} else {
		s.logger.WarnContext(ctx, "Could not retrieve last insert ID after inserting message",
			"chat_id", message.ChatID, "user_id", message.UserID, "error", err)
	}

	return nil
}

func (s *sqlxStore) RecentMessages(ctx context.Context, chatID, userID int64, limit int) ([]Message, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("chat_id cannot be zero")
	}
	if limit <= 0 {
		limit = 3
		s.logger.DebugContext(ctx, "Invalid limit provided, using default", "chat_id", chatID, "default_limit", limit)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var messages []Message
	query := `
        SELECT id, message_id, role, user_id, chat_id, text, cost, input_tokens, output_tokens, was_tagged, inserted_at
        FROM messages
        WHERE chat_id = ? AND (user_id = ? OR role = ?)
        ORDER BY id DESC
        LIMIT ?;
    `

	err := s.db.SelectContext(ctx, &messages, query, chatID, userID, RoleAssistant, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error getting recent messages",
			"chat_id", chatID, "user_id", userID, "limit", limit, "error", err)
		return nil, fmt.Errorf("failed to get recent messages for chat %d: %w", chatID, err)
	}

	return messages, nil
}

func (s *sqlxStore) CountTaggedToday(ctx context.Context, chatID, userID int64, now time.Time) (int, error) {
	if chatID == 0 || userID == 0 {
		return 0, fmt.Errorf("chat_id and user_id cannot be zero")
	}

	year, month, day := now.UTC().Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)

	var count int
	query := `
        SELECT COUNT(*)
        FROM messages
        WHERE chat_id = ? AND user_id = ? AND role = ? AND was_tagged = TRUE AND inserted_at >= ?;
    `

	err := s.db.GetContext(ctx, &count, query, chatID, userID, RoleUser, dayStart)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error counting tagged messages",
			"chat_id", chatID, "user_id", userID, "error", err)
		return 0, fmt.Errorf("failed to count tagged messages (chat %d, user %d): %w", chatID, userID, err)
	}

	return count, nil
}

// Vacuum executes a VACUUM command on the SQLite database.
func (s *sqlxStore) Vacuum(ctx context.Context) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)")

	if _, err := s.db.ExecContext(ctx, "VACUUM;"); err != nil {
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)
	}

	s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed")
	return nil
}
