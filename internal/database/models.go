package database

import (
	"database/sql"
	"time"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat types as reported by Telegram.
const (
	ChatTypePrivate    = "private"
	ChatTypeGroup      = "group"
	ChatTypeSupergroup = "supergroup"
)

// User is a Telegram user observed by the bot. Rows are created on first
// contact and never updated afterwards.
type User struct {
	UserID    int64          `db:"user_id"`
	FirstName sql.NullString `db:"first_name"`
	LastName  sql.NullString `db:"last_name"`
	Username  sql.NullString `db:"username"`
	IsBot     bool           `db:"is_bot"`
}

// Chat is a conversation destination. Authorization and the daily usage
// allowance are provisioned externally; the pipeline only reads them.
type Chat struct {
	ChatID             int64  `db:"chat_id"`
	Title              string `db:"title"`
	Type               string `db:"type"`
	IsAuthorized       bool   `db:"is_authorized"`
	AllowedUsagePerDay int    `db:"allowed_usage_per_day"`
}

// Message is one conversational turn, either a user's input or the
// assistant's reply. Rows are append-only.
type Message struct {
	ID           int64         `db:"id"`
	MessageID    sql.NullInt64 `db:"message_id"` // Telegram-assigned, null for synthetic turns
	Role         string        `db:"role"`
	UserID       int64         `db:"user_id"`
	ChatID       int64         `db:"chat_id"`
	Text         string        `db:"text"`
	Cost         float64       `db:"cost"`
	InputTokens  int           `db:"input_tokens"`
	OutputTokens int           `db:"output_tokens"`
	WasTagged    bool          `db:"was_tagged"`
	InsertedAt   time.Time     `db:"inserted_at"`
}
