package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/quicklingo/quicklingo/internal/database"
)

// Decision is the access control gate's verdict for an inbound message.
type Decision int

// Gate decisions, in evaluation order.
const (
	Proceed Decision = iota
	RejectUnauthorized
	RejectUntagged
	RejectNoCredits
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case RejectUnauthorized:
		return "unauthorized"
	case RejectUntagged:
		return "untagged"
	case RejectNoCredits:
		return "no_credits"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// ConsumesQuota reports whether a turn gated with this decision counts
// against the daily allowance. Only turns that passed authorization and
// tagging interact with quota.
func (d Decision) ConsumesQuota() bool {
	return d == Proceed || d == RejectNoCredits
}

// Gate decides whether an inbound message proceeds to generation. It is a
// pure decision over store reads; it performs no writes.
type Gate struct {
	store        database.Store
	tagToken     string
	noReplyToken string
	logger       *slog.Logger
}

// NewGate creates an access control gate. tagToken is the mention token that
// marks group messages as directed at the bot; noReplyToken is an optional
// opt-out token that suppresses replies even when tagged.
func NewGate(store database.Store, tagToken, noReplyToken string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		store:        store,
		tagToken:     strings.ToLower(tagToken),
		noReplyToken: strings.ToLower(noReplyToken),
		logger:       logger.With("component", "gate"),
	}
}

// Check evaluates, in order: chat authorization, tagging (group chats only),
// and the per-day credit quota. The chat row must already exist; the store
// gateway guarantees that via upsert-on-first-contact.
func (g *Gate) Check(ctx context.Context, chatID, userID int64, chatType, text string) (Decision, error) {
	chat, err := g.store.GetChat(ctx, chatID)
	if err != nil {
		return RejectUnauthorized, fmt.Errorf("gate precondition failed: %w", err)
	}

	if !chat.IsAuthorized {
		g.logger.InfoContext(ctx, "Rejecting message from unauthorized chat", "chat_id", chatID)
		return RejectUnauthorized, nil
	}

	if chatType == database.ChatTypeGroup || chatType == database.ChatTypeSupergroup {
		lower := strings.ToLower(text)
		if !strings.Contains(lower, g.tagToken) {
			return RejectUntagged, nil
		}
		if g.noReplyToken != "" && strings.Contains(lower, g.noReplyToken) {
			g.logger.DebugContext(ctx, "Message carries the opt-out token", "chat_id", chatID)
			return RejectUntagged, nil
		}
	}

	used, err := g.store.CountTaggedToday(ctx, chatID, userID, time.Now())
	if err != nil {
		return RejectNoCredits, fmt.Errorf("gate quota check failed: %w", err)
	}

	remaining := chat.AllowedUsagePerDay - used
	if remaining <= 0 {
		g.logger.InfoContext(ctx, "Rejecting message over daily quota",
			"chat_id", chatID, "user_id", userID, "allowed", chat.AllowedUsagePerDay, "used", used)
		return RejectNoCredits, nil
	}

	return Proceed, nil
}
