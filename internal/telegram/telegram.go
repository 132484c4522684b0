// Package telegram wraps the Telegram Bot API as the outbound delivery
// channel. Sends return the delivery receipt, which the turn recorder needs
// for the assistant turn's source-assigned message ID.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// ErrReceipt means the delivery succeeded at the transport level but the
// receipt could not be used. The user-facing message may already be out;
// recording fails for this invocation.
var ErrReceipt = errors.New("delivery receipt unusable")

// BotInfo is the bot's own Telegram identity, fetched once at startup.
// Assistant turns are recorded under this identity.
type BotInfo struct {
	ID        int64
	Username  string
	FirstName string
}

// Receipt is the delivery confirmation for an outbound message.
type Receipt struct {
	MessageID int
	ChatID    int64
	Text      string
	Date      int64
}

// Client is the delivery channel.
type Client struct {
	bot    *bot.Bot
	logger *slog.Logger
}

// New creates a delivery channel client for the given bot token.
func New(token string, logger *slog.Logger) (*Client, error) {
	if token == "" {
		return nil, errors.New("telegram bot token cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	b, err := bot.New(token, bot.WithSkipGetMe())
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Client{
		bot:    b,
		logger: logger.With("component", "telegram"),
	}, nil
}

// GetMe fetches the bot's own identity.
func (c *Client) GetMe(ctx context.Context) (*BotInfo, error) {
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get bot identity: %w", err)
	}

	c.logger.Info("Retrieved bot identity", "bot_id", me.ID, "bot_username", me.Username)
	return &BotInfo{
		ID:        me.ID,
		Username:  me.Username,
		FirstName: me.FirstName,
	}, nil
}

// Send delivers text to a chat, optionally as a reply to a source message,
// and returns the delivery receipt.
func (c *Client) Send(ctx context.Context, chatID int64, text string, replyToMessageID int) (*Receipt, error) {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	}
	if replyToMessageID > 0 {
		params.ReplyParameters = &models.ReplyParameters{MessageID: replyToMessageID}
	}

	msg, err := c.bot.SendMessage(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to send message to chat %d: %w", chatID, err)
	}
	if msg == nil || msg.ID == 0 {
		return nil, fmt.Errorf("%w: missing message ID in sendMessage response", ErrReceipt)
	}

	c.logger.DebugContext(ctx, "Message delivered", "chat_id", chatID, "message_id", msg.ID)
	return &Receipt{
		MessageID: msg.ID,
		ChatID:    msg.Chat.ID,
		Text:      msg.Text,
		Date:      int64(msg.Date),
	}, nil
}
