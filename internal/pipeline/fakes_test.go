package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quicklingo/quicklingo/internal/database"
	"github.com/quicklingo/quicklingo/internal/openai"
	"github.com/quicklingo/quicklingo/internal/telegram"
)

// fakeStore is an in-memory database.Store with the same idempotence
// semantics as the real one: upserts no-op on existing identity, message
// inserts no-op on a duplicate (chat_id, message_id, role) key.
type fakeStore struct {
	users    map[int64]database.User
	chats    map[int64]database.Chat
	messages []database.Message
	recent   []database.Message // canned RecentMessages result, newest first
	tagged   int                // canned CountTaggedToday result

	insertErr error
	chatErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users: make(map[int64]database.User),
		chats: make(map[int64]database.Chat),
	}
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) UpsertUser(_ context.Context, user *database.User) error {
	if _, ok := s.users[user.UserID]; !ok {
		s.users[user.UserID] = *user
	}
	return nil
}

func (s *fakeStore) UpsertChat(_ context.Context, chat *database.Chat) error {
	if _, ok := s.chats[chat.ChatID]; !ok {
		s.chats[chat.ChatID] = *chat
	}
	return nil
}

func (s *fakeStore) GetChat(_ context.Context, chatID int64) (*database.Chat, error) {
	if s.chatErr != nil {
		return nil, s.chatErr
	}
	chat, ok := s.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", database.ErrChatNotFound, chatID)
	}
	return &chat, nil
}

func (s *fakeStore) InsertMessage(_ context.Context, message *database.Message) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	if message.MessageID.Valid {
		for _, m := range s.messages {
			if m.ChatID == message.ChatID && m.MessageID.Valid &&
				m.MessageID.Int64 == message.MessageID.Int64 && m.Role == message.Role {
				return nil
			}
		}
	}
	s.messages = append(s.messages, *message)
	return nil
}

func (s *fakeStore) RecentMessages(_ context.Context, _, _ int64, limit int) ([]database.Message, error) {
	msgs := s.recent
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]database.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *fakeStore) CountTaggedToday(context.Context, int64, int64, time.Time) (int, error) {
	return s.tagged, nil
}

func (s *fakeStore) Vacuum(context.Context) error { return nil }

func (s *fakeStore) byRole(role string) []database.Message {
	var out []database.Message
	for _, m := range s.messages {
		if m.Role == role {
			out = append(out, m)
		}
	}
	return out
}

type fakeGenerator struct {
	reply *openai.Reply
	err   error

	calls   int
	history []database.Message
	text    string
}

func (g *fakeGenerator) Generate(_ context.Context, history []database.Message, userText string) (*openai.Reply, error) {
	g.calls++
	g.history = history
	g.text = userText
	if g.err != nil {
		return nil, g.err
	}
	return g.reply, nil
}

type sentMessage struct {
	chatID  int64
	text    string
	replyTo int
}

type fakeSender struct {
	receipt *telegram.Receipt
	err     error
	sent    []sentMessage
}

func (s *fakeSender) Send(_ context.Context, chatID int64, text string, replyToMessageID int) (*telegram.Receipt, error) {
	s.sent = append(s.sent, sentMessage{chatID: chatID, text: text, replyTo: replyToMessageID})
	if s.err != nil {
		return nil, s.err
	}
	if s.receipt != nil {
		return s.receipt, nil
	}
	return &telegram.Receipt{MessageID: 9000 + len(s.sent), ChatID: chatID, Text: text}, nil
}

var errBoom = errors.New("boom")
