// Package update defines the classified inbound event variants and the
// boundary classification that resolves a raw Telegram payload to exactly
// one of them. Downstream code matches on Kind instead of re-inspecting
// payload shapes.
package update

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-telegram/bot/models"
)

// ErrUnclassified is returned when a payload matches no known update shape.
// Such payloads are dropped at the boundary, never enqueued.
var ErrUnclassified = errors.New("unclassified update payload")

// Kind discriminates the update variants.
type Kind string

// Known update variants.
const (
	KindMessage   Kind = "message"
	KindNewMember Kind = "new_member"
)

// User identifies the sender (or subject) of an update.
type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Chat identifies the destination context of an update.
type Chat struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

// MessageEvent is an ordinary text message.
type MessageEvent struct {
	UpdateID  int64  `json:"update_id,omitempty"`
	MessageID int    `json:"message_id"`
	From      User   `json:"from"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
}

// NewMemberEvent is a chat-member-joined notification.
type NewMemberEvent struct {
	UpdateID  int64 `json:"update_id,omitempty"`
	NewMember User  `json:"new_member"`
	From      User  `json:"from"`
	Chat      Chat  `json:"chat"`
	Date      int64 `json:"date"`
}

// Update is the tagged variant handed from the ingestion boundary to the
// pipeline. Exactly one of Message/NewMember is set, per Kind.
type Update struct {
	Kind      Kind            `json:"kind"`
	Message   *MessageEvent   `json:"message,omitempty"`
	NewMember *NewMemberEvent `json:"new_member,omitempty"`
}

// Classify resolves a raw webhook payload to exactly one update variant.
// Payloads that match no known shape return ErrUnclassified.
func Classify(raw []byte) (*Update, error) {
	var wu models.Update
	if err := json.Unmarshal(raw, &wu); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnclassified, err)
	}

	msg := wu.Message
	if msg == nil || msg.Chat.ID == 0 {
		return nil, fmt.Errorf("%w: no message payload", ErrUnclassified)
	}

	chat := Chat{
		ID:    msg.Chat.ID,
		Title: chatTitle(msg.Chat),
		Type:  string(msg.Chat.Type),
	}

	if msg.Text != "" && msg.From != nil {
		return &Update{
			Kind: KindMessage,
			Message: &MessageEvent{
				UpdateID:  wu.ID,
				MessageID: msg.ID,
				From:      toUser(*msg.From),
				Chat:      chat,
				Date:      int64(msg.Date),
				Text:      msg.Text,
			},
		}, nil
	}

	if member := firstNewMember(raw, msg); member != nil && msg.From != nil {
		return &Update{
			Kind: KindNewMember,
			NewMember: &NewMemberEvent{
				UpdateID:  wu.ID,
				NewMember: toUser(*member),
				From:      toUser(*msg.From),
				Chat:      chat,
				Date:      int64(msg.Date),
			},
		}, nil
	}

	return nil, fmt.Errorf("%w: message has neither text nor new member", ErrUnclassified)
}

// chatTitle falls back to the chat username: private chats carry no title.
func chatTitle(c models.Chat) string {
	if c.Title != "" {
		return c.Title
	}
	return c.Username
}

// firstNewMember handles both the current new_chat_members array and the
// legacy singular new_chat_member field, which the library models no
// longer carry.
func firstNewMember(raw []byte, m *models.Message) *models.User {
	if len(m.NewChatMembers) > 0 {
		return &m.NewChatMembers[0]
	}

	var legacy struct {
		Message struct {
			NewChatMember *models.User `json:"new_chat_member"`
		} `json:"message"`
	}
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil
	}
	return legacy.Message.NewChatMember
}

func toUser(u models.User) User {
	return User{
		ID:        u.ID,
		IsBot:     u.IsBot,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Username:  u.Username,
	}
}
