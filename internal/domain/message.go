package domain

import "time"

type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeFile  MessageType = "FILE"
)

// Message is a single chat message as served by the history service and
// pushed by the realtime channel. ID is unique within a conversation.
type Message struct {
	ID             string      `json:"id"`
	ConversationID int64       `json:"conversationId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	CreatedAt      time.Time   `json:"createdAt"`
	SenderID       int64       `json:"senderId"`
	SenderName     string      `json:"senderName"`
	SenderAvatar   string      `json:"senderAvatar,omitempty"`

	// The backend serialises its isActive flag under either key.
	Active   *bool `json:"active,omitempty"`
	IsActive *bool `json:"isActive,omitempty"`
}

// Deleted reports whether the message was recalled or deactivated.
func (m Message) Deleted() bool {
	if m.Active != nil && !*m.Active {
		return true
	}
	return m.IsActive != nil && !*m.IsActive
}

// Page is one cursor-paginated slice of history, oldest first.
type Page struct {
	Messages   []Message `json:"data"`
	NextCursor *string   `json:"nextCursor"`
	HasMore    bool      `json:"hasNext"`
}

// Cursor returns the opaque token for the next older page, or "" when the
// server issued none.
func (p Page) Cursor() string {
	if p.NextCursor == nil {
		return ""
	}
	return *p.NextCursor
}

// SendMessageRequest is the body of POST /messages/send.
type SendMessageRequest struct {
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
	ConversationID int64       `json:"conversationId"`
}
