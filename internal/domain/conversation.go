package domain

import "time"

type ConversationType string

const (
	ConversationDirect ConversationType = "DIRECT"
	ConversationGroup  ConversationType = "GROUP"
)

const unknownDisplayName = "Unknown"

type Member struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar,omitempty"`
}

// LastMessage is the summary projection shown by the conversation list.
type LastMessage struct {
	Content    string      `json:"lastMessageContent"`
	Type       MessageType `json:"lastMessageType"`
	SenderID   int64       `json:"lastSenderId"`
	SenderName string      `json:"lastSenderName"`
	At         time.Time   `json:"lastMessageAt"`
	Read       bool        `json:"read"`
}

type Conversation struct {
	ID          int64            `json:"id"`
	Name        string           `json:"name,omitempty"`
	Type        ConversationType `json:"type"`
	ImageURL    string           `json:"imageUrl,omitempty"`
	UpdatedAt   time.Time        `json:"updatedAt"`
	LastMessage *LastMessage     `json:"lastMessage,omitempty"`
	Members     []Member         `json:"members,omitempty"`
	UnreadCount int              `json:"unreadCount,omitempty"`
}

// OtherParty returns the sole member of a direct conversation whose id
// differs from the viewer.
func (c *Conversation) OtherParty(viewerID int64) (Member, bool) {
	for _, m := range c.Members {
		if m.UserID != viewerID {
			return m, true
		}
	}
	return Member{}, false
}

// DisplayName is the group name, or the other party's nickname for a direct
// conversation.
func (c *Conversation) DisplayName(viewerID int64) string {
	if c.Type == ConversationGroup {
		return c.Name
	}
	if m, ok := c.OtherParty(viewerID); ok && m.Nickname != "" {
		return m.Nickname
	}
	return unknownDisplayName
}

func (c *Conversation) DisplayAvatar(viewerID int64) string {
	if c.Type == ConversationGroup {
		return c.ImageURL
	}
	if m, ok := c.OtherParty(viewerID); ok {
		return m.Avatar
	}
	return ""
}

// LastActivity is the ordering key of the conversation list.
func (c *Conversation) LastActivity() time.Time {
	if c.LastMessage == nil {
		return time.Time{}
	}
	return c.LastMessage.At
}
