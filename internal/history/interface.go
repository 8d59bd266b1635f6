package history

import (
	"context"

	"github.com/weiawesome/wes-io-live/chat-client/internal/domain"
)

// DefaultPageSize is the page size the history service is known to honour.
const DefaultPageSize = 20

// Service is the conversation history collaborator.
type Service interface {
	// GetConversation returns conversation metadata as seen by viewerID.
	GetConversation(ctx context.Context, conversationID, viewerID int64) (*domain.Conversation, error)

	// ListConversations returns every conversation viewerID is a member of.
	ListConversations(ctx context.Context, viewerID int64) ([]domain.Conversation, error)

	// FetchPage returns messages strictly older than before, oldest first.
	// An empty before asks for the most recent page. A failure is always
	// reported as an error, never as an exhausted page.
	FetchPage(ctx context.Context, conversationID, viewerID int64, before string, limit int) (*domain.Page, error)

	// SendMessage submits a message. The returned message is nil when the
	// server acknowledges without echoing the body.
	SendMessage(ctx context.Context, viewerID int64, req domain.SendMessageRequest) (*domain.Message, error)

	// MarkRead resets the viewer's unread counter for a conversation.
	MarkRead(ctx context.Context, conversationID, viewerID int64) error
}
