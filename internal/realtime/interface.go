package realtime

import (
	"context"
	"errors"

	"github.com/weiawesome/wes-io-live/chat-client/internal/domain"
)

var (
	// ErrNotConnected is returned by Subscribe while no connection is up.
	ErrNotConnected = errors.New("realtime: not connected")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("realtime: manager closed")
)

// State is the connection lifecycle of a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Handler receives the raw payload of one pushed frame.
type Handler func(payload []byte)

// Transport opens physical connections to a push broker.
type Transport interface {
	// Name identifies the driver in logs and metrics.
	Name() string
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one physical broker connection.
type Conn interface {
	// Subscribe starts delivering payloads published on topic to h.
	// h is called from the connection's read goroutine.
	Subscribe(topic string, h Handler) (Subscription, error)

	// Done is closed when the connection is lost or closed.
	Done() <-chan struct{}

	// Err reports why Done was closed.
	Err() error

	Close() error
}

type Subscription interface {
	Unsubscribe() error
}

// Channel is the contract the chat window and conversation list depend on.
type Channel interface {
	// Connect establishes the shared connection, or joins an attempt already
	// in flight. It returns immediately when already connected. A failed
	// attempt is returned to the caller and retried in the background with
	// the fixed reconnect delay.
	Connect(ctx context.Context) error

	State() State

	// SubscribeConversation registers the single listener for a
	// conversation's MESSAGE_CREATED events. A second call while one is
	// active is a no-op.
	SubscribeConversation(conversationID int64, onMessage func(domain.Message)) error
	UnsubscribeConversation(conversationID int64)

	// SubscribeUserConversations registers the listener for ROOM_UPDATED
	// events across all of userID's conversations.
	SubscribeUserConversations(userID int64, onUpdate func(domain.RoomUpdatedEvent)) error
	UnsubscribeUserConversations(userID int64)

	// OnConnected registers fn to run after every successful connect.
	// reconnected is false only for the first connection of the manager.
	// fn must not block. The returned func removes the registration.
	OnConnected(fn func(reconnected bool)) (remove func())
}
