package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Push event types emitted by the backend broker.
const (
	EventMessageCreated  = "MESSAGE_CREATED"
	EventMessageRecalled = "MESSAGE_RECALLED"
	EventRoomCreated     = "ROOM_CREATED"
	EventRoomUpdated     = "ROOM_UPDATED"
	EventRoomDeleted     = "ROOM_DELETED"
)

// BaseEvent is decoded first to route a push payload by type.
type BaseEvent struct {
	Type string `json:"type"`
}

// MessageCreatedEvent arrives on a conversation topic.
type MessageCreatedEvent struct {
	Type            string  `json:"type"`
	MessageResponse Message `json:"messageResponse"`
}

// RoomUpdatedEvent arrives on a per-user topic whenever one of the user's
// conversations gets a new last message.
type RoomUpdatedEvent struct {
	Type           string      `json:"type"`
	ConversationID int64       `json:"conversationId"`
	LastMessage    LastMessage `json:"lastMessage"`
}

// ConversationTopic is the per-conversation destination.
func ConversationTopic(conversationID int64) string {
	return "/topic/conversation/" + strconv.FormatInt(conversationID, 10)
}

// UserConversationsTopic is the per-user destination for list updates.
func UserConversationsTopic(userID int64) string {
	return fmt.Sprintf("/topic/user/%d/conversations", userID)
}

// DecodeMessageCreated extracts the message from a MESSAGE_CREATED payload.
// ok is false for any other event type.
func DecodeMessageCreated(payload []byte) (msg Message, ok bool, err error) {
	var base BaseEvent
	if err := json.Unmarshal(payload, &base); err != nil {
		return Message{}, false, fmt.Errorf("failed to decode event: %w", err)
	}
	if base.Type != EventMessageCreated {
		return Message{}, false, nil
	}

	var evt MessageCreatedEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Message{}, false, fmt.Errorf("failed to decode %s: %w", base.Type, err)
	}
	return evt.MessageResponse, true, nil
}

// DecodeRoomUpdated extracts a ROOM_UPDATED payload. ok is false for any
// other event type.
func DecodeRoomUpdated(payload []byte) (evt RoomUpdatedEvent, ok bool, err error) {
	var base BaseEvent
	if err := json.Unmarshal(payload, &base); err != nil {
		return RoomUpdatedEvent{}, false, fmt.Errorf("failed to decode event: %w", err)
	}
	if base.Type != EventRoomUpdated {
		return RoomUpdatedEvent{}, false, nil
	}

	if err := json.Unmarshal(payload, &evt); err != nil {
		return RoomUpdatedEvent{}, false, fmt.Errorf("failed to decode %s: %w", base.Type, err)
	}
	return evt, true, nil
}
