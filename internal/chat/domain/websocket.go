package domain

import (
	"encoding/json"
	"time"
)

// EventType outbound websocket event type
type EventType string

const (
	// EventChatMessage room broadcast
	EventChatMessage EventType = "chat_message"
	// EventNotification unread count update
	EventNotification EventType = "notification"
	// EventError failure acknowledgment to the sender
	EventError EventType = "error"
)

// TimestampLayout layout of BroadcastEvent.Timestamp
const TimestampLayout = time.RFC3339Nano

// InboundFrame websocket Request from client
type InboundFrame struct {
	Message  *string `json:"message"`
	Receiver string  `json:"receiver,omitempty"`
}

// DecodeInboundFrame parse a text frame, a frame without message string is malformed
func DecodeInboundFrame(data []byte) (InboundFrame, error) {
	var f InboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return InboundFrame{}, ErrMalformedFrame
	}
	if f.Message == nil {
		return InboundFrame{}, ErrMalformedFrame
	}
	return f, nil
}

// Body message text of a decoded frame
func (f InboundFrame) Body() string {
	if f.Message == nil {
		return ""
	}
	return *f.Message
}

// BroadcastEvent room broadcast payload
type BroadcastEvent struct {
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	Sender    string    `json:"sender"`
	Timestamp string    `json:"timestamp"`
}

// NewBroadcastEvent build the room payload for a persisted message
func NewBroadcastEvent(msg *ChatMessage) BroadcastEvent {
	sender := msg.SenderName
	if sender == "" {
		sender = msg.Sender
	}
	return BroadcastEvent{
		Type:      EventChatMessage,
		Message:   msg.Body,
		Sender:    sender,
		Timestamp: msg.CreatedAt.UTC().Format(TimestampLayout),
	}
}

// NotificationEvent unread count payload
type NotificationEvent struct {
	Type        EventType `json:"type"`
	UnreadCount int64     `json:"unread_count"`
}

// NewNotificationEvent build unread count payload
func NewNotificationEvent(count int64) NotificationEvent {
	return NotificationEvent{Type: EventNotification, UnreadCount: count}
}

// ErrorEvent explicit failure acknowledgment
type ErrorEvent struct {
	Type  EventType `json:"type"`
	Error string    `json:"error"`
}

// NewErrorEvent build error payload
func NewErrorEvent(msg string) ErrorEvent {
	return ErrorEvent{Type: EventError, Error: msg}
}
