package domain

import (
	"errors"
	"time"
)

const (
	// RoomGroupPrefix group name prefix for a chat room
	RoomGroupPrefix = "chat_"
	// UserGroupPrefix group name prefix for a user notification channel
	UserGroupPrefix = "user_"
)

var (
	// ErrMalformedFrame inbound frame can't decode into InboundFrame
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnauthenticated sender has no identity
	ErrUnauthenticated = errors.New("sender not authenticated")
	// ErrSessionNotOpen operation on a session that is not open
	ErrSessionNotOpen = errors.New("session not open")
	// ErrUnroutable message has neither room nor receiver
	ErrUnroutable = errors.New("message has no room and no receiver")
)

// ChatMessage 表示一則聊天訊息
//
// CreatedAt is assigned by the MessageRepository on Create and never changes.
// Read only moves from false to true.
type ChatMessage struct {
	ID         string    `bson:"_id" json:"id" gorm:"primaryKey;type:varchar(36)"`
	Sender     string    `bson:"sender" json:"sender" gorm:"not null;index"`
	SenderName string    `bson:"sender_name" json:"sender_name"`
	Receiver   string    `bson:"receiver,omitempty" json:"receiver,omitempty" gorm:"index:idx_receiver_read"`
	Room       string    `bson:"room,omitempty" json:"room,omitempty" gorm:"index:idx_room_created"`
	Body       string    `bson:"body" json:"body" gorm:"type:text;not null"`
	CreatedAt  time.Time `bson:"created_at" json:"created_at" gorm:"index:idx_room_created;autoCreateTime:false"`
	Read       bool      `bson:"read" json:"read" gorm:"not null;default:false;index:idx_receiver_read"`
}

// TableName gorm table name
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// IsDirect message addressed to a single receiver
func (m *ChatMessage) IsDirect() bool {
	return m.Receiver != ""
}

// MessageDraft 是尚未寫入的訊息, store 會補上 ID 與 CreatedAt
type MessageDraft struct {
	Sender     string
	SenderName string
	Receiver   string
	Room       string
	Body       string
}

// Validate check draft is routable and has a sender
func (d MessageDraft) Validate() error {
	if d.Sender == "" {
		return ErrUnauthenticated
	}
	if d.Room == "" && d.Receiver == "" {
		return ErrUnroutable
	}
	return nil
}

// Build turn the draft into a ChatMessage with store assigned fields
func (d MessageDraft) Build(id string, createdAt time.Time) *ChatMessage {
	return &ChatMessage{
		ID:         id,
		Sender:     d.Sender,
		SenderName: d.SenderName,
		Receiver:   d.Receiver,
		Room:       d.Room,
		Body:       d.Body,
		CreatedAt:  createdAt,
		Read:       false,
	}
}

// HistoryQuery room history page
type HistoryQuery struct {
	Room   string
	Before time.Time
	Limit  int
}

// Identity of the user bound to a connection. Zero value is anonymous.
type Identity struct {
	ID   string
	Name string
}

// Authenticated identity carries a user id
func (i Identity) Authenticated() bool {
	return i.ID != ""
}

// DisplayName name shown to other members
func (i Identity) DisplayName() string {
	if i.Name != "" {
		return i.Name
	}
	return i.ID
}

// RoomGroup map room id to its group name
func RoomGroup(roomID string) string {
	return RoomGroupPrefix + roomID
}

// UserGroup map user id to its notification channel name
func UserGroup(userID string) string {
	return UserGroupPrefix + userID
}
