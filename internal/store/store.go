// ABOUTME: Store interface and data types for chatd persistence
// ABOUTME: Defines Profile, Conversation, Message structs and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateConversation is returned when creating a conversation whose id already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// MessageType constants for message types
const (
	MessageTypeText  = "text"  // Text-only message
	MessageTypeMixed = "mixed" // Message carrying one or more attachments
)

// Profile is the store-side record for a principal.
// Blocked holds the principal ids this profile's owner has blocked; it is
// mutated only through AddBlocked/RemoveBlocked.
type Profile struct {
	ID        string
	Username  string
	Role      string
	CreatedAt time.Time
	Blocked   []string
}

// Conversation is a two-participant direct-message thread. The id is derived
// from the participant pair, so exactly one record can exist per pair.
type Conversation struct {
	ID            string
	ParticipantA  string
	ParticipantB  string
	IsGroup       bool
	LastMessage   string
	LastMessageAt *time.Time
	CreatedAt     time.Time
	CreatedBy     string
	Typing        map[string]bool
}

// Participants returns both participant ids.
func (c *Conversation) Participants() []string {
	return []string{c.ParticipantA, c.ParticipantB}
}

// HasParticipant reports whether id is one of the two participants.
func (c *Conversation) HasParticipant(id string) bool {
	return c.ParticipantA == id || c.ParticipantB == id
}

// Attachment describes one uploaded file attached to a message.
type Attachment struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	ContentType string `json:"type"`
	Size        int64  `json:"size"`
}

// Message is immutable once created except for ReadBy, which only grows.
// CreatedAt is assigned by the store on save, never by the caller.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Text           string
	Attachments    []Attachment
	Type           string // "text" or "mixed"
	CreatedAt      time.Time
	ReadBy         []string
}

// Store defines the interface for chat persistence.
// All list results are stable: conversations newest-activity first,
// messages in ascending creation order.
type Store interface {
	// Profiles
	EnsureProfile(ctx context.Context, profile *Profile) error
	GetProfile(ctx context.Context, id string) (*Profile, error)

	// Block relation (directed, owned by the blocking profile)
	AddBlocked(ctx context.Context, ownerID, blockedID string) error
	RemoveBlocked(ctx context.Context, ownerID, blockedID string) error

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, principalID string) ([]*Conversation, error)
	SetLastMessage(ctx context.Context, conversationID, text string, at time.Time) error
	SetTyping(ctx context.Context, conversationID, principalID string, isTyping bool) error
	DeleteConversation(ctx context.Context, id string) error

	// Messages
	SaveMessage(ctx context.Context, msg *Message) error
	ListMessages(ctx context.Context, conversationID string) ([]*Message, error)
	AddMessageReader(ctx context.Context, messageID, principalID string) error

	// Close releases any resources held by the store
	Close() error
}
