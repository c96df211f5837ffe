// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu            sync.RWMutex
	profiles      map[string]*Profile          // keyed by principal id
	blocked       map[string]map[string]bool   // owner id -> blocked id set
	conversations map[string]*Conversation     // keyed by conversation id
	typing        map[string]map[string]bool   // conversation id -> principal -> flag
	messages      map[string][]*Message        // keyed by conversation id, insertion order
	reads         map[string]map[string]bool   // message id -> principal set

	// FailSaveMessage, when set, is returned by SaveMessage. Lets tests
	// exercise transient-store-failure paths.
	FailSaveMessage error

	// FailAddReader, when set, is consulted by AddMessageReader before the
	// write. Returning a non-nil error fails that marker only, so tests can
	// exercise partial read-marking.
	FailAddReader func(messageID, principalID string) error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		profiles:      make(map[string]*Profile),
		blocked:       make(map[string]map[string]bool),
		conversations: make(map[string]*Conversation),
		typing:        make(map[string]map[string]bool),
		messages:      make(map[string][]*Message),
		reads:         make(map[string]map[string]bool),
	}
}

// EnsureProfile creates the profile if absent; existing profiles are untouched.
func (m *MockStore) EnsureProfile(ctx context.Context, profile *Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.profiles[profile.ID]; ok {
		return nil
	}

	p := *profile
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.profiles[p.ID] = &p
	return nil
}

// GetProfile retrieves a profile by id, including its block set.
func (m *MockStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := *p
	result.Blocked = nil
	for blockedID := range m.blocked[id] {
		result.Blocked = append(result.Blocked, blockedID)
	}
	sort.Strings(result.Blocked)
	return &result, nil
}

// AddBlocked adds blockedID to ownerID's block set. Idempotent.
func (m *MockStore) AddBlocked(ctx context.Context, ownerID, blockedID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.blocked[ownerID] == nil {
		m.blocked[ownerID] = make(map[string]bool)
	}
	m.blocked[ownerID][blockedID] = true
	return nil
}

// RemoveBlocked removes blockedID from ownerID's block set. Idempotent.
func (m *MockStore) RemoveBlocked(ctx context.Context, ownerID, blockedID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.blocked[ownerID], blockedID)
	return nil
}

// CreateConversation stores a new conversation, or returns
// ErrDuplicateConversation if the id is already taken.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conv.ID]; ok {
		return ErrDuplicateConversation
	}

	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = time.Now()
	}
	c := *conv
	c.LastMessageAt = nil
	m.conversations[c.ID] = &c
	return nil
}

// GetConversation retrieves a conversation by id.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return m.copyConversation(c), nil
}

// ListConversations returns the principal's conversations ordered by last
// activity descending, conversations with no messages last.
func (m *MockStore) ListConversations(ctx context.Context, principalID string) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var convs []*Conversation
	for _, c := range m.conversations {
		if c.ParticipantA == principalID || c.ParticipantB == principalID {
			convs = append(convs, m.copyConversation(c))
		}
	}

	sort.Slice(convs, func(i, j int) bool {
		a, b := convs[i], convs[j]
		switch {
		case a.LastMessageAt != nil && b.LastMessageAt != nil:
			return a.LastMessageAt.After(*b.LastMessageAt)
		case a.LastMessageAt != nil:
			return true
		case b.LastMessageAt != nil:
			return false
		default:
			return a.CreatedAt.After(b.CreatedAt)
		}
	})

	return convs, nil
}

// SetLastMessage updates the conversation's last-message preview.
func (m *MockStore) SetLastMessage(ctx context.Context, conversationID, text string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.conversations[conversationID]
	if !ok {
		return ErrNotFound
	}
	c.LastMessage = text
	t := at
	c.LastMessageAt = &t
	return nil
}

// SetTyping writes the principal's typing flag. Last write wins.
func (m *MockStore) SetTyping(ctx context.Context, conversationID, principalID string, isTyping bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conversationID]; !ok {
		return ErrNotFound
	}
	if m.typing[conversationID] == nil {
		m.typing[conversationID] = make(map[string]bool)
	}
	m.typing[conversationID][principalID] = isTyping
	return nil
}

// DeleteConversation removes the conversation and all messages under it.
func (m *MockStore) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}

	for _, msg := range m.messages[id] {
		delete(m.reads, msg.ID)
	}
	delete(m.messages, id)
	delete(m.typing, id)
	delete(m.conversations, id)
	return nil
}

// SaveMessage appends a message, stamping CreatedAt server-side.
func (m *MockStore) SaveMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSaveMessage != nil {
		return m.FailSaveMessage
	}

	msg.CreatedAt = time.Now()

	saved := *msg
	saved.ReadBy = nil
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], &saved)

	if m.reads[msg.ID] == nil {
		m.reads[msg.ID] = make(map[string]bool)
	}
	for _, reader := range msg.ReadBy {
		m.reads[msg.ID][reader] = true
	}
	return nil
}

// ListMessages returns messages in ascending creation order.
func (m *MockStore) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	result := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		cp := *msg
		cp.ReadBy = nil
		for reader := range m.reads[msg.ID] {
			cp.ReadBy = append(cp.ReadBy, reader)
		}
		sort.Strings(cp.ReadBy)
		result = append(result, &cp)
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

// AddMessageReader unions the principal into the message's read set.
func (m *MockStore) AddMessageReader(ctx context.Context, messageID, principalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAddReader != nil {
		if err := m.FailAddReader(messageID, principalID); err != nil {
			return err
		}
	}

	if m.reads[messageID] == nil {
		m.reads[messageID] = make(map[string]bool)
	}
	m.reads[messageID][principalID] = true
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) copyConversation(c *Conversation) *Conversation {
	cp := *c
	if c.LastMessageAt != nil {
		t := *c.LastMessageAt
		cp.LastMessageAt = &t
	}
	cp.Typing = make(map[string]bool)
	for principalID, flag := range m.typing[c.ID] {
		cp.Typing[principalID] = flag
	}
	return &cp
}
