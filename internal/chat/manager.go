// ABOUTME: Conversation manager owning identity state, the active conversation, and all chat operations
// ABOUTME: Stateless over the store except cached snapshots and the active-conversation pointer

package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sync"

	"github.com/google/uuid"

	"github.com/coachflow/chatd/internal/auth"
	"github.com/coachflow/chatd/internal/store"
)

// State is the manager readiness state.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateReady           State = "ready"
	StateAuthFailed      State = "auth_failed"
)

// IdentityBridge defines what the manager needs from the identity layer
type IdentityBridge interface {
	Exchange(ctx context.Context, sessionToken string) (*auth.Identity, error)
}

// Uploader defines what the manager needs from blob storage
type Uploader interface {
	Put(ctx context.Context, blobPath string, r io.Reader) (url string, size int64, err error)
}

// File is one attachment handed to SendMessage.
type File struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// SendRequest contains everything needed to send a message into the active conversation
type SendRequest struct {
	Text  string
	Files []File
}

// activeConversation captures the conversation a scoped operation targets.
// Operations copy it at entry so in-flight work keeps targeting the
// conversation that was active when the user acted, not wherever the
// pointer has moved by completion time.
type activeConversation struct {
	id           string
	participants [2]string
}

// Manager is the conversation manager for one authenticated UI session.
// The store is the single source of truth; the manager holds only the
// active-conversation pointer and snapshot channels that subscriptions
// keep eventually consistent.
type Manager struct {
	store       store.Store
	broadcaster *Broadcaster
	bridge      IdentityBridge
	uploader    Uploader
	logger      *slog.Logger

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu          sync.Mutex
	state       State
	identity    *auth.Claims
	active      *activeConversation
	watchCancel context.CancelFunc
	closed      bool

	convCh   chan []*store.Conversation
	msgCh    chan []*store.Message
	typingCh chan map[string]bool
}

// NewManager creates a manager in the unauthenticated state. Call Init to
// run the identity bridge exchange, Close to tear everything down.
func NewManager(st store.Store, broadcaster *Broadcaster, bridge IdentityBridge, uploader Uploader, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:       st,
		broadcaster: broadcaster,
		bridge:      bridge,
		uploader:    uploader,
		logger:      logger.With("component", "chat"),
		rootCtx:     ctx,
		rootCancel:  cancel,
		state:       StateUnauthenticated,
		convCh:      make(chan []*store.Conversation, 1),
		msgCh:       make(chan []*store.Message, 1),
		typingCh:    make(chan map[string]bool, 1),
	}
}

// State returns the current readiness state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PrincipalID returns the authenticated principal id, or "" before Ready.
func (m *Manager) PrincipalID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.identity == nil {
		return ""
	}
	return m.identity.PrincipalID
}

// ActiveConversationID returns the id of the open conversation, or "".
func (m *Manager) ActiveConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.id
}

// Conversations delivers full snapshots of the caller's conversation list,
// newest activity first. Every delivery replaces the previous snapshot;
// a slow reader sees the latest state, never a backlog.
func (m *Manager) Conversations() <-chan []*store.Conversation {
	return m.convCh
}

// Messages delivers full snapshots of the active conversation's messages in
// ascending creation order. Re-keyed whenever the active conversation changes.
func (m *Manager) Messages() <-chan []*store.Message {
	return m.msgCh
}

// Typing delivers full snapshots of the active conversation's typing map.
func (m *Manager) Typing() <-chan map[string]bool {
	return m.typingCh
}

// Init exchanges the session credentials at the identity bridge and moves
// the manager to Ready. A bridge refusal leaves the manager in AuthFailed
// until Init is called again; every operation refuses in the meantime.
func (m *Manager) Init(ctx context.Context, sessionToken string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrNotReady
	}
	if m.state == StateReady {
		m.mu.Unlock()
		return nil
	}
	m.state = StateAuthenticating
	m.mu.Unlock()

	identity, err := m.bridge.Exchange(ctx, sessionToken)
	if err != nil {
		m.mu.Lock()
		m.state = StateAuthFailed
		m.mu.Unlock()
		m.logger.Warn("identity bridge exchange failed", "error", err)
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}

	claims := identity.Claims

	// Lazy profile creation on first authenticated access
	if err := m.store.EnsureProfile(ctx, &store.Profile{
		ID:       claims.PrincipalID,
		Username: claims.Username,
		Role:     claims.Role,
	}); err != nil {
		m.mu.Lock()
		m.state = StateUnauthenticated
		m.mu.Unlock()
		return fmt.Errorf("ensuring profile: %w", err)
	}

	m.mu.Lock()
	m.identity = claims
	m.state = StateReady
	m.mu.Unlock()

	m.logger.Info("manager ready", "principal_id", claims.PrincipalID)
	m.startConversationWatcher(claims.PrincipalID)
	return nil
}

// Close tears down every standing subscription. The snapshot channels stop
// receiving; the manager refuses all further operations.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.active = nil
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
	m.mu.Unlock()

	m.rootCancel()
	m.logger.Debug("manager closed")
}

// StartDirectConversation opens (creating if absent) the direct conversation
// between the caller and otherID, and makes it the active conversation.
// Repeated calls for the same pair always resolve to the same record; a
// creation race with the peer converges on whichever insert won.
func (m *Manager) StartDirectConversation(ctx context.Context, otherID string) (*store.Conversation, error) {
	self, err := m.requireReady()
	if err != nil {
		return nil, err
	}
	if otherID == self {
		return nil, ErrSelfConversation
	}

	// Block policy is checked at initiation time only; existing
	// conversations are not retroactively affected.
	profile, err := m.store.GetProfile(ctx, self)
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}
	if containsID(profile.Blocked, otherID) {
		return nil, ErrBlocked
	}

	otherProfile, err := m.store.GetProfile(ctx, otherID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading peer profile: %w", err)
	}
	if otherProfile != nil && containsID(otherProfile.Blocked, self) {
		return nil, fmt.Errorf("%w: recipient has blocked you", ErrPermissionDenied)
	}

	id := DeriveConversationID(self, otherID)
	conv, err := m.store.GetConversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		lo, hi := orderPair(self, otherID)
		conv = &store.Conversation{
			ID:           id,
			ParticipantA: lo,
			ParticipantB: hi,
			CreatedBy:    self,
		}
		createErr := m.store.CreateConversation(ctx, conv)
		switch {
		case createErr == nil:
			m.logger.Debug("conversation created", "conversation_id", id)
			m.publishConversationListChange(id, conv.ParticipantA, conv.ParticipantB)
		case errors.Is(createErr, store.ErrDuplicateConversation):
			// The peer created it between our lookup and insert; converge
			// on the existing record.
			conv, err = m.store.GetConversation(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("retry lookup after duplicate: %w", err)
			}
			m.logger.Debug("found existing conversation after race", "conversation_id", id)
		default:
			return nil, createErr
		}
	} else if err != nil {
		return nil, fmt.Errorf("looking up conversation: %w", err)
	}

	m.setActive(conv)
	return conv, nil
}

// SendMessage uploads any attachments, appends the message to the active
// conversation, and updates the conversation's last-message preview.
// Returns the new message id. Any upload failure aborts the whole send.
func (m *Manager) SendMessage(ctx context.Context, req *SendRequest) (string, error) {
	self, active, err := m.requireActive()
	if err != nil {
		return "", err
	}

	var attachments []store.Attachment
	for _, f := range req.Files {
		name := path.Base(f.Name)
		blobPath := fmt.Sprintf("conversations/%s/%s-%s", active.id, uuid.New().String(), name)
		url, size, uploadErr := m.uploader.Put(ctx, blobPath, f.Reader)
		if uploadErr != nil {
			return "", fmt.Errorf("%w: uploading %s: %v", ErrUpload, name, uploadErr)
		}
		attachments = append(attachments, store.Attachment{
			Name:        name,
			URL:         url,
			ContentType: f.ContentType,
			Size:        size,
		})
	}

	msgType := store.MessageTypeText
	if len(attachments) > 0 {
		msgType = store.MessageTypeMixed
	}

	msg := &store.Message{
		ID:             uuid.New().String(),
		ConversationID: active.id,
		SenderID:       self,
		Text:           req.Text,
		Attachments:    attachments,
		Type:           msgType,
		ReadBy:         []string{self}, // sender auto-reads own message
	}
	if err := m.store.SaveMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("saving message: %w", err)
	}

	// Targets the conversation captured at entry, not the current pointer:
	// the user may have switched conversations while an upload was in flight.
	if err := m.store.SetLastMessage(ctx, active.id, req.Text, msg.CreatedAt); err != nil {
		return "", fmt.Errorf("updating conversation preview: %w", err)
	}

	m.broadcaster.Publish(TopicConversation(active.id), Change{Kind: ChangeMessages, ConversationID: active.id})
	m.publishConversationListChange(active.id, active.participants[0], active.participants[1])

	m.logger.Debug("message sent",
		"conversation_id", active.id,
		"message_id", msg.ID,
		"attachments", len(attachments))
	return msg.ID, nil
}

// MarkConversationRead unions the caller into the read set of every message
// in the active conversation that doesn't already carry them. Idempotent;
// never removes a reader. Partial failure leaves earlier messages marked —
// safe under an at-least-once retry.
func (m *Manager) MarkConversationRead(ctx context.Context) error {
	self, active, err := m.requireActive()
	if err != nil {
		return err
	}

	msgs, err := m.store.ListMessages(ctx, active.id)
	if err != nil {
		return fmt.Errorf("listing messages: %w", err)
	}

	var firstErr error
	marked := 0
	for _, msg := range msgs {
		if containsID(msg.ReadBy, self) {
			continue
		}
		if err := m.store.AddMessageReader(ctx, msg.ID, self); err != nil {
			m.logger.Warn("read marker failed",
				"conversation_id", active.id,
				"message_id", msg.ID,
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		marked++
	}

	if marked > 0 {
		m.broadcaster.Publish(TopicConversation(active.id), Change{Kind: ChangeMessages, ConversationID: active.id})
	}
	if firstErr != nil {
		return fmt.Errorf("marking read: %w", firstErr)
	}
	return nil
}

// BlockUser adds id to the caller's block set. Idempotent. Existing
// conversations and prior messages are unaffected; only future
// StartDirectConversation calls are refused.
func (m *Manager) BlockUser(ctx context.Context, id string) error {
	self, err := m.requireReady()
	if err != nil {
		return err
	}
	if err := m.store.AddBlocked(ctx, self, id); err != nil {
		return fmt.Errorf("blocking user: %w", err)
	}
	m.logger.Debug("user blocked", "blocked_id", id)
	return nil
}

// UnblockUser removes id from the caller's block set. Idempotent.
func (m *Manager) UnblockUser(ctx context.Context, id string) error {
	self, err := m.requireReady()
	if err != nil {
		return err
	}
	if err := m.store.RemoveBlocked(ctx, self, id); err != nil {
		return fmt.Errorf("unblocking user: %w", err)
	}
	m.logger.Debug("user unblocked", "blocked_id", id)
	return nil
}

// DeleteConversation deletes the active conversation and all its messages.
// Only the creator may delete; anyone else gets ErrPermissionDenied and the
// record is left untouched. On success the active pointer is cleared.
func (m *Manager) DeleteConversation(ctx context.Context) error {
	self, active, err := m.requireActive()
	if err != nil {
		return err
	}

	conv, err := m.store.GetConversation(ctx, active.id)
	if err != nil {
		return fmt.Errorf("looking up conversation: %w", err)
	}
	if conv.CreatedBy != self {
		return fmt.Errorf("%w: only the creator can delete a conversation", ErrPermissionDenied)
	}

	if err := m.store.DeleteConversation(ctx, active.id); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	m.clearActive(active.id)

	m.broadcaster.Publish(TopicConversation(active.id), Change{Kind: ChangeMessages, ConversationID: active.id})
	m.publishConversationListChange(active.id, active.participants[0], active.participants[1])

	m.logger.Info("conversation deleted", "conversation_id", active.id)
	return nil
}

// SetTyping writes the caller's typing flag on the active conversation.
// Last write wins; no history is kept.
func (m *Manager) SetTyping(ctx context.Context, isTyping bool) error {
	self, active, err := m.requireActive()
	if err != nil {
		return err
	}
	if err := m.store.SetTyping(ctx, active.id, self, isTyping); err != nil {
		return fmt.Errorf("updating typing state: %w", err)
	}
	m.broadcaster.Publish(TopicConversation(active.id), Change{Kind: ChangeTyping, ConversationID: active.id})
	return nil
}

// requireReady returns the caller's principal id, or ErrNotReady.
func (m *Manager) requireReady() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != StateReady {
		return "", ErrNotReady
	}
	return m.identity.PrincipalID, nil
}

// requireActive returns the principal id and a copy of the active
// conversation captured at call time.
func (m *Manager) requireActive() (string, activeConversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.state != StateReady {
		return "", activeConversation{}, ErrNotReady
	}
	if m.active == nil {
		return "", activeConversation{}, ErrNoActiveConversation
	}
	return m.identity.PrincipalID, *m.active, nil
}

// setActive points the manager at conv and swaps the message/typing
// subscriptions over to it. The previous conversation's subscriptions are
// cancelled; their late deliveries are discarded by the captured-id check.
func (m *Manager) setActive(conv *store.Conversation) {
	m.mu.Lock()
	if m.watchCancel != nil {
		m.watchCancel()
	}
	watchCtx, cancel := context.WithCancel(m.rootCtx)
	m.watchCancel = cancel
	m.active = &activeConversation{
		id:           conv.ID,
		participants: [2]string{conv.ParticipantA, conv.ParticipantB},
	}
	m.mu.Unlock()

	m.startConversationScopedWatcher(watchCtx, conv.ID)
}

// clearActive drops the pointer and subscriptions if id is still active.
func (m *Manager) clearActive(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.id != id {
		return
	}
	m.active = nil
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
	}
}

// startConversationWatcher runs the standing conversation-list query for
// the authenticated principal. One per manager, lives until Close.
func (m *Manager) startConversationWatcher(principalID string) {
	ch, _ := m.broadcaster.Subscribe(m.rootCtx, TopicUser(principalID))
	go func() {
		m.deliverConversations(m.rootCtx, principalID)
		for {
			select {
			case <-m.rootCtx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
				m.deliverConversations(m.rootCtx, principalID)
			}
		}
	}()
}

// startConversationScopedWatcher runs the message and typing queries for one
// conversation. Cancelled when the active conversation changes.
func (m *Manager) startConversationScopedWatcher(ctx context.Context, conversationID string) {
	ch, _ := m.broadcaster.Subscribe(ctx, TopicConversation(conversationID))
	go func() {
		m.deliverMessages(ctx, conversationID)
		m.deliverTyping(ctx, conversationID)
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-ch:
				if !ok {
					return
				}
				switch change.Kind {
				case ChangeMessages:
					m.deliverMessages(ctx, conversationID)
				case ChangeTyping:
					m.deliverTyping(ctx, conversationID)
				}
			}
		}
	}()
}

func (m *Manager) deliverConversations(ctx context.Context, principalID string) {
	convs, err := m.store.ListConversations(ctx, principalID)
	if err != nil {
		m.logger.Warn("conversation list refresh failed", "error", err)
		return
	}
	sendLatest(m.convCh, convs)
}

func (m *Manager) deliverMessages(ctx context.Context, conversationID string) {
	msgs, err := m.store.ListMessages(ctx, conversationID)
	if err != nil {
		m.logger.Warn("message list refresh failed",
			"conversation_id", conversationID,
			"error", err)
		return
	}
	// Stale-result discard: the pointer may have moved while we queried
	if m.ActiveConversationID() != conversationID {
		return
	}
	sendLatest(m.msgCh, msgs)
}

func (m *Manager) deliverTyping(ctx context.Context, conversationID string) {
	conv, err := m.store.GetConversation(ctx, conversationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			m.logger.Warn("typing state refresh failed",
				"conversation_id", conversationID,
				"error", err)
		}
		return
	}
	if m.ActiveConversationID() != conversationID {
		return
	}
	sendLatest(m.typingCh, conv.Typing)
}

// publishConversationListChange notifies both participants' list watchers.
func (m *Manager) publishConversationListChange(conversationID string, participants ...string) {
	change := Change{Kind: ChangeConversations, ConversationID: conversationID}
	for _, p := range participants {
		m.broadcaster.Publish(TopicUser(p), change)
	}
}

// sendLatest replaces whatever snapshot is buffered with the newest one.
// The channel has capacity 1, so a reader that falls behind sees only the
// latest state.
func sendLatest[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}

func containsID(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
