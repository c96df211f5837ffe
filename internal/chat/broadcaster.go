// ABOUTME: In-memory fan-out broadcaster for store change notifications
// ABOUTME: Publishes persisted changes to all subscribers of a topic

package chat

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// ChangeKind identifies which view of a conversation changed.
type ChangeKind string

const (
	// ChangeConversations means the subscriber's conversation list changed
	// (new conversation, new last message, or a deletion).
	ChangeConversations ChangeKind = "conversations"
	// ChangeMessages means the message list of a conversation changed.
	ChangeMessages ChangeKind = "messages"
	// ChangeTyping means a typing flag on a conversation changed.
	ChangeTyping ChangeKind = "typing"
)

// Change is the notification payload. Subscribers treat it as a hint to
// re-read the store and replace their cached view; it carries no data itself.
type Change struct {
	Kind           ChangeKind
	ConversationID string
}

// TopicUser is the topic carrying conversation-list changes for a principal.
func TopicUser(principalID string) string {
	return "user:" + principalID
}

// TopicConversation is the topic carrying message and typing changes for a
// single conversation.
func TopicConversation(conversationID string) string {
	return "conv:" + conversationID
}

// Broadcaster provides in-memory pub/sub for store change notifications.
// Subscribers register for a topic and receive a Change whenever a write
// the topic covers has been persisted. This is what turns store writes into
// snapshot deliveries without polling.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Change // topic -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Change),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for changes on the given topic.
// Returns a channel that receives changes and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx is
// cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, topic string) (<-chan Change, string) {
	subID := uuid.New().String()
	ch := make(chan Change, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan Change)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	// Auto-cleanup on context cancellation
	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish sends a change to all subscribers of the given topic.
// Non-blocking: changes are dropped for subscribers whose channels are full.
// A dropped change is harmless because every delivery triggers a full
// re-read; the next change catches the subscriber up.
func (b *Broadcaster) Publish(topic string, change Change) {
	b.mu.RLock()
	subs, ok := b.subscribers[topic]
	if !ok || len(subs) == 0 {
		b.mu.RUnlock()
		return
	}

	// Copy subscriber channels under read lock to avoid holding lock during sends
	targets := make([]chan Change, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- change:
			// Sent
		default:
			// Subscriber channel full — drop change for this subscriber
			b.logger.Debug("dropped change for slow subscriber",
				"topic", topic,
				"kind", change.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}

	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	// Clean up empty topic entries
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}

	b.logger.Debug("broadcaster closed")
}
