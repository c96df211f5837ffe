// ABOUTME: Tests for the in-memory MockStore
// ABOUTME: Keeps mock behavior aligned with the SQLite implementation

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockStore_ConversationLifecycle(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	conv := &Conversation{ID: "dm:alice:bob", ParticipantA: "alice", ParticipantB: "bob", CreatedBy: "alice"}
	require.NoError(t, m.CreateConversation(ctx, conv))
	assert.ErrorIs(t, m.CreateConversation(ctx, conv), ErrDuplicateConversation)

	got, err := m.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.CreatedBy)
	assert.Nil(t, got.LastMessageAt)

	require.NoError(t, m.SetLastMessage(ctx, conv.ID, "hello", time.Now()))
	got, err = m.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.LastMessage)
	require.NotNil(t, got.LastMessageAt)

	require.NoError(t, m.DeleteConversation(ctx, conv.ID))
	_, err = m.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMockStore_ReadSetUnion(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	conv := &Conversation{ID: "dm:alice:bob", ParticipantA: "alice", ParticipantB: "bob", CreatedBy: "alice"}
	require.NoError(t, m.CreateConversation(ctx, conv))

	msg := &Message{
		ID: "m1", ConversationID: conv.ID, SenderID: "alice", Text: "hi",
		Type: MessageTypeText, ReadBy: []string{"alice"},
	}
	require.NoError(t, m.SaveMessage(ctx, msg))
	assert.False(t, msg.CreatedAt.IsZero())

	require.NoError(t, m.AddMessageReader(ctx, "m1", "bob"))
	require.NoError(t, m.AddMessageReader(ctx, "m1", "bob"))

	msgs, err := m.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"alice", "bob"}, msgs[0].ReadBy)
}

func TestMockStore_ListConversations_Order(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.CreateConversation(ctx, &Conversation{ID: "dm:alice:bob", ParticipantA: "alice", ParticipantB: "bob", CreatedBy: "alice"}))
	require.NoError(t, m.CreateConversation(ctx, &Conversation{ID: "dm:alice:carol", ParticipantA: "alice", ParticipantB: "carol", CreatedBy: "alice"}))

	require.NoError(t, m.SetLastMessage(ctx, "dm:alice:bob", "hey", time.Now()))

	convs, err := m.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, "dm:alice:bob", convs[0].ID)
}

func TestMockStore_BlockSet(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	require.NoError(t, m.EnsureProfile(ctx, &Profile{ID: "alice", Username: "Alice", Role: "trainee"}))
	require.NoError(t, m.AddBlocked(ctx, "alice", "bob"))

	p, err := m.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, p.Blocked)

	require.NoError(t, m.RemoveBlocked(ctx, "alice", "bob"))
	p, err = m.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, p.Blocked)
}
