// ABOUTME: Tests for the SQLite Store implementation
// ABOUTME: Covers profiles, block sets, conversations, messages, and read markers

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_EnsureProfile_Lazy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.EnsureProfile(ctx, &Profile{ID: "alice", Username: "Alice", Role: "trainee"})
	require.NoError(t, err)

	// Second ensure with different fields must not overwrite
	err = s.EnsureProfile(ctx, &Profile{ID: "alice", Username: "Changed", Role: "admin"})
	require.NoError(t, err)

	p, err := s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", p.Username)
	assert.Equal(t, "trainee", p.Role)
	assert.Empty(t, p.Blocked)
}

func TestSQLiteStore_GetProfile_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetProfile(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_BlockSet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.EnsureProfile(ctx, &Profile{ID: "alice", Username: "Alice", Role: "trainee"}))

	require.NoError(t, s.AddBlocked(ctx, "alice", "bob"))
	// Idempotent add
	require.NoError(t, s.AddBlocked(ctx, "alice", "bob"))
	require.NoError(t, s.AddBlocked(ctx, "alice", "carol"))

	p, err := s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob", "carol"}, p.Blocked)

	require.NoError(t, s.RemoveBlocked(ctx, "alice", "bob"))
	// Idempotent remove
	require.NoError(t, s.RemoveBlocked(ctx, "alice", "bob"))

	p, err = s.GetProfile(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"carol"}, p.Blocked)
}

func TestSQLiteStore_CreateConversation_Duplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &Conversation{
		ID:           "dm:alice:bob",
		ParticipantA: "alice",
		ParticipantB: "bob",
		CreatedBy:    "alice",
	}
	require.NoError(t, s.CreateConversation(ctx, conv))

	err := s.CreateConversation(ctx, conv)
	assert.ErrorIs(t, err, ErrDuplicateConversation)
}

func TestSQLiteStore_ListConversations_Order(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"dm:alice:bob", "dm:alice:carol", "dm:alice:dave"} {
		require.NoError(t, s.CreateConversation(ctx, &Conversation{
			ID:           id,
			ParticipantA: "alice",
			ParticipantB: id[len("dm:alice:"):],
			CreatedBy:    "alice",
		}))
	}

	now := time.Now()
	require.NoError(t, s.SetLastMessage(ctx, "dm:alice:bob", "old", now.Add(-time.Hour)))
	require.NoError(t, s.SetLastMessage(ctx, "dm:alice:carol", "new", now))

	convs, err := s.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 3)

	// Most recent activity first, never-active conversation last
	assert.Equal(t, "dm:alice:carol", convs[0].ID)
	assert.Equal(t, "dm:alice:bob", convs[1].ID)
	assert.Equal(t, "dm:alice:dave", convs[2].ID)
	assert.Equal(t, "new", convs[0].LastMessage)

	// bob is a participant too
	convs, err = s.ListConversations(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, convs, 1)
	assert.Equal(t, "dm:alice:bob", convs[0].ID)
}

func TestSQLiteStore_SetLastMessage_NotFound(t *testing.T) {
	s := newTestStore(t)

	err := s.SetLastMessage(context.Background(), "dm:x:y", "hi", time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteStore_Messages_OrderAndReadBy(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &Conversation{ID: "dm:alice:bob", ParticipantA: "alice", ParticipantB: "bob", CreatedBy: "alice"}
	require.NoError(t, s.CreateConversation(ctx, conv))

	first := &Message{
		ID:             "m1",
		ConversationID: conv.ID,
		SenderID:       "alice",
		Text:           "hello",
		Type:           MessageTypeText,
		ReadBy:         []string{"alice"},
	}
	require.NoError(t, s.SaveMessage(ctx, first))
	assert.False(t, first.CreatedAt.IsZero(), "store must assign CreatedAt")

	second := &Message{
		ID:             "m2",
		ConversationID: conv.ID,
		SenderID:       "bob",
		Text:           "hi back",
		Type:           MessageTypeText,
		ReadBy:         []string{"bob"},
	}
	require.NoError(t, s.SaveMessage(ctx, second))

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	assert.Equal(t, "m2", msgs[1].ID)
	assert.Equal(t, []string{"alice"}, msgs[0].ReadBy)

	// Union-add bob to the first message; repeat to confirm idempotence
	require.NoError(t, s.AddMessageReader(ctx, "m1", "bob"))
	require.NoError(t, s.AddMessageReader(ctx, "m1", "bob"))

	msgs, err = s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, msgs[0].ReadBy)
}

func TestSQLiteStore_Message_Attachments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &Conversation{ID: "dm:alice:bob", ParticipantA: "alice", ParticipantB: "bob", CreatedBy: "alice"}
	require.NoError(t, s.CreateConversation(ctx, conv))

	msg := &Message{
		ID:             "m1",
		ConversationID: conv.ID,
		SenderID:       "alice",
		Text:           "progress photo",
		Type:           MessageTypeMixed,
		Attachments: []Attachment{
			{Name: "photo.jpg", URL: "https://files.example.com/conversations/dm:alice:bob/abc-photo.jpg", ContentType: "image/jpeg", Size: 12345},
		},
		ReadBy: []string{"alice"},
	}
	require.NoError(t, s.SaveMessage(ctx, msg))

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "photo.jpg", msgs[0].Attachments[0].Name)
	assert.Equal(t, int64(12345), msgs[0].Attachments[0].Size)
	assert.Equal(t, MessageTypeMixed, msgs[0].Type)
}

func TestSQLiteStore_Typing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &Conversation{ID: "dm:alice:bob", ParticipantA: "alice", ParticipantB: "bob", CreatedBy: "alice"}
	require.NoError(t, s.CreateConversation(ctx, conv))

	require.NoError(t, s.SetTyping(ctx, conv.ID, "alice", true))

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.Typing["alice"])

	// Last write wins
	require.NoError(t, s.SetTyping(ctx, conv.ID, "alice", false))

	got, err = s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.False(t, got.Typing["alice"])
}

func TestSQLiteStore_DeleteConversation_Cascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &Conversation{ID: "dm:alice:bob", ParticipantA: "alice", ParticipantB: "bob", CreatedBy: "alice"}
	require.NoError(t, s.CreateConversation(ctx, conv))
	require.NoError(t, s.SaveMessage(ctx, &Message{
		ID: "m1", ConversationID: conv.ID, SenderID: "alice", Text: "hello",
		Type: MessageTypeText, ReadBy: []string{"alice"},
	}))
	require.NoError(t, s.SetTyping(ctx, conv.ID, "alice", true))

	require.NoError(t, s.DeleteConversation(ctx, conv.ID))

	_, err := s.GetConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	msgs, err := s.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	err = s.DeleteConversation(ctx, conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
