// ABOUTME: Tests for deterministic direct-conversation id derivation
// ABOUTME: Covers commutativity, prefix shape, and byte-wise ordering

package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveConversationID_Commutative(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{"u-123", "u-456"},
		{"Zed", "abe"}, // byte-wise: uppercase sorts before lowercase
	}
	for _, p := range pairs {
		assert.Equal(t, DeriveConversationID(p[0], p[1]), DeriveConversationID(p[1], p[0]),
			"id must not depend on argument order for %q/%q", p[0], p[1])
	}
}

func TestDeriveConversationID_Shape(t *testing.T) {
	assert.Equal(t, "dm:alice:bob", DeriveConversationID("bob", "alice"))
	assert.Equal(t, "dm:Zed:abe", DeriveConversationID("abe", "Zed"))
}

func TestDeriveConversationID_DistinctPairsDistinctIDs(t *testing.T) {
	a := DeriveConversationID("alice", "bob")
	b := DeriveConversationID("alice", "carol")
	c := DeriveConversationID("bob", "carol")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, b, c)
}
