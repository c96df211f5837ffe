// ABOUTME: Deterministic conversation id derivation for direct messages
// ABOUTME: Commutative over the participant pair so repeated starts converge

package chat

// directPrefix namespaces direct-conversation ids so they can never collide
// with ids of other conversation kinds added later.
const directPrefix = "dm"

// DeriveConversationID returns the id of the direct conversation between a
// and b. The two ids are ordered byte-wise (locale-independent), so the
// result is the same whichever participant asks:
//
//	DeriveConversationID(a, b) == DeriveConversationID(b, a)
func DeriveConversationID(a, b string) string {
	lo, hi := orderPair(a, b)
	return directPrefix + ":" + lo + ":" + hi
}

// orderPair returns the two ids in byte-wise ascending order.
func orderPair(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
