// Package store provides persistent chat storage using SQLite.
//
// # Architecture
//
// The Store interface is the single source of truth for all chat state:
// profiles and their block sets, conversations, messages, read markers and
// typing flags. The chat layer on top of it holds no authoritative state of
// its own, only cached views refreshed from here.
//
// Two implementations exist:
//
//   - SQLiteStore: durable storage via modernc.org/sqlite (WAL mode,
//     foreign keys, schema created on open)
//   - MockStore: in-memory, for tests
//
// # Data Models
//
//   - Profile: store-side record for a principal, owning its directed block set
//   - Conversation: two-participant direct thread; the id is derived from the
//     participant pair so one record can exist per pair
//   - Message: immutable once saved except ReadBy, which only grows
//
// # Invariants
//
// Message CreatedAt is assigned inside SaveMessage, never taken from the
// caller, so ordering is authoritative from the store. Read markers live in
// their own table keyed (message, principal); AddMessageReader is an
// INSERT OR IGNORE, which makes concurrent read-marking a set union rather
// than a last-write-wins overwrite.
package store
