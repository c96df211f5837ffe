// ABOUTME: Package documentation for the conversation manager core
// ABOUTME: Describes the state machine, snapshot delivery, and change fan-out

// Package chat implements the conversation manager: direct conversations
// between two principals, message send with attachments, read receipts,
// typing flags, and directed block lists.
//
// # Readiness
//
// A Manager starts Unauthenticated. Init exchanges the caller's session
// credentials at the identity bridge and moves it through Authenticating to
// Ready; a bridge refusal parks it in AuthFailed until Init is called again.
// Every operation refuses with ErrNotReady outside the Ready state.
//
// # Source of truth
//
// The store holds all durable state. The manager persists first, then
// publishes a Change on the Broadcaster; subscribers treat the change as a
// hint to re-read the store and replace their cached view wholesale. Missed
// changes are therefore harmless, and deliveries are full snapshots rather
// than deltas.
//
// # Conversation identity
//
// Direct conversations have deterministic ids derived from the ordered
// participant pair, so both sides resolve to the same record and a creation
// race converges via the store's duplicate-id error.
package chat
