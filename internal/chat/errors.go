// ABOUTME: Error taxonomy for conversation manager operations
// ABOUTME: Sentinel errors compared with errors.Is at call sites

package chat

import "errors"

var (
	// ErrNotReady is returned by every operation attempted before Init has
	// completed successfully, or after authentication has failed.
	ErrNotReady = errors.New("conversation manager is not ready")

	// ErrAuthFailed wraps an identity bridge refusal. Terminal until Init is
	// called again.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrNoActiveConversation is returned by conversation-scoped operations
	// when no conversation is open.
	ErrNoActiveConversation = errors.New("no active conversation")

	// ErrBlocked is returned when the caller tries to start a conversation
	// with a principal they have blocked.
	ErrBlocked = errors.New("recipient is blocked")

	// ErrPermissionDenied is returned when the caller lacks the right to
	// perform the operation: deleting a conversation they didn't create, or
	// initiating contact with a principal who has blocked them.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrSelfConversation is returned when a caller tries to open a direct
	// conversation with themselves.
	ErrSelfConversation = errors.New("cannot start a conversation with yourself")

	// ErrUpload is returned when an attachment upload fails. The whole send
	// is aborted; no partial message is created.
	ErrUpload = errors.New("attachment upload failed")
)
