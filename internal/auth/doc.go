// Package auth handles identity for the chat core.
//
// Three pieces:
//
//   - Bridge: client for the external identity bridge endpoint. It exchanges
//     an application session token for a bridge-issued principal token; a
//     refusal is a *BridgeError carrying the bridge's error code and is
//     terminal until a fresh exchange is attempted.
//   - JWTVerifier: HS256 verification of bridge tokens ("custom-token
//     sign-in"); the sub claim is the store principal id.
//   - AuthContext / WithAuth / FromContext: request-scoped identity
//     propagation for HTTP handlers.
package auth
