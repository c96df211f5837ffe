// ABOUTME: Package documentation for the HTTP and websocket surface
// ABOUTME: Describes routes, the command/frame protocol, and auth flow

// Package httpapi exposes chatd over HTTP.
//
// Routes:
//
//	POST /api/login  exchange a session token for a principal token
//	GET  /healthz    liveness probe
//	GET  /api/chat   websocket chat session (?session=<token>)
//	GET  /blobs/     read-only attachment serving
//
// The websocket protocol is JSON both ways. The client sends commands
// ("open", "send", "read", "typing", "block", "unblock", "delete",
// "users"); the server pushes full-snapshot frames ("conversations",
// "messages", "typing", "users") plus per-command responses ("ready",
// "opened", "sent", "error"). Snapshots always replace the client's cached
// view wholesale, so a dropped frame is corrected by the next one.
package httpapi
