// ABOUTME: HTTP surface of chatd: login, health, blob serving, websocket chat
// ABOUTME: Routes register on a standard mux using method patterns

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coachflow/chatd/internal/auth"
	"github.com/coachflow/chatd/internal/chat"
	"github.com/coachflow/chatd/internal/directory"
	"github.com/coachflow/chatd/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The session token in the query string is the access control;
		// origin checking is left to the fronting proxy.
		return true
	},
}

// Server holds the HTTP handlers and everything a chat session needs.
type Server struct {
	store       store.Store
	broadcaster *chat.Broadcaster
	bridge      chat.IdentityBridge
	uploader    chat.Uploader
	directory   *directory.Client
	dirInterval time.Duration
	blobRoot    string
	logger      *slog.Logger
}

// NewServer creates the HTTP layer. directory may be nil; the users frame
// is then empty. dirInterval > 0 makes sessions re-push the users frame on
// that interval. blobRoot may be empty to disable blob serving.
func NewServer(st store.Store, broadcaster *chat.Broadcaster, bridge chat.IdentityBridge, uploader chat.Uploader, dir *directory.Client, dirInterval time.Duration, blobRoot string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:       st,
		broadcaster: broadcaster,
		bridge:      bridge,
		uploader:    uploader,
		directory:   dir,
		dirInterval: dirInterval,
		blobRoot:    blobRoot,
		logger:      logger.With("component", "httpapi"),
	}
}

// RegisterRoutes registers all routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /api/chat", s.handleChat)

	if s.blobRoot != "" {
		mux.Handle("GET /blobs/", http.StripPrefix("/blobs/", http.FileServer(http.Dir(s.blobRoot))))
	}
}

type loginRequest struct {
	SessionToken string `json:"session_token"`
}

type loginResponse struct {
	Success     bool   `json:"success"`
	Token       string `json:"token,omitempty"`
	PrincipalID string `json:"principal_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// handleLogin exchanges an application session token for a principal token.
// The websocket session performs the same exchange itself; this endpoint
// exists for clients that want the token up front (blob fetches, directory).
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionToken == "" {
		writeJSON(w, http.StatusBadRequest, loginResponse{Error: "session_token is required"})
		return
	}

	identity, err := s.bridge.Exchange(r.Context(), req.SessionToken)
	if err != nil {
		var bridgeErr *auth.BridgeError
		if errors.As(err, &bridgeErr) {
			writeJSON(w, http.StatusUnauthorized, loginResponse{Error: bridgeErr.Code})
			return
		}
		s.logger.Error("login exchange failed", "error", err)
		writeJSON(w, http.StatusBadGateway, loginResponse{Error: "identity bridge unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success:     true,
		Token:       identity.Token,
		PrincipalID: identity.Claims.PrincipalID,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleChat upgrades to a websocket and runs one conversation-manager
// session for the connection's lifetime.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionToken := r.URL.Query().Get("session")
	if sessionToken == "" {
		http.Error(w, "session query parameter is required", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	manager := chat.NewManager(s.store, s.broadcaster, s.bridge, s.uploader, s.logger)
	sess := newSession(conn, manager, s.directory, s.dirInterval, sessionToken, s.logger)
	sess.run()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
