// ABOUTME: One websocket chat session: commands in, snapshot frames out
// ABOUTME: Owns a conversation Manager for the lifetime of the connection

package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coachflow/chatd/internal/auth"
	"github.com/coachflow/chatd/internal/chat"
	"github.com/coachflow/chatd/internal/directory"
	"github.com/coachflow/chatd/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxCommandSize = 8 << 20 // attachments travel base64-encoded in commands
	sendQueueSize  = 256
)

// command is a client-to-server frame.
type command struct {
	Type        string              `json:"type"`
	UserID      string              `json:"user_id,omitempty"`
	Text        string              `json:"text,omitempty"`
	Attachments []commandAttachment `json:"attachments,omitempty"`
	IsTyping    bool                `json:"is_typing,omitempty"`
}

type commandAttachment struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Data        string `json:"data"` // base64
}

// frame is a server-to-client message. Type selects which fields are set.
type frame struct {
	Type string `json:"type"`

	PrincipalID    string             `json:"principal_id,omitempty"`    // ready
	Conversation   *conversationDTO   `json:"conversation,omitempty"`    // opened
	Conversations  []*conversationDTO `json:"conversations,omitempty"`   // conversations
	ConversationID string             `json:"conversation_id,omitempty"` // messages, typing
	Messages       []*messageDTO      `json:"messages,omitempty"`        // messages
	Typing         map[string]bool    `json:"typing,omitzero"`           // typing; an empty map means "nobody is typing" and must still reach the client
	Users          []directory.User   `json:"users,omitempty"`           // users
	MessageID      string             `json:"message_id,omitempty"`      // sent
	Code           string             `json:"code,omitempty"`            // error
	Message        string             `json:"message,omitempty"`         // error
}

type conversationDTO struct {
	ID            string     `json:"id"`
	Participants  []string   `json:"participants"`
	LastMessage   string     `json:"last_message,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CreatedBy     string     `json:"created_by"`
}

type messageDTO struct {
	ID          string             `json:"id"`
	SenderID    string             `json:"sender_id"`
	Text        string             `json:"text,omitempty"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
	Type        string             `json:"message_type"`
	CreatedAt   time.Time          `json:"created_at"`
	ReadBy      []string           `json:"read_by"`
}

func toConversationDTO(c *store.Conversation) *conversationDTO {
	return &conversationDTO{
		ID:            c.ID,
		Participants:  c.Participants(),
		LastMessage:   c.LastMessage,
		LastMessageAt: c.LastMessageAt,
		CreatedAt:     c.CreatedAt,
		CreatedBy:     c.CreatedBy,
	}
}

func toMessageDTO(m *store.Message) *messageDTO {
	return &messageDTO{
		ID:          m.ID,
		SenderID:    m.SenderID,
		Text:        m.Text,
		Attachments: m.Attachments,
		Type:        m.Type,
		CreatedAt:   m.CreatedAt,
		ReadBy:      m.ReadBy,
	}
}

// session runs one websocket connection against one Manager.
type session struct {
	conn         *websocket.Conn
	manager      *chat.Manager
	directory    *directory.Client
	dirInterval  time.Duration
	sessionToken string
	logger       *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sendCh chan *frame
}

func newSession(conn *websocket.Conn, manager *chat.Manager, dir *directory.Client, dirInterval time.Duration, sessionToken string, logger *slog.Logger) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		conn:         conn,
		manager:      manager,
		directory:    dir,
		dirInterval:  dirInterval,
		sessionToken: sessionToken,
		logger:       logger.With("component", "chat_session"),
		ctx:          ctx,
		cancel:       cancel,
		sendCh:       make(chan *frame, sendQueueSize),
	}
}

// run authenticates, starts the pumps, and blocks until the socket drops.
func (s *session) run() {
	defer s.close()

	if err := s.manager.Init(s.ctx, s.sessionToken); err != nil {
		// The write pump isn't running yet, so the refusal can be
		// written directly before the connection is torn down.
		s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		s.conn.WriteJSON(errorFrame(err))
		return
	}

	// Everything after this point reads the session identity from the
	// context rather than going back to the manager.
	s.ctx = auth.WithAuth(s.ctx, &auth.AuthContext{PrincipalID: s.manager.PrincipalID()})

	go s.writePump(s.ctx)

	s.enqueue(&frame{Type: "ready", PrincipalID: principalFrom(s.ctx)})
	s.sendUsers()

	go s.forwardSnapshots()
	if s.directory != nil && s.dirInterval > 0 {
		go s.refreshUsersLoop()
	}
	s.readPump()
}

func (s *session) close() {
	s.cancel()
	s.manager.Close()
	s.conn.Close()
}

// enqueue queues a frame for the write pump. Frames for a client that has
// stopped reading are dropped; snapshots are self-healing and command
// responses are moot once the socket is dead.
func (s *session) enqueue(f *frame) {
	select {
	case s.sendCh <- f:
	default:
		s.logger.Warn("dropping frame for slow client",
			"principal_id", principalFrom(s.ctx),
			"type", f.Type)
	}
}

func (s *session) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *session) readPump() {
	s.conn.SetReadLimit(maxCommandSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var cmd command
		if err := s.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed unexpectedly", "error", err)
			}
			return
		}
		s.dispatch(&cmd)
	}
}

func (s *session) dispatch(cmd *command) {
	switch cmd.Type {
	case "open":
		conv, err := s.manager.StartDirectConversation(s.ctx, cmd.UserID)
		if err != nil {
			s.enqueue(errorFrame(err))
			return
		}
		s.enqueue(&frame{Type: "opened", Conversation: toConversationDTO(conv)})
	case "send":
		req, err := buildSendRequest(cmd)
		if err != nil {
			s.enqueue(&frame{Type: "error", Code: "bad_request", Message: err.Error()})
			return
		}
		msgID, err := s.manager.SendMessage(s.ctx, req)
		if err != nil {
			s.enqueue(errorFrame(err))
			return
		}
		s.enqueue(&frame{Type: "sent", MessageID: msgID})
	case "read":
		if err := s.manager.MarkConversationRead(s.ctx); err != nil {
			s.enqueue(errorFrame(err))
		}
	case "typing":
		if err := s.manager.SetTyping(s.ctx, cmd.IsTyping); err != nil {
			s.enqueue(errorFrame(err))
		}
	case "block":
		if err := s.manager.BlockUser(s.ctx, cmd.UserID); err != nil {
			s.enqueue(errorFrame(err))
		}
	case "unblock":
		if err := s.manager.UnblockUser(s.ctx, cmd.UserID); err != nil {
			s.enqueue(errorFrame(err))
		}
	case "delete":
		if err := s.manager.DeleteConversation(s.ctx); err != nil {
			s.enqueue(errorFrame(err))
		}
	case "users":
		s.sendUsers()
	default:
		s.enqueue(&frame{Type: "error", Code: "bad_request", Message: "unknown command type: " + cmd.Type})
	}
}

func buildSendRequest(cmd *command) (*chat.SendRequest, error) {
	req := &chat.SendRequest{Text: cmd.Text}
	for _, a := range cmd.Attachments {
		data, err := base64.StdEncoding.DecodeString(a.Data)
		if err != nil {
			return nil, errors.New("attachment data is not valid base64")
		}
		req.Files = append(req.Files, chat.File{
			Name:        a.Name,
			ContentType: a.ContentType,
			Reader:      bytes.NewReader(data),
		})
	}
	return req, nil
}

// forwardSnapshots turns manager snapshot deliveries into frames.
func (s *session) forwardSnapshots() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case convs := <-s.manager.Conversations():
			dtos := make([]*conversationDTO, 0, len(convs))
			for _, c := range convs {
				dtos = append(dtos, toConversationDTO(c))
			}
			s.enqueue(&frame{Type: "conversations", Conversations: dtos})
		case msgs := <-s.manager.Messages():
			dtos := make([]*messageDTO, 0, len(msgs))
			for _, m := range msgs {
				dtos = append(dtos, toMessageDTO(m))
			}
			s.enqueue(&frame{
				Type:           "messages",
				ConversationID: s.manager.ActiveConversationID(),
				Messages:       dtos,
			})
		case typing := <-s.manager.Typing():
			s.enqueue(&frame{
				Type:           "typing",
				ConversationID: s.manager.ActiveConversationID(),
				Typing:         typing,
			})
		}
	}
}

// refreshUsersLoop re-pushes the users frame on the configured interval so
// clients pick up new coach/client assignments without reconnecting.
func (s *session) refreshUsersLoop() {
	ticker := time.NewTicker(s.dirInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.sendUsers()
		}
	}
}

// sendUsers fetches the directory and pushes a users frame. Directory
// failures are non-fatal; the client just sees an empty list.
func (s *session) sendUsers() {
	if s.directory == nil {
		return
	}
	users, err := s.directory.ListUsers(s.ctx, s.sessionToken)
	if err != nil {
		s.logger.Warn("directory listing failed",
			"principal_id", principalFrom(s.ctx),
			"error", err)
		users = nil
	}
	s.enqueue(&frame{Type: "users", Users: users})
}

// principalFrom reads the session identity attached by run.
func principalFrom(ctx context.Context) string {
	if ac := auth.FromContext(ctx); ac != nil {
		return ac.PrincipalID
	}
	return ""
}

// errorFrame maps manager errors onto stable wire codes.
func errorFrame(err error) *frame {
	code := "internal"
	switch {
	case errors.Is(err, chat.ErrAuthFailed):
		code = "auth_failed"
	case errors.Is(err, chat.ErrNotReady):
		code = "not_ready"
	case errors.Is(err, chat.ErrNoActiveConversation):
		code = "no_active_conversation"
	case errors.Is(err, chat.ErrBlocked):
		code = "blocked"
	case errors.Is(err, chat.ErrPermissionDenied):
		code = "permission_denied"
	case errors.Is(err, chat.ErrSelfConversation):
		code = "self_conversation"
	case errors.Is(err, chat.ErrUpload):
		code = "upload_failed"
	case errors.Is(err, store.ErrNotFound):
		code = "not_found"
	}
	return &frame{Type: "error", Code: code, Message: err.Error()}
}
