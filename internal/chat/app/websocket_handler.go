package app

import (
	"context"
	"sync"

	"chat_fanout_service/internal/chat/domain"
	"chat_fanout_service/internal/chat/repository"
	"chat_fanout_service/pkg/logger"
	"chat_fanout_service/pkg/middlewares"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
)

// RoomParam route param holding the room id
const RoomParam = "room"

// ChatWebsocketHandler 管理所有 websocket session
type ChatWebsocketHandler struct {
	messageUC *MessageUseCase
	registry  repository.GroupRegistry
	cfg       SessionConfig

	mu       sync.Mutex
	sessions map[string]*Session
	closing  bool
}

// NewChatWebsocketHandler create ChatWebsocketHandler
func NewChatWebsocketHandler(
	messageUC *MessageUseCase,
	registry repository.GroupRegistry,
	cfg SessionConfig,
) *ChatWebsocketHandler {
	return &ChatWebsocketHandler{
		messageUC: messageUC,
		registry:  registry,
		cfg:       cfg,
		sessions:  make(map[string]*Session),
	}
}

// HandleConnection 是 WebSocket 連線的進入點, blocks until the session is closed
func (h *ChatWebsocketHandler) HandleConnection(ctx context.Context, conn *websocket.Conn) {
	room := conn.Params(RoomParam)
	memberID, name := middlewares.MemberFromLocals(
		conn.Locals(middlewares.TokenMemberID),
		conn.Locals(middlewares.TokenMemberName),
	)
	h.Serve(ctx, conn, room, domain.Identity{ID: memberID, Name: name})
}

// Serve run a session on any WSConn
func (h *ChatWebsocketHandler) Serve(ctx context.Context, conn WSConn, room string, identity domain.Identity) {
	s := NewSession(conn, room, identity, h.registry, h.messageUC, h.cfg)
	if !h.track(s) {
		s.Close("server shutdown")
		return
	}
	defer h.untrack(s)

	if err := s.Open(ctx); err != nil {
		logger.Log.Error("websocket open failed", zap.String("room", room), zap.Error(err))
		s.Close("open failed")
		return
	}
	s.Run(ctx)
}

func (h *ChatWebsocketHandler) track(s *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions[s.ID()] = s
	return true
}

func (h *ChatWebsocketHandler) untrack(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, s.ID())
}

// Count number of live sessions
func (h *ChatWebsocketHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// CloseAll refuse new sessions and close every live one
func (h *ChatWebsocketHandler) CloseAll(reason string) {
	h.mu.Lock()
	h.closing = true
	live := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		live = append(live, s)
	}
	h.mu.Unlock()

	for _, s := range live {
		s.Close(reason)
	}
	logger.Log.Info("websocket sessions closed", zap.Int("count", len(live)), zap.String("reason", reason))
}
