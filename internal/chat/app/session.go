package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chat_fanout_service/internal/chat/domain"
	"chat_fanout_service/internal/chat/repository"
	"chat_fanout_service/pkg/logger"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionState lifecycle of a Session, Closed is terminal
type SessionState int32

const (
	// StateConnecting created, not yet joined to any group
	StateConnecting SessionState = iota
	// StateOpen joined, frames flow both ways
	StateOpen
	// StateClosed left every group, conn closed
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("SessionState(%d)", int32(s))
}

// ErrSendBufferFull outbound frame dropped for a slow peer
var ErrSendBufferFull = errors.New("send buffer full")

// WSConn websocket methods a Session uses, *websocket.Conn satisfies it
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPingHandler(h func(appData string) error)
	SetPongHandler(h func(appData string) error)
	Close() error
}

// SessionConfig tuning shared by every Session
type SessionConfig struct {
	SendBuffer   int
	PingInterval time.Duration
	StoreTimeout time.Duration
	WriteWait    time.Duration
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	return c
}

// Session one websocket connection bound to one room.
// Only the write pump writes data frames, Deliver never blocks.
type Session struct {
	id       string
	room     string
	identity domain.Identity
	conn     WSConn
	registry repository.GroupRegistry
	messages *MessageUseCase
	cfg      SessionConfig
	log      *logger.LogInfo

	state  atomic.Int32
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	pumpDone  chan struct{}
	// inbound 依序處理, 同一個 session 不會重疊
	inbound sync.Mutex
}

// NewSession create a Session in Connecting state
func NewSession(
	conn WSConn,
	room string,
	identity domain.Identity,
	registry repository.GroupRegistry,
	messages *MessageUseCase,
	cfg SessionConfig,
) *Session {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	return &Session{
		id:       id,
		room:     room,
		identity: identity,
		conn:     conn,
		registry: registry,
		messages: messages,
		cfg:      cfg,
		log:      logger.Log.With(zap.String("session", id), zap.String("room", room), zap.String("member", identity.ID)),
		send:     make(chan []byte, cfg.SendBuffer),
		ctx:      ctx,
		cancel:   cancel,
		pumpDone: make(chan struct{}),
	}
}

// ID session id, also the member key in every group
func (s *Session) ID() string { return s.id }

// Room bound room id
func (s *Session) Room() string { return s.room }

// Identity bound identity, zero value when anonymous
func (s *Session) Identity() domain.Identity { return s.identity }

// State current lifecycle state
func (s *Session) State() SessionState { return SessionState(s.state.Load()) }

// Done closed once the session is closed
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

func (s *Session) groups() []string {
	groups := []string{domain.RoomGroup(s.room)}
	if s.identity.Authenticated() {
		groups = append(groups, domain.UserGroup(s.identity.ID))
	}
	return groups
}

// Open join the room group, and the user channel when authenticated.
// A failed join closes the session.
func (s *Session) Open(ctx context.Context) error {
	if s.room == "" {
		return errors.New("room id is empty")
	}
	if !s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen)) {
		return domain.ErrSessionNotOpen
	}

	s.conn.SetPingHandler(func(appData string) error {
		s.log.Debug("received ping")
		return s.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(s.cfg.WriteWait))
	})
	s.conn.SetPongHandler(func(appData string) error {
		s.log.Debug("received pong")
		return nil
	})
	go s.writePump()

	for _, group := range s.groups() {
		if err := s.registry.Join(ctx, group, s); err != nil {
			s.Close("join failed")
			return fmt.Errorf("join %s: %w", group, err)
		}
	}
	// 加入期間被 Close, 補做 leave
	if s.State() != StateOpen {
		s.leave(s.groups())
		return domain.ErrSessionNotOpen
	}

	s.log.Info("websocket session open")
	return nil
}

// Run read frames until the peer goes away. Close has finished on every return path.
func (s *Session) Run(ctx context.Context) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				s.Close("client disconnect")
			} else {
				s.log.Debug("websocket read error", zap.Error(err))
				s.Close("transport error")
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		if err := s.HandleInbound(ctx, data); err != nil && errors.Is(err, domain.ErrSessionNotOpen) {
			// 另一個 goroutine 正在 Close, 等它做完才能把 conn 還回去
			s.Close("session closed")
			return
		}
	}
}

// HandleInbound decode one text frame, persist it and fan it out.
// Malformed frames and anonymous senders are dropped without any frame back.
// A store failure sends an error event to this session only.
func (s *Session) HandleInbound(ctx context.Context, frame []byte) error {
	s.inbound.Lock()
	defer s.inbound.Unlock()

	if s.State() != StateOpen {
		return domain.ErrSessionNotOpen
	}

	in, err := domain.DecodeInboundFrame(frame)
	if err != nil {
		s.log.Debug("drop malformed frame", zap.Int("size", len(frame)))
		return err
	}
	if !s.identity.Authenticated() {
		s.log.Warn("drop frame from anonymous sender")
		return domain.ErrUnauthenticated
	}

	draft := domain.MessageDraft{
		Sender:     s.identity.ID,
		SenderName: s.identity.DisplayName(),
		Body:       in.Body(),
	}
	if in.Receiver != "" {
		draft.Receiver = in.Receiver
	} else {
		draft.Room = s.room
	}

	// close 不會中斷已開始的寫入
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()

	if _, err := s.messages.Execute(storeCtx, draft); err != nil {
		s.log.Error("message not saved", zap.Error(err))
		if payload, mErr := json.Marshal(domain.NewErrorEvent("message not saved")); mErr == nil {
			_ = s.HandleOutbound(payload)
		}
		return err
	}
	return nil
}

// HandleOutbound queue payload for the write pump as is
func (s *Session) HandleOutbound(payload []byte) error {
	if s.State() != StateOpen {
		return domain.ErrSessionNotOpen
	}
	select {
	case <-s.ctx.Done():
		return domain.ErrSessionNotOpen
	case s.send <- payload:
		return nil
	default:
		s.log.Warn("drop outbound frame, send buffer full", zap.Int("buffer", s.cfg.SendBuffer))
		return ErrSendBufferFull
	}
}

// Deliver repository.Member, false when the frame was not queued
func (s *Session) Deliver(payload []byte) bool {
	return s.HandleOutbound(payload) == nil
}

// Close leave every group and close the conn. Safe to call many times from any goroutine.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		prev := SessionState(s.state.Swap(int32(StateClosed)))
		s.cancel()

		if prev == StateOpen {
			s.leave(s.groups())
			<-s.pumpDone
		}

		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(time.Second),
		)
		_ = s.conn.Close()
		s.log.Info("websocket session closed", zap.String("reason", reason))
	})
}

func (s *Session) leave(groups []string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.StoreTimeout)
	defer cancel()
	for _, group := range groups {
		if err := s.registry.Leave(ctx, group, s); err != nil {
			s.log.Warn("leave group failed", zap.String("group", group), zap.Error(err))
		}
	}
}

// writePump 唯一寫 data frame 的 goroutine, 並定期發送 ping
func (s *Session) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		close(s.pumpDone)
	}()

	for {
		select {
		case <-s.ctx.Done():
			return
		case payload := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				s.log.Debug("websocket write error", zap.Error(err))
				go s.Close("write error")
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(s.cfg.WriteWait)); err != nil {
				s.log.Debug("websocket ping error", zap.Error(err))
				go s.Close("ping error")
				return
			}
		}
	}
}
