package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"chat_fanout_service/internal/chat/app"
	"chat_fanout_service/internal/chat/domain"
	"chat_fanout_service/internal/chat/repository"
	"chat_fanout_service/pkg/logger"
	"chat_fanout_service/pkg/middlewares"
	"chat_fanout_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	gws "github.com/gorilla/websocket"
)

const testSecret = "router-test-secret"

// testServer fiber app on a random port with memory store and local registry
type testServer struct {
	addr     string
	fiber    *fiber.App
	handler  *app.ChatWebsocketHandler
	uc       *app.MessageUseCase
	store    *repository.MemoryMessageRepository
	registry *repository.LocalGroupRegistry
}

func init() {
	logger.SetNewNop()
}

func newTestServer(requireAuth bool) (*testServer, error) {
	token.SetSecret(testSecret)

	store := repository.NewMemoryMessageRepository()
	registry := repository.NewLocalGroupRegistry()
	uc := app.NewMessageUseCase(store, app.NewDispatcher(registry, store, time.Second), nil, 50)
	handler := app.NewChatWebsocketHandler(uc, registry, app.SessionConfig{StoreTimeout: time.Second})

	r := fiber.New(fiber.Config{DisableStartupMessage: true})
	RegisterRoutes(r, handler, app.NewMessageHandler(uc), requireAuth)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	go func() { _ = r.Listener(ln) }()

	return &testServer{
		addr:     ln.Addr().String(),
		fiber:    r,
		handler:  handler,
		uc:       uc,
		store:    store,
		registry: registry,
	}, nil
}

func (s *testServer) close() {
	s.handler.CloseAll("server shutdown")
	_ = s.fiber.ShutdownWithTimeout(time.Second)
	s.uc.Wait()
}

func tokenFor(memberID, name string) (string, error) {
	return token.GenerateJWT(memberID, name, string(token.RoleMember), "chat_service_test")
}

func (s *testServer) dial(room, tok string) (*gws.Conn, *http.Response, error) {
	u := url.URL{Scheme: "ws", Host: s.addr, Path: "/ws/chat/" + room}
	if tok != "" {
		u.RawQuery = url.Values{middlewares.QueryToken: {tok}}.Encode()
	}
	d := gws.Dialer{HandshakeTimeout: 2 * time.Second}
	return d.Dial(u.String(), nil)
}

// connect dial and wait until the server side session joined its groups
func (s *testServer) connect(room, memberID, name string) (*gws.Conn, error) {
	tok := ""
	if memberID != "" {
		var err error
		if tok, err = tokenFor(memberID, name); err != nil {
			return nil, err
		}
	}
	before := s.registry.Size(domain.RoomGroup(room))
	conn, _, err := s.dial(room, tok)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.registry.Size(domain.RoomGroup(room)) <= before {
		if time.Now().After(deadline) {
			conn.Close()
			return nil, errors.New("session never joined room")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn, nil
}

func (s *testServer) request(method, path, memberID string, body interface{}) (int, map[string]interface{}, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, "http://"+s.addr+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if memberID != "" {
		tok, err := tokenFor(memberID, memberID)
		if err != nil {
			return 0, nil, err
		}
		req.AddCookie(&http.Cookie{Name: middlewares.CookieToken, Value: tok})
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	out := map[string]interface{}{}
	switch {
	case len(raw) > 0 && raw[0] == '{':
		err = json.Unmarshal(raw, &out)
	case len(raw) > 0 && raw[0] == '[':
		var items []interface{}
		err = json.Unmarshal(raw, &items)
		out["items"] = items
	default:
		out["raw"] = string(raw)
	}
	return resp.StatusCode, out, err
}

func readFrame(conn *gws.Conn, timeout time.Duration) (map[string]interface{}, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	frame := map[string]interface{}{}
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("frame %q: %w", data, err)
	}
	return frame, nil
}

// expectSilence true when nothing arrives within timeout, conn is unusable afterwards
func expectSilence(conn *gws.Conn, timeout time.Duration) error {
	frame, err := readFrame(conn, timeout)
	if err == nil {
		return fmt.Errorf("unexpected frame %v", frame)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil
	}
	return err
}
