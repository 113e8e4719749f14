package router

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/cucumber/godog"
	gws "github.com/gorilla/websocket"
)

// chatFeature state of one scenario
type chatFeature struct {
	server  *testServer
	clients map[string]*gws.Conn
}

func (f *chatFeature) reset() {
	for _, c := range f.clients {
		_ = c.Close()
	}
	if f.server != nil {
		f.server.close()
	}
	f.server = nil
	f.clients = map[string]*gws.Conn{}
}

func (f *chatFeature) startServer(requireAuth bool) error {
	s, err := newTestServer(requireAuth)
	if err != nil {
		return err
	}
	f.server = s
	return nil
}

func (f *chatFeature) aServerThatRequiresAuth() error { return f.startServer(true) }

func (f *chatFeature) aServerThatAllowsAnonymous() error { return f.startServer(false) }

func (f *chatFeature) memberConnected(name, room string) error {
	conn, err := f.server.connect(room, "u-"+name, name)
	if err != nil {
		return err
	}
	f.clients[name] = conn
	return nil
}

func (f *chatFeature) anonymousConnected(name, room string) error {
	conn, err := f.server.connect(room, "", "")
	if err != nil {
		return err
	}
	f.clients[name] = conn
	return nil
}

func (f *chatFeature) client(name string) (*gws.Conn, error) {
	c, ok := f.clients[name]
	if !ok {
		return nil, fmt.Errorf("%q is not connected", name)
	}
	return c, nil
}

func (f *chatFeature) send(name string, frame map[string]string) error {
	c, err := f.client(name)
	if err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return c.WriteMessage(gws.TextMessage, data)
}

func (f *chatFeature) sendsMessage(name, body string) error {
	return f.send(name, map[string]string{"message": body})
}

func (f *chatFeature) sendsDirect(name, body, receiver string) error {
	return f.send(name, map[string]string{"message": body, "receiver": "u-" + receiver})
}

func (f *chatFeature) receivesMessage(name, sender, body string) error {
	c, err := f.client(name)
	if err != nil {
		return err
	}
	frame, err := readFrame(c, frameWait)
	if err != nil {
		return err
	}
	if frame["type"] != "chat_message" || frame["sender"] != sender || frame["message"] != body {
		return fmt.Errorf("%s got %v, want %q from %q", name, frame, body, sender)
	}
	return nil
}

func (f *chatFeature) receivesNotification(name string, count int) error {
	c, err := f.client(name)
	if err != nil {
		return err
	}
	frame, err := readFrame(c, frameWait)
	if err != nil {
		return err
	}
	got, _ := frame["unread_count"].(float64)
	if frame["type"] != "notification" || int(got) != count {
		return fmt.Errorf("%s got %v, want unread_count %d", name, frame, count)
	}
	return nil
}

func (f *chatFeature) receivesNothing(name string) error {
	c, err := f.client(name)
	if err != nil {
		return err
	}
	return expectSilence(c, 150*time.Millisecond)
}

func (f *chatFeature) roomHasMessages(room string, n int) error {
	msgs, err := f.server.uc.History(context.Background(), room, time.Time{}, 0)
	if err != nil {
		return err
	}
	if len(msgs) != n {
		return fmt.Errorf("room %s has %d messages, want %d", room, len(msgs), n)
	}
	return nil
}

func InitializeChatFanoutScenario(ctx *godog.ScenarioContext) {
	f := &chatFeature{clients: map[string]*gws.Conn{}}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		f.reset()
		return ctx, nil
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		f.reset()
		return ctx, nil
	})

	ctx.Step(`^a chat server that requires auth$`, f.aServerThatRequiresAuth)
	ctx.Step(`^a chat server that allows anonymous clients$`, f.aServerThatAllowsAnonymous)
	ctx.Step(`^"([^"]*)" 已連線到聊天室 "([^"]*)"$`, f.memberConnected)
	ctx.Step(`^匿名 "([^"]*)" 已連線到聊天室 "([^"]*)"$`, f.anonymousConnected)
	ctx.Step(`^"([^"]*)" 發送訊息 "([^"]*)"$`, f.sendsMessage)
	ctx.Step(`^"([^"]*)" 發送私訊 "([^"]*)" 給 "([^"]*)"$`, f.sendsDirect)
	ctx.Step(`^"([^"]*)" 應該收到 "([^"]*)" 的訊息 "([^"]*)"$`, f.receivesMessage)
	ctx.Step(`^"([^"]*)" 應該收到未讀通知 (\d+)$`, f.receivesNotification)
	ctx.Step(`^"([^"]*)" 不會收到任何訊息$`, f.receivesNothing)
	ctx.Step(`^聊天室 "([^"]*)" 共有 (\d+) 則訊息$`, f.roomHasMessages)
}

func TestChatFanoutFeatures(t *testing.T) {
	if testing.Short() {
		t.Skip("skip bdd in short mode")
	}
	suite := godog.TestSuite{
		Name:                "chat_fanout",
		ScenarioInitializer: InitializeChatFanoutScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features"},
			TestingT: t,
			Strict:   true,
		},
	}
	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
