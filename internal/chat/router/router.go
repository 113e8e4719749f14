package router

import (
	"context"

	"chat_fanout_service/internal/chat/app"
	"chat_fanout_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes 注册 chat 相关的路由. requireAuth=false 時匿名也能連線, 但只能收不能發
func RegisterRoutes(r *fiber.App, chatWebsocket *app.ChatWebsocketHandler, messageHandler *app.MessageHandler, requireAuth bool) {
	r.Get("/", app.ConnectCheck)
	r.Post("/debug", app.DebugLogFlag)

	ws := r.Group("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}, middlewares.JWTMiddleware(requireAuth))

	ws.Get("/chat/:"+app.RoomParam, websocket.New(func(c *websocket.Conn) {
		chatWebsocket.HandleConnection(context.Background(), c)
	}))

	auth := middlewares.JWTMiddleware(true)
	r.Get("/messages/unread", auth, messageHandler.UnreadCount)
	r.Post("/messages/read", auth, messageHandler.MarkRead)
	r.Get("/rooms/:"+app.RoomParam+"/messages", auth, messageHandler.History)
}
