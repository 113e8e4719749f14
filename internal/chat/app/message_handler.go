package app

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"chat_fanout_service/internal/chat/domain"
	"chat_fanout_service/pkg/logger"
	"chat_fanout_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// MaxReadBatch 一次 mark read 最多幾個 message id
const MaxReadBatch = 500

// MessageHandler 处理訊息相关的 HTTP 请求
type MessageHandler struct {
	messageUC *MessageUseCase
}

// NewMessageHandler create MessageHandler
func NewMessageHandler(messageUC *MessageUseCase) *MessageHandler {
	return &MessageHandler{messageUC: messageUC}
}

func memberID(c *fiber.Ctx) string {
	id, _ := middlewares.MemberFromLocals(c.Locals(middlewares.TokenMemberID), nil)
	return id
}

// ConnectCheck check service start
// @Summary Check chat service status
// @Success 200 {string} string "chat service start!"
// @Router / [get]
func ConnectCheck(c *fiber.Ctx) error {
	return c.SendString("chat service start!")
}

// DebugLogFlag toggle debug log flag
// @Summary Toggle Debug Log Flag
// @Param status query bool true "Debug status"
// @Success 200 {string} string "debug mode updated"
// @Failure 400 {string} string "Invalid status value"
// @Router /debug [post]
func DebugLogFlag(c *fiber.Ctx) error {
	statusStr := c.Query("status")
	logger.Log.Info("debug", zap.String("status", statusStr))
	status, err := strconv.ParseBool(statusStr)
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	logger.Log.SetDebugMode(status)
	return c.SendString(fmt.Sprintf("debug mode is : %t", status))
}

// UnreadCount 取得未讀數量
// @Summary Unread count of the caller
// @Produce json
// @Success 200 {object} map[string]int64 "unread_count"
// @Failure 401 {object} string "Missing token"
// @Router /messages/unread [get]
func (h *MessageHandler) UnreadCount(c *fiber.Ctx) error {
	n, err := h.messageUC.UnreadCount(c.UserContext(), memberID(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"unread_count": n})
}

// MarkRead 將訊息改為已讀
// @Summary Mark messages addressed to the caller as read
// @Accept json
// @Produce json
// @Param request body object true "message_ids"
// @Success 200 {object} map[string]int64 "updated"
// @Failure 400 {object} string "invalid request or too many message_ids"
// @Router /messages/read [post]
func (h *MessageHandler) MarkRead(c *fiber.Ctx) error {
	type request struct {
		MessageIDs []string `json:"message_ids"`
	}

	var req request
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request"})
	}
	if len(req.MessageIDs) > MaxReadBatch {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "too many message_ids"})
	}

	n, err := h.messageUC.MarkRead(c.UserContext(), memberID(c), req.MessageIDs)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"updated": n})
}

// History 聊天室歷史訊息, 新的在前
// @Summary Room history page
// @Produce json
// @Param room path string true "room id"
// @Param limit query int false "page size"
// @Param before query string false "RFC3339 timestamp, only older messages"
// @Success 200 {array} domain.ChatMessage
// @Failure 400 {object} string "invalid before"
// @Router /rooms/{room}/messages [get]
func (h *MessageHandler) History(c *fiber.Ctx) error {
	var before time.Time
	if raw := c.Query("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid before"})
		}
		before = t
	}

	msgs, err := h.messageUC.History(c.UserContext(), c.Params(RoomParam), before, c.QueryInt("limit", 0))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(msgs)
}

func respondError(c *fiber.Ctx, err error) error {
	if errors.Is(err, domain.ErrUnauthenticated) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing token"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal error"})
}
