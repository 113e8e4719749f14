package app

import (
	"context"
	"time"

	"chat_fanout_service/internal/chat/domain"
	"chat_fanout_service/internal/chat/repository"
	errprocess "chat_fanout_service/pkg/err"
	"chat_fanout_service/pkg/logger"

	"go.uber.org/zap"
)

// MessageUseCase 負責處理聊天訊息
type MessageUseCase struct {
	msgRepo      repository.MessageRepository
	dispatcher   *Dispatcher
	publisher    repository.MessagePublisher
	historyLimit int
}

// NewMessageUseCase init message use case, nil publisher means no event stream
func NewMessageUseCase(
	msgRepo repository.MessageRepository,
	dispatcher *Dispatcher,
	publisher repository.MessagePublisher,
	historyLimit int,
) *MessageUseCase {
	if publisher == nil {
		publisher = repository.NopMessagePublisher{}
	}
	if historyLimit <= 0 {
		historyLimit = 100
	}
	return &MessageUseCase{
		msgRepo:      msgRepo,
		dispatcher:   dispatcher,
		publisher:    publisher,
		historyLimit: historyLimit,
	}
}

// Execute persist draft then fan it out. Store failure returns before any fan-out.
func (uc *MessageUseCase) Execute(ctx context.Context, draft domain.MessageDraft) (*domain.ChatMessage, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	msg, err := uc.msgRepo.Create(ctx, draft)
	if err != nil {
		return nil, errprocess.Wrap("create message", err,
			zap.String("sender", draft.Sender), zap.String("room", draft.Room))
	}

	uc.dispatcher.Go(ctx, func(ctx context.Context) {
		if err := uc.publisher.Publish(ctx, msg); err != nil {
			logger.Log.Warn("publish message event failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
	})
	uc.dispatcher.Dispatch(ctx, msg)
	return msg, nil
}

// MarkRead mark receiver's messages as read and push the new unread count
func (uc *MessageUseCase) MarkRead(ctx context.Context, receiver string, ids []string) (int64, error) {
	if receiver == "" {
		return 0, domain.ErrUnauthenticated
	}
	n, err := uc.msgRepo.MarkRead(ctx, receiver, ids)
	if err != nil {
		return 0, errprocess.Wrap("mark read", err, zap.String("receiver", receiver))
	}
	if n > 0 {
		uc.dispatcher.Go(ctx, func(ctx context.Context) {
			if err := uc.dispatcher.NotifyUnread(ctx, receiver); err != nil {
				logger.Log.Warn("notify unread failed", zap.String("receiver", receiver), zap.Error(err))
			}
		})
	}
	return n, nil
}

// UnreadCount unread messages addressed to receiver
func (uc *MessageUseCase) UnreadCount(ctx context.Context, receiver string) (int64, error) {
	if receiver == "" {
		return 0, domain.ErrUnauthenticated
	}
	n, err := uc.msgRepo.CountUnread(ctx, receiver)
	if err != nil {
		return 0, errprocess.Wrap("count unread", err, zap.String("receiver", receiver))
	}
	return n, nil
}

// History newest first page of room, limit is capped at historyLimit
func (uc *MessageUseCase) History(ctx context.Context, roomID string, before time.Time, limit int) ([]*domain.ChatMessage, error) {
	if limit <= 0 || limit > uc.historyLimit {
		limit = uc.historyLimit
	}
	msgs, err := uc.msgRepo.FindByRoom(ctx, domain.HistoryQuery{Room: roomID, Before: before, Limit: limit})
	if err != nil {
		return nil, errprocess.Wrap("find room history", err, zap.String("room", roomID))
	}
	return msgs, nil
}

// Wait block until background fan-out and publish finish
func (uc *MessageUseCase) Wait() {
	uc.dispatcher.Wait()
}
