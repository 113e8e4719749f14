package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chat_fanout_service/internal/chat/domain"
	"chat_fanout_service/internal/chat/repository"
	"chat_fanout_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// 測試 MessageUseCase.Execute: 先寫入再 fan-out
func TestMessageUseCase_Execute(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	senderID := uuid.New().String()
	draft := domain.MessageDraft{Sender: senderID, SenderName: "alice", Room: "lobby", Body: "Hello, world!"}
	stored := draft.Build(uuid.New().String(), time.Date(2025, 1, 23, 0, 30, 0, 0, time.UTC))

	mockMsgRepo := new(MockMessageRepository)
	mockRegistry := new(MockGroupRegistry)
	mockPublisher := new(MockMessagePublisher)

	mockMsgRepo.On("Create", ctx, draft).Return(stored, nil).Once()
	mockRegistry.On("Send", ctx, "chat_lobby",
		`{"type":"chat_message","message":"Hello, world!","sender":"alice","timestamp":"2025-01-23T00:30:00Z"}`).Return(nil).Once()
	mockPublisher.On("Publish", mock.Anything, stored).Return(nil).Once()

	uc := NewMessageUseCase(mockMsgRepo, NewDispatcher(mockRegistry, mockMsgRepo, time.Second), mockPublisher, 50)
	msg, err := uc.Execute(ctx, draft)
	uc.Wait()

	require.NoError(t, err)
	assert.Equal(t, stored, msg)
	mockMsgRepo.AssertExpectations(t)
	mockRegistry.AssertExpectations(t)
	mockPublisher.AssertExpectations(t)
}

// 寫入失敗不可以 fan-out
func TestMessageUseCase_ExecuteStoreFailure(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	draft := domain.MessageDraft{Sender: "u-a", Room: "lobby", Body: "lost"}

	mockMsgRepo := new(MockMessageRepository)
	mockRegistry := new(MockGroupRegistry)
	mockPublisher := new(MockMessagePublisher)
	storeErr := errors.New("store unavailable")
	mockMsgRepo.On("Create", ctx, draft).Return(nil, storeErr)

	uc := NewMessageUseCase(mockMsgRepo, NewDispatcher(mockRegistry, mockMsgRepo, time.Second), mockPublisher, 50)
	_, err := uc.Execute(ctx, draft)
	uc.Wait()

	assert.ErrorIs(t, err, storeErr)
	mockRegistry.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)
	mockPublisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestMessageUseCase_ExecuteInvalidDraft(t *testing.T) {
	logger.SetNewNop()
	mockMsgRepo := new(MockMessageRepository)
	uc := NewMessageUseCase(mockMsgRepo, NewDispatcher(new(MockGroupRegistry), mockMsgRepo, time.Second), nil, 0)

	_, err := uc.Execute(context.Background(), domain.MessageDraft{Room: "lobby", Body: "anon"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
	mockMsgRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// publish 失敗不影響訊息
func TestMessageUseCase_ExecutePublishFailureIgnored(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	draft := domain.MessageDraft{Sender: "u-a", Receiver: "u-r", Body: "psst"}
	stored := draft.Build("m-1", time.Now().UTC())

	mockMsgRepo := new(MockMessageRepository)
	mockRegistry := new(MockGroupRegistry)
	mockPublisher := new(MockMessagePublisher)
	mockMsgRepo.On("Create", ctx, draft).Return(stored, nil)
	mockMsgRepo.On("CountUnread", mock.Anything, "u-r").Return(int64(1), nil)
	mockRegistry.On("Send", mock.Anything, "user_u-r", `{"type":"notification","unread_count":1}`).Return(nil)
	mockPublisher.On("Publish", mock.Anything, stored).Return(errors.New("broker down"))

	uc := NewMessageUseCase(mockMsgRepo, NewDispatcher(mockRegistry, mockMsgRepo, time.Second), mockPublisher, 50)
	msg, err := uc.Execute(ctx, draft)
	uc.Wait()

	require.NoError(t, err)
	assert.Equal(t, "m-1", msg.ID)
	mockRegistry.AssertExpectations(t)
	mockPublisher.AssertExpectations(t)
}

// 測試 MarkRead
func TestMessageUseCase_MarkRead(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	ids := []string{"m-1", "m-2"}

	mockMsgRepo := new(MockMessageRepository)
	mockRegistry := new(MockGroupRegistry)
	mockMsgRepo.On("MarkRead", ctx, "u-r", ids).Return(int64(2), nil)
	mockMsgRepo.On("CountUnread", mock.Anything, "u-r").Return(int64(0), nil)
	mockRegistry.On("Send", mock.Anything, "user_u-r", `{"type":"notification","unread_count":0}`).Return(nil).Once()

	uc := NewMessageUseCase(mockMsgRepo, NewDispatcher(mockRegistry, mockMsgRepo, time.Second), nil, 50)
	n, err := uc.MarkRead(ctx, "u-r", ids)
	uc.Wait()

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	mockMsgRepo.AssertExpectations(t)
	mockRegistry.AssertExpectations(t)
}

func TestMessageUseCase_MarkReadNothingChanged(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	mockMsgRepo := new(MockMessageRepository)
	mockRegistry := new(MockGroupRegistry)
	mockMsgRepo.On("MarkRead", ctx, "u-r", []string{"m-1"}).Return(int64(0), nil)

	uc := NewMessageUseCase(mockMsgRepo, NewDispatcher(mockRegistry, mockMsgRepo, time.Second), nil, 50)
	n, err := uc.MarkRead(ctx, "u-r", []string{"m-1"})
	uc.Wait()

	require.NoError(t, err)
	assert.Zero(t, n)
	mockRegistry.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything)

	_, err = uc.MarkRead(ctx, "", []string{"m-1"})
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestMessageUseCase_UnreadCount(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	mockMsgRepo := new(MockMessageRepository)
	mockMsgRepo.On("CountUnread", ctx, "u-r").Return(int64(4), nil)

	uc := NewMessageUseCase(mockMsgRepo, NewDispatcher(new(MockGroupRegistry), mockMsgRepo, time.Second), nil, 50)
	n, err := uc.UnreadCount(ctx, "u-r")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	_, err = uc.UnreadCount(ctx, "")
	assert.ErrorIs(t, err, domain.ErrUnauthenticated)
}

func TestMessageUseCase_HistoryLimit(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	before := time.Date(2025, 1, 23, 0, 0, 0, 0, time.UTC)
	mockMsgRepo := new(MockMessageRepository)
	mockMsgRepo.On("FindByRoom", ctx, domain.HistoryQuery{Room: "lobby", Before: before, Limit: 20}).
		Return([]*domain.ChatMessage{{ID: "m-1"}}, nil).Once()
	mockMsgRepo.On("FindByRoom", ctx, domain.HistoryQuery{Room: "lobby", Limit: 20}).
		Return([]*domain.ChatMessage{}, nil).Twice()
	mockMsgRepo.On("FindByRoom", ctx, domain.HistoryQuery{Room: "lobby", Limit: 5}).
		Return([]*domain.ChatMessage{}, nil).Once()

	uc := NewMessageUseCase(mockMsgRepo, NewDispatcher(new(MockGroupRegistry), mockMsgRepo, time.Second), nil, 20)

	msgs, err := uc.History(ctx, "lobby", before, 500)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	_, err = uc.History(ctx, "lobby", time.Time{}, 0)
	require.NoError(t, err)
	_, err = uc.History(ctx, "lobby", time.Time{}, -3)
	require.NoError(t, err)
	_, err = uc.History(ctx, "lobby", time.Time{}, 5)
	require.NoError(t, err)

	mockMsgRepo.AssertExpectations(t)
}

// 真實 memory store: 每一則有效訊息只寫入一次, read=false
func TestMessageUseCase_ConcurrentSendersPersistExactlyOnce(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	store := repository.NewMemoryMessageRepository()
	reg := repository.NewLocalGroupRegistry()
	listener := &fakeMember{id: "listener"}
	require.NoError(t, reg.Join(ctx, domain.RoomGroup("lobby"), listener))

	uc := NewMessageUseCase(store, NewDispatcher(reg, store, time.Second), nil, 1000)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := uc.Execute(ctx, domain.MessageDraft{Sender: "u-a", Room: "lobby", Body: "x"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	uc.Wait()

	msgs, err := store.FindByRoom(ctx, domain.HistoryQuery{Room: "lobby"})
	require.NoError(t, err)
	assert.Len(t, msgs, 20)
	for _, m := range msgs {
		assert.False(t, m.Read)
		assert.Equal(t, "u-a", m.Sender)
	}
	assert.Len(t, listener.received(), 20)
}
