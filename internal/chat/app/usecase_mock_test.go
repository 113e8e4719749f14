package app

import (
	"context"
	"sync"

	"chat_fanout_service/internal/chat/domain"
	"chat_fanout_service/internal/chat/repository"

	"github.com/stretchr/testify/mock"
)

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// Create mock create message
func (m *MockMessageRepository) Create(ctx context.Context, draft domain.MessageDraft) (*domain.ChatMessage, error) {
	args := m.Called(ctx, draft)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.ChatMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

// CountUnread mock count unread
func (m *MockMessageRepository) CountUnread(ctx context.Context, receiver string) (int64, error) {
	args := m.Called(ctx, receiver)
	return args.Get(0).(int64), args.Error(1)
}

// MarkRead mock mark read
func (m *MockMessageRepository) MarkRead(ctx context.Context, receiver string, ids []string) (int64, error) {
	args := m.Called(ctx, receiver, ids)
	return args.Get(0).(int64), args.Error(1)
}

// FindByRoom mock room history
func (m *MockMessageRepository) FindByRoom(ctx context.Context, q domain.HistoryQuery) ([]*domain.ChatMessage, error) {
	args := m.Called(ctx, q)
	if args.Get(0) != nil {
		return args.Get(0).([]*domain.ChatMessage), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockGroupRegistry Mock GroupRegistry
type MockGroupRegistry struct {
	mock.Mock
}

// Join mock join
func (m *MockGroupRegistry) Join(ctx context.Context, group string, member repository.Member) error {
	return m.Called(ctx, group, member).Error(0)
}

// Leave mock leave
func (m *MockGroupRegistry) Leave(ctx context.Context, group string, member repository.Member) error {
	return m.Called(ctx, group, member).Error(0)
}

// Send mock send, payload is passed as string for easy matching
func (m *MockGroupRegistry) Send(ctx context.Context, group string, payload []byte) error {
	return m.Called(ctx, group, string(payload)).Error(0)
}

// MockMessagePublisher Mock MessagePublisher
type MockMessagePublisher struct {
	mock.Mock
}

// Publish mock publish
func (m *MockMessagePublisher) Publish(ctx context.Context, msg *domain.ChatMessage) error {
	return m.Called(ctx, msg).Error(0)
}

// Close mock close
func (m *MockMessagePublisher) Close() error {
	return m.Called().Error(0)
}

// fakeMember records delivered payloads
type fakeMember struct {
	id string

	mu       sync.Mutex
	payloads []string
}

func (f *fakeMember) ID() string { return f.id }

func (f *fakeMember) Deliver(payload []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, string(payload))
	return true
}

func (f *fakeMember) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.payloads...)
}
