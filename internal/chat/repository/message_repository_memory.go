package repository

import (
	"context"
	"sort"
	"sync"

	"chat_fanout_service/internal/chat/domain"
	"chat_fanout_service/pkg"
)

// MemoryMessageRepository in process store for local runs and tests
type MemoryMessageRepository struct {
	mu       sync.RWMutex
	messages map[string]*domain.ChatMessage
	order    []string
}

// NewMemoryMessageRepository create MemoryMessageRepository
func NewMemoryMessageRepository() *MemoryMessageRepository {
	return &MemoryMessageRepository{messages: make(map[string]*domain.ChatMessage)}
}

// Create store a copy of the new message
func (r *MemoryMessageRepository) Create(ctx context.Context, draft domain.MessageDraft) (*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msg, err := newMessage(draft)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *msg
	r.messages[msg.ID] = &stored
	r.order = append(r.order, msg.ID)
	return msg, nil
}

// CountUnread count messages to receiver with read=false
func (r *MemoryMessageRepository) CountUnread(ctx context.Context, receiver string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, m := range r.messages {
		if m.Receiver == receiver && !m.Read {
			n++
		}
	}
	return n, nil
}

// MarkRead flip read on receiver's unread messages in ids
func (r *MemoryMessageRepository) MarkRead(ctx context.Context, receiver string, ids []string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, id := range pkg.Unique(ids) {
		m, ok := r.messages[id]
		if !ok || m.Receiver != receiver || m.Read {
			continue
		}
		m.Read = true
		n++
	}
	return n, nil
}

// FindByRoom newest first page of room
func (r *MemoryMessageRepository) FindByRoom(ctx context.Context, q domain.HistoryQuery) ([]*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.ChatMessage, 0)
	for i := len(r.order) - 1; i >= 0; i-- {
		m := r.messages[r.order[i]]
		if m.Room != q.Room {
			continue
		}
		if !q.Before.IsZero() && !m.CreatedAt.Before(q.Before) {
			continue
		}
		c := *m
		out = append(out, &c)
	}
	// 同一毫秒建立的訊息, 後寫入的排前面
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}
