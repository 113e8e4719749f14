package repository

import (
	"context"

	"chat_fanout_service/internal/chat/domain"
	"chat_fanout_service/pkg"

	"gorm.io/gorm"
)

type pgMessageRepository struct {
	db *gorm.DB
}

// NewPGMessageRepository create a MessageRepository on table chat_messages
func NewPGMessageRepository(db *gorm.DB) MessageRepository {
	return &pgMessageRepository{db: db}
}

// AutoMigratePG 依照 ChatMessage 建立或更新資料表與索引
func AutoMigratePG(db *gorm.DB) error {
	return db.AutoMigrate(&domain.ChatMessage{})
}

func (r *pgMessageRepository) Create(ctx context.Context, draft domain.MessageDraft) (*domain.ChatMessage, error) {
	msg, err := newMessage(draft)
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *pgMessageRepository) CountUnread(ctx context.Context, receiver string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&domain.ChatMessage{}).
		Where("receiver = ? AND read = ?", receiver, false).
		Count(&n).Error
	return n, err
}

func (r *pgMessageRepository) MarkRead(ctx context.Context, receiver string, ids []string) (int64, error) {
	ids = pkg.Unique(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&domain.ChatMessage{}).
		Where("id IN ? AND receiver = ? AND read = ?", ids, receiver, false).
		Update("read", true)
	return res.RowsAffected, res.Error
}

func (r *pgMessageRepository) FindByRoom(ctx context.Context, q domain.HistoryQuery) ([]*domain.ChatMessage, error) {
	tx := r.db.WithContext(ctx).Where("room = ?", q.Room)
	if !q.Before.IsZero() {
		tx = tx.Where("created_at < ?", q.Before)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	messages := make([]*domain.ChatMessage, 0)
	if err := tx.Order("created_at DESC").Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, nil
}
