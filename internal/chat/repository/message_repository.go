package repository

import (
	"context"
	"time"

	"chat_fanout_service/internal/chat/domain"
	"chat_fanout_service/pkg"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MessageRepository chat message store.
// Create assigns ID and CreatedAt, callers never set them.
type MessageRepository interface {
	Create(ctx context.Context, draft domain.MessageDraft) (*domain.ChatMessage, error)
	// CountUnread messages addressed to receiver with read=false
	CountUnread(ctx context.Context, receiver string) (int64, error)
	// MarkRead set read=true on ids addressed to receiver, return changed rows
	MarkRead(ctx context.Context, receiver string, ids []string) (int64, error)
	// FindByRoom newest first, only messages created before q.Before when set
	FindByRoom(ctx context.Context, q domain.HistoryQuery) ([]*domain.ChatMessage, error)
}

// 時間統一存成 UTC 毫秒, mongo 與 postgres 讀回來才會一致
func storeNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func newMessage(draft domain.MessageDraft) (*domain.ChatMessage, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	return draft.Build(uuid.NewString(), storeNow()), nil
}

type mongoMessageRepository struct {
	coll *mongo.Collection
}

// NewMongoMessageRepository create a MessageRepository on collection chat_messages
func NewMongoMessageRepository(db *mongo.Database) MessageRepository {
	return &mongoMessageRepository{
		coll: db.Collection(domain.ChatMessage{}.TableName()),
	}
}

// EnsureMongoIndexes create unread and history indexes
func EnsureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(domain.ChatMessage{}.TableName()).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "receiver", Value: 1}, {Key: "read", Value: 1}}},
		{Keys: bson.D{{Key: "room", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return err
}

func (r *mongoMessageRepository) Create(ctx context.Context, draft domain.MessageDraft) (*domain.ChatMessage, error) {
	msg, err := newMessage(draft)
	if err != nil {
		return nil, err
	}
	if _, err := r.coll.InsertOne(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *mongoMessageRepository) CountUnread(ctx context.Context, receiver string) (int64, error) {
	return r.coll.CountDocuments(ctx, bson.M{"receiver": receiver, "read": false})
}

func (r *mongoMessageRepository) MarkRead(ctx context.Context, receiver string, ids []string) (int64, error) {
	ids = pkg.Unique(ids)
	if len(ids) == 0 {
		return 0, nil
	}
	// 只有 read=false 的會被更新, 已讀不會被改回
	filter := bson.M{
		"_id":      bson.M{"$in": ids},
		"receiver": receiver,
		"read":     false,
	}
	res, err := r.coll.UpdateMany(ctx, filter, bson.M{"$set": bson.M{"read": true}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *mongoMessageRepository) FindByRoom(ctx context.Context, q domain.HistoryQuery) ([]*domain.ChatMessage, error) {
	filter := bson.M{"room": q.Room}
	if !q.Before.IsZero() {
		filter["created_at"] = bson.M{"$lt": q.Before}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	messages := make([]*domain.ChatMessage, 0)
	if err := cur.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}
