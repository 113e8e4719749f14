package app

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"chat_fanout_service/internal/chat/domain"
	"chat_fanout_service/internal/chat/repository"
	"chat_fanout_service/pkg/logger"

	"go.uber.org/zap"
)

// UnreadCounter part of the store the dispatcher reads
type UnreadCounter interface {
	CountUnread(ctx context.Context, receiver string) (int64, error)
}

// Dispatcher fan-out of persisted messages, best-effort.
// Sessions not joined at send time never see the event and nothing is retried.
type Dispatcher struct {
	registry repository.GroupRegistry
	counter  UnreadCounter
	timeout  time.Duration

	wg sync.WaitGroup
}

// NewDispatcher create Dispatcher, timeout bound every background store/registry call
func NewDispatcher(registry repository.GroupRegistry, counter UnreadCounter, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		counter:  counter,
		timeout:  timeout,
	}
}

// Broadcast send event to every session joined to room
func (d *Dispatcher) Broadcast(ctx context.Context, roomID string, event domain.BroadcastEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return d.registry.Send(ctx, domain.RoomGroup(roomID), payload)
}

// NotifyUnread count receiver unread then send the count to the receiver channel.
// 先讀再送, 不保證與同時建立的訊息一致
func (d *Dispatcher) NotifyUnread(ctx context.Context, receiver string) error {
	n, err := d.counter.CountUnread(ctx, receiver)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(domain.NewNotificationEvent(n))
	if err != nil {
		return err
	}
	return d.registry.Send(ctx, domain.UserGroup(receiver), payload)
}

// Dispatch route msg to its room and to its receiver channel.
// Notification runs in its own goroutine and is not ordered against the broadcast.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *domain.ChatMessage) {
	if msg.IsDirect() {
		d.Go(ctx, func(ctx context.Context) {
			if err := d.NotifyUnread(ctx, msg.Receiver); err != nil {
				logger.Log.Warn("notify unread failed", zap.String("receiver", msg.Receiver), zap.Error(err))
			}
		})
	}

	if msg.Room != "" {
		if err := d.Broadcast(ctx, msg.Room, domain.NewBroadcastEvent(msg)); err != nil {
			logger.Log.Warn("broadcast failed", zap.String("room", msg.Room), zap.String("message_id", msg.ID), zap.Error(err))
		}
	}
}

// Go run fn in background, detached from ctx cancel but bounded by timeout
func (d *Dispatcher) Go(ctx context.Context, fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		fn(bg)
	}()
}

// Wait block until background sends finish
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
