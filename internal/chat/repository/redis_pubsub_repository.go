package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"chat_fanout_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrRegistryClosed join after Close
var ErrRegistryClosed = errors.New("group registry closed")

// RedisGroupRegistry registry shared by every node through redis pub/sub.
// Members stay local, a node subscribes to a group channel while it has at
// least one local member and Send publishes to every node.
type RedisGroupRegistry struct {
	client *redis.Client
	local  *LocalGroupRegistry
	prefix string

	// mu 只保護 groups map, subscribe 的網路來回在 redisGroup.mu 底下
	mu     sync.Mutex
	groups map[string]*redisGroup
	closed bool
	wg     sync.WaitGroup
}

// redisGroup subscription of one group on this node
type redisGroup struct {
	mu   sync.Mutex
	sub  *redis.PubSub
	dead bool
}

// NewRedisGroupRegistry create RedisGroupRegistry, channel name is prefix + group
func NewRedisGroupRegistry(client *redis.Client, prefix string) *RedisGroupRegistry {
	return &RedisGroupRegistry{
		client: client,
		local:  NewLocalGroupRegistry(),
		prefix: prefix,
		groups: make(map[string]*redisGroup),
	}
}

func (r *RedisGroupRegistry) channel(group string) string {
	return r.prefix + group
}

// lockGroup return the live entry of group with its lock held
func (r *RedisGroupRegistry) lockGroup(group string) (*redisGroup, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRegistryClosed
		}
		g, ok := r.groups[group]
		if !ok {
			g = &redisGroup{}
			r.groups[group] = g
		}
		r.mu.Unlock()

		g.mu.Lock()
		if !g.dead {
			return g, nil
		}
		// 剛被最後一個 Leave 移除, 重新取
		g.mu.Unlock()
	}
}

// retire drop g from the map, caller holds g.mu
func (r *RedisGroupRegistry) retire(group string, g *redisGroup) {
	g.dead = true
	r.mu.Lock()
	if r.groups[group] == g {
		delete(r.groups, group)
	}
	r.mu.Unlock()
}

// Join add local member, first member of a group subscribes its channel
func (r *RedisGroupRegistry) Join(ctx context.Context, group string, m Member) error {
	g, err := r.lockGroup(group)
	if err != nil {
		return err
	}
	defer g.mu.Unlock()

	if !r.local.join(group, m) {
		return nil
	}

	sub := r.client.Subscribe(ctx, r.channel(group))
	// 等待 subscribe 確認, 確保之後的 publish 一定收得到
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		r.local.leave(group, m)
		r.retire(group, g)
		return fmt.Errorf("subscribe %s: %w", r.channel(group), err)
	}
	g.sub = sub

	r.wg.Add(1)
	go r.consume(group, g, sub)
	return nil
}

// Leave remove local member, last member of a group closes the subscription
func (r *RedisGroupRegistry) Leave(_ context.Context, group string, m Member) error {
	r.mu.Lock()
	g, ok := r.groups[group]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dead || !r.local.leave(group, m) {
		return nil
	}
	sub := g.sub
	g.sub = nil
	r.retire(group, g)
	if sub == nil {
		return nil
	}
	return sub.Close()
}

// Send publish payload to the group channel
func (r *RedisGroupRegistry) Send(ctx context.Context, group string, payload []byte) error {
	return r.client.Publish(ctx, r.channel(group), payload).Err()
}

// Size number of members of group on this node
func (r *RedisGroupRegistry) Size(group string) int {
	return r.local.Size(group)
}

// Close drop every subscription and wait consumers
func (r *RedisGroupRegistry) Close() error {
	r.mu.Lock()
	r.closed = true
	groups := make([]*redisGroup, 0, len(r.groups))
	for name, g := range r.groups {
		groups = append(groups, g)
		delete(r.groups, name)
	}
	r.mu.Unlock()

	for _, g := range groups {
		g.mu.Lock()
		if g.sub != nil {
			_ = g.sub.Close()
			g.sub = nil
		}
		g.dead = true
		g.mu.Unlock()
	}
	r.wg.Wait()
	return nil
}

func (r *RedisGroupRegistry) consume(group string, g *redisGroup, sub *redis.PubSub) {
	defer r.wg.Done()
	for msg := range sub.Channel() {
		g.mu.Lock()
		// 已被 Leave 換掉的 subscription 不再投遞
		if g.sub != sub {
			g.mu.Unlock()
			continue
		}
		n := r.local.deliver(group, []byte(msg.Payload))
		g.mu.Unlock()
		logger.Log.Debug("group message", zap.String("group", group), zap.Int("delivered", n))
	}
	logger.Log.Debug(fmt.Sprintf("%s , sub close", r.channel(group)))
}
