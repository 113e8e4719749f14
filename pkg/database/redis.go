package database

import (
	"context"
	"fmt"
	"time"

	"chat_fanout_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// NewRedisClient 依設定建立 redis client, Addr 有值用單機, 否則走 sentinel
func NewRedisClient(conn RedisConnection) (*redis.Client, error) {
	var rdb *redis.Client
	if conn.Addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: conn.Addr, DB: conn.DB})
	} else {
		rdb = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    conn.MasterName,    // 哨兵主节点名称
			SentinelAddrs: conn.SentinelAddrs, // 哨兵地址列表
			DB:            conn.DB,            // Redis 数据库编号
		})
	}

	var err error
	for i := 0; i <= conn.RetryCount; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err = rdb.Ping(ctx).Err()
		cancel()
		if err == nil {
			return rdb, nil
		}
		if i < conn.RetryCount {
			logger.Log.Warn("redis not ready, retrying", zap.Int("attempt", i+1), zap.Error(err))
			time.Sleep(conn.RetryInterval * time.Second)
		}
	}
	_ = rdb.Close()
	return nil, fmt.Errorf("connect redis %s: %w", conn.target(), err)
}

func (c RedisConnection) target() string {
	if c.Addr != "" {
		return c.Addr
	}
	return fmt.Sprintf("sentinel %s %v", c.MasterName, c.SentinelAddrs)
}
