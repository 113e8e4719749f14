package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"chat_fanout_service/internal/chat/app"
	"chat_fanout_service/internal/chat/repository"
	"chat_fanout_service/internal/chat/router"
	"chat_fanout_service/pkg/config"
	"chat_fanout_service/pkg/database"
	"chat_fanout_service/pkg/logger"
	testtool "chat_fanout_service/pkg/test_tool"
	"chat_fanout_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatService, config.EnvConfig.ChatServiceLogPath)
	defer logger.Log.Sync()

	cfg, err := config.LoadChatConfig(config.EnvConfig.ChatService, config.EnvConfig.ChatServiceYAMLPath)
	if err != nil {
		logger.Log.Fatal("load config failed", zap.Error(err))
	}
	// chat_service healthcheck: container probe against the running instance
	if len(os.Args) > 1 && os.Args[1] == "healthcheck" {
		os.Exit(runHealthCheck(cfg, config.EnvConfig.ChatService, 3*time.Second))
	}
	if cfg.JWTSecret != "" {
		token.SetSecret(cfg.JWTSecret)
	}

	ctx := context.Background()
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// 1. 訊息儲存
	msgRepo, closeStore := newMessageRepository(ctx, cfg)
	closers = append(closers, closeStore)

	// 2. Group registry (memory 或 redis pub/sub)
	registry, closeRegistry := newGroupRegistry(cfg)
	closers = append(closers, closeRegistry)

	// 3. Kafka message stream, 沒設定 brokers 就不啟用
	publisher := newMessagePublisher(cfg)
	closers = append(closers, func() { _ = publisher.Close() })

	// 4. 初始化 UseCases
	dispatcher := app.NewDispatcher(registry, msgRepo, cfg.StoreTimeout)
	messageUC := app.NewMessageUseCase(msgRepo, dispatcher, publisher, cfg.HistoryLimit)
	chatWebsocket := app.NewChatWebsocketHandler(messageUC, registry, app.SessionConfig{
		SendBuffer:   cfg.SendBuffer,
		PingInterval: cfg.PingInterval,
		StoreTimeout: cfg.StoreTimeout,
	})

	// 5. gRPC health
	healthServer, err := database.NewHealthServer(":"+cfg.GRPCPort, config.EnvConfig.ChatService)
	if err != nil {
		logger.Log.Fatal("grpc health listen failed", zap.Error(err))
	}
	go func() {
		if err := healthServer.Serve(); err != nil {
			logger.Log.Error("grpc health server stopped", zap.Error(err))
		}
	}()

	pprofServer := testtool.StartPprof(cfg.Pprof)

	// 6. 啟動 Fiber
	r := fiber.New(fiber.Config{DisableStartupMessage: true})
	file, err := os.OpenFile(filepath.Join(config.EnvConfig.ChatServiceLogPath, "access.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		logger.Log.Fatal("Failed to open access log file", zap.Error(err))
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file, // 将日志输出到文件
	}))

	router.RegisterRoutes(r, chatWebsocket, app.NewMessageHandler(messageUC), cfg.RequireAuth)

	go func() {
		port := ":" + cfg.Port
		logger.Log.Info("Chat Service listening", zap.String("port", port))
		if err := r.Listen(port); err != nil {
			logger.Log.Error("fiber stopped", zap.Error(err))
		}
	}()

	// 7. graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("shutting down chat service")

	healthServer.Health.SetServingStatus(config.EnvConfig.ChatService, healthpb.HealthCheckResponse_NOT_SERVING)
	chatWebsocket.CloseAll("server shutdown")
	if err := r.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Log.Error("fiber shutdown failed", zap.Error(err))
	}
	messageUC.Wait()
	healthServer.Stop()
	if pprofServer != nil {
		_ = pprofServer.Close()
	}
}

func newMessageRepository(ctx context.Context, cfg config.Chat) (repository.MessageRepository, func()) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		uri := database.MongoURI(cfg.MongoSQL.Host, cfg.MongoSQL.Port, cfg.MongoSQL.User, cfg.MongoSQL.Password)
		mongo, err := database.NewMongoDB(ctx,
			database.Connection{
				ConnectStr:    uri,
				RetryCount:    cfg.MongoSQL.RetryCount,
				RetryInterval: time.Duration(cfg.MongoSQL.RetryInterval),
			},
			cfg.MongoSQL.Database)
		if err != nil {
			logger.Log.Fatal(
				"Unable to connect to mongoDB database after retries",
				zap.String("address", fmt.Sprintf("[%s:%d]", cfg.MongoSQL.Host, cfg.MongoSQL.Port)),
				zap.Error(err),
			)
		}
		if err := repository.EnsureMongoIndexes(ctx, mongo.Database); err != nil {
			logger.Log.Warn("create mongo indexes failed", zap.Error(err))
		}
		return repository.NewMongoMessageRepository(mongo.Database), func() { _ = mongo.Close(context.Background()) }

	case config.StorePostgres:
		dsn := database.PostgresDSN(cfg.PostgreSQL.Host, cfg.PostgreSQL.Port, cfg.PostgreSQL.User, cfg.PostgreSQL.Password, cfg.PostgreSQL.Database)
		db, err := database.NewPGConnection(database.Connection{
			ConnectStr:    dsn,
			RetryCount:    cfg.PostgreSQL.RetryCount,
			RetryInterval: time.Duration(cfg.PostgreSQL.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal(
				"Unable to connect to postgreSQL database after retries",
				zap.String("address", fmt.Sprintf("[%s:%d]", cfg.PostgreSQL.Host, cfg.PostgreSQL.Port)),
				zap.Error(err),
			)
		}
		// 自動遷移訊息資料表
		if err := repository.AutoMigratePG(db); err != nil {
			logger.Log.Fatal("資料表遷移失敗", zap.Error(err))
		}
		return repository.NewPGMessageRepository(db), func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
	}

	logger.Log.Warn("memory message store, messages are lost on restart")
	return repository.NewMemoryMessageRepository(), func() {}
}

func newGroupRegistry(cfg config.Chat) (repository.GroupRegistry, func()) {
	if cfg.RegistryDriver != config.RegistryRedis {
		return repository.NewLocalGroupRegistry(), func() {}
	}

	conn := database.RedisConnection{
		Addr:          cfg.Redis.Addr,
		DB:            cfg.Redis.RedisDB,
		RetryCount:    cfg.Redis.RetryCount,
		RetryInterval: time.Duration(cfg.Redis.RetryInterval),
	}
	if conn.Addr == "" {
		conn.MasterName, conn.SentinelAddrs = config.GetRedisSetting()
	}
	client, err := database.NewRedisClient(conn)
	if err != nil {
		logger.Log.Fatal("connect redis failed", zap.Error(err))
	}

	registry := repository.NewRedisGroupRegistry(client, "chat:group:")
	return registry, func() {
		_ = registry.Close()
		_ = client.Close()
	}
}

func newMessagePublisher(cfg config.Chat) repository.MessagePublisher {
	if len(cfg.Kafka.Brokers) == 0 {
		return repository.NopMessagePublisher{}
	}
	writer, err := database.NewKafkaWriterWithRetry(database.KafkaConnection{
		Brokers:       cfg.Kafka.Brokers,
		Topic:         cfg.Kafka.Topic,
		RetryCount:    cfg.Kafka.RetryCount,
		RetryInterval: time.Duration(cfg.Kafka.RetryInterval),
	})
	if err != nil {
		// event stream 是 best-effort, 連不上不影響聊天
		logger.Log.Error("kafka disabled", zap.Error(err))
		return repository.NopMessagePublisher{}
	}
	return repository.NewKafkaMessagePublisher(writer)
}
