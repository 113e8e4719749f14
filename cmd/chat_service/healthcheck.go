package main

import (
	"time"

	"chat_fanout_service/pkg/config"
	"chat_fanout_service/pkg/database"
	"chat_fanout_service/pkg/logger"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// runHealthCheck `chat_service healthcheck`, exit code 0 only when the local instance is SERVING
func runHealthCheck(cfg config.Chat, service string, timeout time.Duration) int {
	addr := "127.0.0.1:" + cfg.GRPCPort
	status, err := database.CheckHealth(addr, service, timeout)
	if err != nil {
		logger.Log.Error("health check failed", zap.String("addr", addr), zap.Error(err))
		return 1
	}
	if status != healthpb.HealthCheckResponse_SERVING {
		logger.Log.Warn("service not serving", zap.String("addr", addr), zap.String("status", status.String()))
		return 1
	}
	return 0
}
