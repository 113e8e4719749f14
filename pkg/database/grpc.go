package database

import (
	"context"
	"fmt"
	"net"
	"time"

	"chat_fanout_service/pkg/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServer grpc server only serve grpc.health.v1
type HealthServer struct {
	Server   *grpc.Server
	Health   *health.Server
	listener net.Listener
}

// NewHealthServer listen addr and register health service, status start at SERVING
func NewHealthServer(addr string, service string) (*HealthServer, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}

	s := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(s, h)
	h.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)

	return &HealthServer{Server: s, Health: h, listener: lis}, nil
}

// Addr actual listen address
func (h *HealthServer) Addr() string {
	return h.listener.Addr().String()
}

// Serve blocking until Stop
func (h *HealthServer) Serve() error {
	logger.Log.Info("grpc health server start", zap.String("addr", h.Addr()))
	return h.Server.Serve(h.listener)
}

// Stop mark NOT_SERVING then graceful stop
func (h *HealthServer) Stop() {
	h.Health.Shutdown()
	h.Server.GracefulStop()
}

// CreateGRPCClient create grpc client, wait READY until timeout
func CreateGRPCClient(grpcIP string, timeout time.Duration) (*grpc.ClientConn, error) {
	client, err := grpc.NewClient(grpcIP, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", grpcIP, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	client.Connect()
	for {
		state := client.GetState()
		if state == connectivity.Ready {
			logger.Log.Info("Connection is READY", zap.String("addr", grpcIP))
			return client, nil
		}
		if !client.WaitForStateChange(ctx, state) {
			_ = client.Close()
			return nil, fmt.Errorf("connection[%s] did not become READY within %s", grpcIP, timeout)
		}
	}
}

// CheckHealth ask a grpc.health.v1 server for the status of service
func CheckHealth(addr, service string, timeout time.Duration) (healthpb.HealthCheckResponse_ServingStatus, error) {
	conn, err := CreateGRPCClient(addr, timeout)
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, fmt.Errorf("health check %s: %w", addr, err)
	}
	return resp.GetStatus(), nil
}
