// Package grpc отдает стандартный gRPC health service, статус которого
// определяется проверками хранилищ.
package grpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

// ServiceName имя сервиса в health check
const ServiceName = "jurispolicial.billing"

// Checker проверка зависимости
type Checker func(ctx context.Context) error

// Server gRPC сервер
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	checks     map[string]Checker
	interval   time.Duration
	addr       string
	log        *logger.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewServer создает новый gRPC сервер
func NewServer(cfg config.GRPCConfig, checks map[string]Checker, log *logger.Logger) *Server {
	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     time.Minute * 5,  // Максимальное время простоя соединения
		MaxConnectionAge:      time.Hour,        // Максимальное время жизни соединения
		MaxConnectionAgeGrace: time.Minute * 5,  // Дополнительное время для завершения запросов при закрытии соединения
		Time:                  time.Minute * 2,  // Время между пингами для проверки активности
		Timeout:               time.Second * 20, // Таймаут после которого соединение закрывается если нет ответа на пинг
	}

	grpcServer := grpc.NewServer(grpc.KeepaliveParams(kaParams))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// reflection для отладки через grpcurl
	reflection.Register(grpcServer)

	interval := cfg.HealthCheckInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}

	s := &Server{
		grpcServer: grpcServer,
		health:     healthServer,
		checks:     checks,
		interval:   interval,
		addr:       fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		log:        log,
		done:       make(chan struct{}),
	}
	s.Refresh(context.Background())
	return s
}

// Refresh выполняет проверки и обновляет статус сервиса.
func (s *Server) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, check := range s.checks {
		checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := check(checkCtx)
		cancel()
		if err != nil {
			s.log.Warnw("Health check failed", "component", name, "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve обслуживает соединения на переданном listener. Блокирует до Stop.
func (s *Server) Serve(listener net.Listener) error {
	go s.watch()

	s.log.Infow("Starting gRPC server", "addr", listener.Addr().String())
	if err := s.grpcServer.Serve(listener); err != nil {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Start запускает gRPC сервер на адресе из конфигурации
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(listener)
}

// Stop переводит health в NOT_SERVING и останавливает сервер
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.log.Infow("Stopping gRPC server")
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
	})
}

func (s *Server) watch() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.Refresh(context.Background())
		}
	}
}
