package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DadaSantana/jurispolicial-v2-sub001/internal/config"
	"github.com/DadaSantana/jurispolicial-v2-sub001/pkg/logger"
)

// Server представляет HTTP сервер
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

// NewServer создает новый HTTP сервер. WriteTimeout покрывает самый долгий
// опрос подтверждения оплаты.
func NewServer(router *gin.Engine, cfg *config.Config, log *logger.Logger) *Server {
	maxPoll := time.Duration(cfg.Reconciliation.MaxPollAttempts) * cfg.Reconciliation.MaxPollInterval

	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.App.Port,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      maxPoll + 10*time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: log,
	}
}

// Start запускает HTTP сервер
func (s *Server) Start() error {
	s.log.Infow("Starting HTTP server", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown выполняет graceful shutdown сервера
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Infow("HTTP server is shutting down")
	return s.httpServer.Shutdown(ctx)
}
