package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"quizsolver/internal/config"
	"quizsolver/internal/monitoring"
	"quizsolver/internal/solver"
	"quizsolver/internal/storage"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	config     *config.Config
	router     http.Handler
	httpServer *http.Server
	solver     *solver.Solver
	pgStore    *storage.PostgresStore
	redisStore *storage.RedisStore
	logBuffer  *monitoring.LogBuffer
	logger     *zap.Logger
}

func NewServer(cfg *config.Config, sv *solver.Solver, ps *storage.PostgresStore, rs *storage.RedisStore, lb *monitoring.LogBuffer, l *zap.Logger) *Server {
	s := &Server{
		config:     cfg,
		solver:     sv,
		pgStore:    ps,
		redisStore: rs,
		logBuffer:  lb,
		logger:     l,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) Start() error {
	// A synchronous solve occupies the connection for the whole attempt
	// budget, so the write timeout must sit above it.
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", s.config.ServerPort),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.config.AttemptBudget() + 30*time.Second,
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
