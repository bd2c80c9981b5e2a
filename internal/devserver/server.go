// Package devserver is a small backend speaking the chat REST and socket
// contract, for local development and end-to-end tests.
package devserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Options struct {
	JWTSecret string
	Repo      MessageRepository // nil = in-memory
	Logger    *slog.Logger
}

type Server struct {
	engine *gin.Engine
	hub    *Hub
	logger *slog.Logger
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	repo := opts.Repo
	if repo == nil {
		repo = NewMemoryMessageRepository()
	}

	hub := NewHub(repo, logger)
	handler := NewChatHandler(repo, hub)

	r := gin.New()
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "clients": hub.ClientCount()})
	})

	authed := r.Group("", AuthMiddleware(opts.JWTSecret))
	authed.GET("/ws", handler.WSHandler)
	handler.RegisterRoutes(authed.Group("/chat"))

	return &Server{engine: r, hub: hub, logger: logger}
}

// Handler exposes the router, e.g. for httptest
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Hub returns the connection registry
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves on addr until ctx is cancelled, then closes every socket and
// shuts the HTTP server down.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dev_server_listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("dev_server_stopping")
	s.hub.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Close disconnects every socket client
func (s *Server) Close() {
	s.hub.Shutdown()
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http_request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
