// Package server wires the HTTP API: routing, middleware and lifecycle.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/featherpost/publisher-go/pkg/handler"
)

// Config holds the HTTP listener settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Handlers groups the API's route handlers.
type Handlers struct {
	Schedule *handler.ScheduleHandler
	Media    *handler.MediaHandler
	Account  *handler.AccountHandler
	WS       *handler.WSHandler
	// Webhook is the dispatcher's delivery endpoint.
	Webhook http.HandlerFunc
}

// Server is the public HTTP surface.
type Server struct {
	httpServer *http.Server
	config     Config
	logger     *logrus.Logger
}

// New builds the router and server.
func New(cfg Config, h Handlers, logger *logrus.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	// WriteTimeout stays zero unless configured: the websocket endpoint
	// shares this listener and its connections are long-lived.
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/posts/schedule", h.Schedule.Schedule)
		r.Post("/posts/{publicId}/cancel", h.Schedule.Cancel)
		r.Post("/webhooks/publish", h.Webhook)
		r.Post("/media", h.Media.Upload)
		r.Delete("/media", h.Media.Delete)
		r.Post("/accounts/{accountId}/disconnect", h.Account.Disconnect)
		r.Get("/ws", h.WS.Serve)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		config: cfg,
		logger: logger,
	}
}

// Start serves until the listener closes. Blocks.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.config.Addr).Info("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// requestLogger logs each request once it finishes.
func requestLogger(logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			}).Info("request completed")
		})
	}
}
