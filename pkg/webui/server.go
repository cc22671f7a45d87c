// Package webui serves coaching sessions over HTTP and pushes session views over WebSocket.
package webui

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"writingcoach/pkg/logx"
	"writingcoach/pkg/persistence"
	"writingcoach/pkg/sessions"
	"writingcoach/pkg/version"
)

const (
	bodyLimit       = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// TranscriptStore is the read side of the exchange log.
type TranscriptStore interface {
	ListExchanges(ctx context.Context, sessionID string, limit int) ([]persistence.Exchange, error)
	ListSessions(ctx context.Context) ([]persistence.SessionSummary, error)
}

// Server is the HTTP front end for the session registry.
type Server struct {
	app          *fiber.App
	registry     *sessions.Registry
	transcripts  TranscriptStore
	callTimeout  time.Duration
	allowOrigins string
	accessLog    bool
	logger       *logx.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithTranscripts enables the transcript endpoints.
func WithTranscripts(store TranscriptStore) Option {
	return func(s *Server) { s.transcripts = store }
}

// WithCallTimeout bounds each model-backed request. Zero means no bound.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Server) { s.callTimeout = d }
}

// WithAllowOrigins sets the CORS allow list, comma separated.
func WithAllowOrigins(origins string) Option {
	return func(s *Server) { s.allowOrigins = origins }
}

// WithAccessLog turns the per-request access log on or off.
func WithAccessLog(enabled bool) Option {
	return func(s *Server) { s.accessLog = enabled }
}

// New creates a server for registry with every route registered.
func New(registry *sessions.Registry, opts ...Option) *Server {
	s := &Server{
		registry:     registry,
		allowOrigins: "*",
		accessLog:    true,
		logger:       logx.NewLogger("webui"),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "writingcoach",
		BodyLimit:             bodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New())
	if s.accessLog {
		s.app.Use(logger.New())
	}
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.allowOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/healthz", s.handleHealth)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := s.app.Group("/api")
	api.Get("/logs", s.handleLogs)
	api.Get("/transcripts", s.handleTranscriptSessions)

	api.Post("/sessions", s.handleCreateSession)
	sess := api.Group("/sessions/:id")
	sess.Get("", s.handleGetSession)
	sess.Delete("", s.handleDeleteSession)
	sess.Put("/document", s.handlePutDocument)
	sess.Post("/feedback", s.handleFeedback)
	sess.Post("/issues/:issueID/select", s.handleSelectIssue)
	sess.Post("/issues/:issueID/review", s.handleReviewIssue)
	sess.Post("/messages", s.handleMessage)
	sess.Post("/stage", s.handleStage)
	sess.Post("/advance", s.handleAdvance)
	sess.Post("/back", s.handleBack)
	sess.Post("/start-over", s.handleStartOver)
	sess.Get("/transcript", s.handleTranscript)

	s.app.Get("/ws/sessions/:id", s.requireUpgrade, websocket.New(s.handleSocket))
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Start serves on addr until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Web UI listening on %s", addr)
		errCh <- s.app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down web UI")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.app.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":   "ok",
		"version":  version.Version,
		"sessions": s.registry.Count(),
	})
}

func (s *Server) handleLogs(c *fiber.Ctx) error {
	domain := c.Query("domain")

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.logger.Warn("Invalid since parameter: %s", raw)
			return fiber.NewError(fiber.StatusBadRequest, "invalid since parameter (use RFC3339)")
		}
		since = t
	}
	return c.JSON(logx.GetRecentLogEntries(domain, since))
}
