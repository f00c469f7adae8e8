// Package http exposes the consultation API over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/consultd/internal/intake"
	"github.com/fyrsmithlabs/consultd/internal/logging"
	"github.com/fyrsmithlabs/consultd/internal/orchestrator"
	"github.com/fyrsmithlabs/consultd/internal/session"
	"github.com/fyrsmithlabs/consultd/internal/vectorstore"
)

// Consultations is the session-scoped API served by this package.
type Consultations interface {
	StartSession(ctx context.Context, raw intake.RawPatient) (*session.Consultation, error)
	SubmitSymptoms(ctx context.Context, id string, symptoms []string) (*session.Consultation, error)
	GenerateQuestions(ctx context.Context, id string) (*session.Consultation, error)
	SubmitAnswers(ctx context.Context, id string, answers []string) (*session.Consultation, error)
	Run(ctx context.Context, id string) (*session.Consultation, error)
	Get(ctx context.Context, id string) (*session.Consultation, error)
	Close(ctx context.Context, id string) error
}

// Server provides HTTP endpoints for consultd.
type Server struct {
	echo     *echo.Echo
	api      Consultations
	sessions SessionCounter
	index    vectorstore.Index
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// Option configures optional status sources.
type Option func(*Server)

// WithSessionCounter reports live sessions on /api/v1/status.
func WithSessionCounter(c SessionCounter) Option {
	return func(s *Server) { s.sessions = c }
}

// WithIndex reports the knowledge index size on /api/v1/status.
func WithIndex(idx vectorstore.Index) Option {
	return func(s *Server) { s.index = idx }
}

// NewServer creates a new HTTP server.
func NewServer(api Consultations, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if api == nil {
		return nil, fmt.Errorf("consultation api cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestIDContext)
	e.Use(defaultMetrics().middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		api:    api,
		logger: logger,
		config: cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/sessions", s.handleStart)
	v1.GET("/sessions/:id", s.handleGet)
	v1.DELETE("/sessions/:id", s.handleClose)
	v1.POST("/sessions/:id/symptoms", s.handleSymptoms)
	v1.POST("/sessions/:id/questions", s.handleQuestions)
	v1.POST("/sessions/:id/answers", s.handleAnswers)
	v1.POST("/sessions/:id/run", s.handleRun)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	sessions, chunks := CountResources(c.Request().Context(), s.sessions, s.index)
	return c.JSON(http.StatusOK, StatusResponse{
		Status:  "ok",
		Version: s.config.Version,
		Counts:  StatusCounts{Sessions: sessions, KnowledgeChunks: chunks},
	})
}

func (s *Server) handleStart(c echo.Context) error {
	var raw intake.RawPatient
	if err := c.Bind(&raw); err != nil {
		s.logger.Warn("invalid start request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	cons, err := s.api.StartSession(c.Request().Context(), raw)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, NewSessionResponse(cons))
}

func (s *Server) handleGet(c echo.Context) error {
	cons, err := s.api.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, NewSessionResponse(cons))
}

func (s *Server) handleClose(c echo.Context) error {
	if err := s.api.Close(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSymptoms(c echo.Context) error {
	var req SymptomsRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	cons, err := s.api.SubmitSymptoms(c.Request().Context(), c.Param("id"), req.Symptoms)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, NewSessionResponse(cons))
}

func (s *Server) handleQuestions(c echo.Context) error {
	cons, err := s.api.GenerateQuestions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, NewSessionResponse(cons))
}

func (s *Server) handleAnswers(c echo.Context) error {
	var req AnswersRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	cons, err := s.api.SubmitAnswers(c.Request().Context(), c.Param("id"), req.Answers)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, NewSessionResponse(cons))
}

func (s *Server) handleRun(c echo.Context) error {
	cons, err := s.api.Run(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, NewSessionResponse(cons))
}

// fail maps domain errors to status codes. Anything unexpected is logged
// and answered with a generic 500.
func (s *Server) fail(c echo.Context, err error) error {
	if verrs, ok := intake.AsValidationErrors(err); ok {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field] = fe.Message
		}
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid patient data", Fields: fields})
	}

	switch {
	case errors.Is(err, session.ErrNotFound):
		return c.JSON(http.StatusNotFound, ErrorResponse{Error: session.ErrNotFound.Error()})
	case errors.Is(err, intake.ErrNoSymptoms):
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: intake.ErrNoSymptoms.Error()})
	case errors.Is(err, session.ErrBusy):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "session is busy"})
	case errors.Is(err, orchestrator.ErrInvalidTransition), errors.Is(err, orchestrator.ErrGateViolation):
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "operation not allowed in the current state"})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "request cancelled"})
	}

	s.logger.Error("request failed",
		zap.String("route", c.Path()),
		zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

// Handler returns the underlying handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// requestIDContext copies the request id into the request context so
// pipeline logs carry it. Client-supplied ids that do not fit the logging
// id format are left out of the context.
func requestIDContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if rid := c.Response().Header().Get(echo.HeaderXRequestID); logging.ValidID(rid) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), rid)))
		}
		return next(c)
	}
}
