// Package http exposes the assistant over a JSON HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assistd/internal/faq"
	"github.com/fyrsmithlabs/assistd/internal/gateway"
	"github.com/fyrsmithlabs/assistd/internal/ingest"
	"github.com/fyrsmithlabs/assistd/internal/logging"
	"github.com/fyrsmithlabs/assistd/internal/prompt"
	"github.com/fyrsmithlabs/assistd/internal/rag"
	"github.com/fyrsmithlabs/assistd/internal/tenant"
	"github.com/fyrsmithlabs/assistd/internal/vectorstore"
)

// Answerer answers tenant questions.
type Answerer interface {
	Answer(ctx context.Context, req rag.Request) (*rag.Answer, error)
}

// Ingester stores tenant content.
type Ingester interface {
	Ingest(ctx context.Context, tenantID string, src ingest.Source) (ingest.Result, error)
}

// PromptSynthesizer builds tenant system instructions.
type PromptSynthesizer interface {
	SynthesizeResult(ctx context.Context, tenantID string, personas []string) prompt.Result
}

// FAQGenerator rebuilds a tenant's FAQ from its knowledge base.
type FAQGenerator interface {
	Generate(ctx context.Context, tenantID, priority string) ([]faq.Entry, error)
}

// Documents reads and purges stored documents.
type Documents interface {
	DocumentText(ctx context.Context, tenantID, documentID string) (string, error)
	DeleteDocument(ctx context.Context, tenantID, documentID string) error
	DeleteTenant(ctx context.Context, tenantID string) error
}

// Services are the operations the API routes to. FAQ may be nil, which
// disables the FAQ generation route.
type Services struct {
	Answers   Answerer
	Ingest    Ingester
	Prompts   PromptSynthesizer
	FAQ       FAQGenerator
	Documents Documents
}

// Server provides HTTP endpoints for assistd.
type Server struct {
	echo     *echo.Echo
	services Services
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(services Services, logger *zap.Logger, cfg *Config) (*Server, error) {
	if services.Answers == nil || services.Ingest == nil || services.Prompts == nil || services.Documents == nil {
		return nil, fmt.Errorf("answers, ingest, prompts and documents services are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			c.SetRequest(c.Request().WithContext(logging.WithRequestID(c.Request().Context(), requestID)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		services: services,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	t := s.echo.Group("/api/v1/tenants/:tenant", s.requireTenant)
	t.POST("/answer", s.handleAnswer)
	t.POST("/ingest", s.handleIngest)
	t.POST("/prompt", s.handlePrompt)
	t.POST("/faq/generate", s.handleGenerateFAQ)
	t.GET("/documents/:document", s.handleGetDocument)
	t.DELETE("/documents/:document", s.handleDeleteDocument)
	t.DELETE("", s.handleDeleteTenant)
}

// requireTenant rejects malformed tenant ids before any handler runs and
// scopes the request context to the tenant.
func (s *Server) requireTenant(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("tenant")
		if err := tenant.Validate(id); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant")
		}
		c.SetRequest(c.Request().WithContext(tenant.WithID(c.Request().Context(), id)))
		return next(c)
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleAnswer(c echo.Context) error {
	var req AnswerRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid answer request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ans, err := s.services.Answers.Answer(c.Request().Context(), rag.Request{
		Tenant:       c.Param("tenant"),
		Query:        req.Query,
		History:      req.History,
		SystemPrompt: req.SystemPrompt,
	})
	if err != nil {
		return s.fail(c, "answer", err)
	}
	return c.JSON(http.StatusOK, AnswerResponse{
		Answer: ans.Text,
		Source: string(ans.Source),
		Score:  ans.Score,
	})
}

func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	src, err := req.source()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := s.services.Ingest.Ingest(c.Request().Context(), c.Param("tenant"), src)
	if err != nil {
		return s.fail(c, "ingest", err)
	}
	return c.JSON(http.StatusOK, IngestResponse{Status: res.Status, Chunks: res.Chunks})
}

func (s *Server) handlePrompt(c echo.Context) error {
	var req PromptRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid prompt request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	res := s.services.Prompts.SynthesizeResult(c.Request().Context(), c.Param("tenant"), req.Personas)
	return c.JSON(http.StatusOK, PromptResponse{
		Prompt:   res.Prompt,
		Strategy: res.Strategy,
		Cached:   res.Cached,
	})
}

func (s *Server) handleGenerateFAQ(c echo.Context) error {
	if s.services.FAQ == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "faq generation is not configured")
	}
	var req GenerateFAQRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid faq request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	entries, err := s.services.FAQ.Generate(c.Request().Context(), c.Param("tenant"), req.Priority)
	if err != nil {
		return s.fail(c, "faq generate", err)
	}
	return c.JSON(http.StatusOK, GenerateFAQResponse{Entries: entries})
}

func (s *Server) handleGetDocument(c echo.Context) error {
	text, err := s.services.Documents.DocumentText(c.Request().Context(), c.Param("tenant"), c.Param("document"))
	if err != nil {
		return s.fail(c, "document", err)
	}
	if text == "" {
		return echo.NewHTTPError(http.StatusNotFound, "document not found")
	}
	return c.JSON(http.StatusOK, DocumentResponse{Text: text})
}

func (s *Server) handleDeleteDocument(c echo.Context) error {
	if err := s.services.Documents.DeleteDocument(c.Request().Context(), c.Param("tenant"), c.Param("document")); err != nil {
		return s.fail(c, "delete document", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleDeleteTenant(c echo.Context) error {
	if err := s.services.Documents.DeleteTenant(c.Request().Context(), c.Param("tenant")); err != nil {
		return s.fail(c, "delete tenant", err)
	}
	return c.NoContent(http.StatusNoContent)
}

// fail logs err in full and returns a generic error for its class. Upstream
// messages never reach the client.
func (s *Server) fail(c echo.Context, op string, err error) error {
	ctx := c.Request().Context()
	fields := append(logging.ContextFields(ctx), zap.String("op", op), zap.Error(err))

	code, msg := classify(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Warn("request rejected", fields...)
	}
	return echo.NewHTTPError(code, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, rag.ErrInvalidInput), errors.Is(err, tenant.ErrInvalidTenant):
		return http.StatusBadRequest, "invalid input"
	case errors.Is(err, ingest.ErrUnsupportedFile):
		return http.StatusBadRequest, "unsupported file type"
	case errors.Is(err, faq.ErrNoContent):
		return http.StatusUnprocessableEntity, "tenant has no ingested content"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, vectorstore.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage unavailable"
	case errors.Is(err, gateway.ErrUpstreamUnavailable), errors.Is(err, faq.ErrInvalidResponse):
		return http.StatusBadGateway, "upstream model unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// Handler returns the router, for embedding in another server or tests.
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
