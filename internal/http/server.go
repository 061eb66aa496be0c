// Package http provides the voicenote HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/voicenote/internal/faults"
	"github.com/fyrsmithlabs/voicenote/internal/logging"
	"github.com/fyrsmithlabs/voicenote/internal/note"
	"github.com/fyrsmithlabs/voicenote/internal/pipeline"
	"github.com/fyrsmithlabs/voicenote/internal/store"
	"github.com/fyrsmithlabs/voicenote/internal/validation"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Processor runs a submission through the pipeline.
type Processor interface {
	Process(ctx context.Context, in validation.Input) (*pipeline.Response, error)
}

// Reader serves the secondary read and update operations.
type Reader interface {
	Records(ctx context.Context) ([]note.Record, error)
	Record(ctx context.Context, id string) (*note.Record, error)
	Moods(ctx context.Context) ([]note.MoodEntry, error)
	Inspirations(ctx context.Context, f store.Filter) ([]note.InspirationEntry, error)
	Todos(ctx context.Context, f store.Filter) ([]note.TodoEntry, error)
	UpdateTodoStatus(ctx context.Context, id string, status note.TodoStatus) (*note.TodoEntry, error)
}

// Config holds API settings.
type Config struct {
	Service      string
	Version      string
	MaxAudioSize int64 // bytes
	BodyLimit    int64 // bytes; 0 disables the limit
}

// API mounts the voicenote endpoints onto an Echo instance.
type API struct {
	processor Processor
	reader    Reader
	config    Config
	metrics   *HTTPMetrics
	logger    *logging.Logger
	clock     func() time.Time
}

// NewAPI creates the API. meter may be nil to use the global provider.
func NewAPI(processor Processor, reader Reader, cfg Config, meter metric.Meter, logger *logging.Logger) (*API, error) {
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if reader == nil {
		return nil, errors.New("reader cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg.MaxAudioSize <= 0 {
		return nil, fmt.Errorf("invalid max audio size: %d", cfg.MaxAudioSize)
	}

	return &API{
		processor: processor,
		reader:    reader,
		config:    cfg,
		metrics:   NewHTTPMetrics(meter, logger),
		logger:    logger.Named("http"),
		clock:     time.Now,
	}, nil
}

// Register installs middleware, the error handler and the API routes.
// Middleware added here runs after anything e already uses, so the host
// should install Recover first.
func (a *API) Register(e *echo.Echo) {
	e.HTTPErrorHandler = a.handleError

	e.Use(dropUnsafeRequestID)
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: logging.NewRequestID,
	}))
	e.Use(a.correlation)
	e.Use(a.accessLog)
	e.Use(a.metrics.MetricsMiddleware())
	if a.config.BodyLimit > 0 {
		e.Use(middleware.BodyLimit(strconv.FormatInt(a.config.BodyLimit, 10)))
	}

	a.registerRoutes(e)
}

// registerRoutes sets up the HTTP endpoints.
func (a *API) registerRoutes(e *echo.Echo) {
	e.GET("/", a.handleInfo)

	api := e.Group("/api")
	api.POST("/process", a.handleProcess)
	api.GET("/records", a.handleRecords)
	api.GET("/records/:id", a.handleRecord)
	api.GET("/moods", a.handleMoods)
	api.GET("/inspirations", a.handleInspirations)
	api.GET("/todos", a.handleTodos)
	api.PATCH("/todos/:id", a.handleUpdateTodo)
}

// endpoints lists the routes shown by GET /.
var endpoints = []string{
	"GET /health",
	"GET /metrics",
	"POST /api/process",
	"GET /api/records",
	"GET /api/records/:id",
	"GET /api/moods",
	"GET /api/inspirations",
	"GET /api/todos",
	"PATCH /api/todos/:id",
}

// dropUnsafeRequestID removes inbound request ids that are not safe to
// log, so the RequestID middleware mints a fresh one.
func dropUnsafeRequestID(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Request().Header
		if id := h.Get(echo.HeaderXRequestID); id != "" && !logging.ValidRequestID(id) {
			h.Del(echo.HeaderXRequestID)
		}
		return next(c)
	}
}

// receivedAtKey holds the request arrival time on the echo context.
const receivedAtKey = "voicenote.received_at"

// correlation puts the request id into the request context for the
// lifetime of the request and stamps the arrival time.
func (a *API) correlation(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Set(receivedAtKey, a.clock())
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		req := c.Request()
		c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		return next(c)
	}
}

func (a *API) accessLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}

		a.logger.Info(c.Request().Context(), "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Int64("size", c.Response().Size),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// handleError renders every error as {error, timestamp}.
func (a *API) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, msg := a.classify(c.Request().Context(), err)
	resp := ErrorResponse{Error: msg, Timestamp: note.Timestamp(a.receivedAt(c))}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(status)
	} else {
		err = c.JSON(status, resp)
	}
	if err != nil {
		a.logger.Error(c.Request().Context(), "failed to write error response", zap.Error(err))
	}
}

// receivedAt is the time the request arrived, or now for errors raised
// before correlation ran.
func (a *API) receivedAt(c echo.Context) time.Time {
	if t, ok := c.Get(receivedAtKey).(time.Time); ok {
		return t
	}
	return a.clock()
}

func (a *API) classify(ctx context.Context, err error) (int, string) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		if inner, ok := he.Internal.(*echo.HTTPError); ok {
			he = inner
		}
		msg := http.StatusText(he.Code)
		switch m := he.Message.(type) {
		case string:
			msg = m
		case error:
			msg = m.Error()
		}
		return he.Code, msg
	}

	var fe *faults.Error
	if !errors.As(err, &fe) {
		a.logger.Error(ctx, "unhandled error", zap.Error(err))
	}
	return faults.HTTPStatus(faults.KindOf(err)), faults.PublicMessage(err)
}
