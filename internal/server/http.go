package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	echoSwagger "github.com/swaggo/echo-swagger"

	"chatgate/config"
	"chatgate/internal/auditlog"
	"chatgate/internal/core"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MetricsEnabled  bool                     // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string                   // HTTP path for metrics endpoint (default: /metrics)
	MetricsGatherer prometheus.Gatherer      // Registry served on the metrics endpoint (default: prometheus.DefaultGatherer)
	BodySizeLimit   int64                    // Max request body size in bytes (default: 10MB)
	SwaggerEnabled  bool                     // Whether to serve the Swagger UI under /swagger/
	StaticDir       string                   // Directory served on / (index.html) and /*
	CORSOrigins     []string                 // Allowed origins (default: *)
	AuditLogger     auditlog.LoggerInterface // Receives one entry per chat request (default: noop)
}

// New creates a new HTTP server
func New(chat ChatService, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler

	handler := NewHandler(chat, cfg.AuditLogger)

	// Global middleware stack (order matters)
	e.Use(RequestID())
	e.Use(requestLogger())
	e.Use(middleware.Recover())

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  origins,
		ExposeHeaders: []string{RequestIDHeader},
	}))

	// Body size limit (default: 10MB)
	bodySizeLimit := config.DefaultBodySizeLimit
	if cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	// Public routes
	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		metricsPath := "/metrics"
		if cfg.MetricsEndpoint != "" {
			// Normalize path to prevent traversal attacks
			metricsPath = path.Clean("/" + cfg.MetricsEndpoint)
		}
		gatherer := cfg.MetricsGatherer
		if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		e.GET(metricsPath, echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}
	if cfg.SwaggerEnabled {
		e.GET("/swagger/*", echoSwagger.WrapHandler)
	}

	// API routes
	e.POST("/api/chat", handler.Chat)
	e.GET("/api/attempts", handler.Attempts)

	RegisterStatic(e, cfg.StaticDir)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

// requestLogger logs one line per request through slog.
func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", v.RemoteIP),
				slog.String("request_id", v.RequestID),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			if v.Status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			slog.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}

// errorHandler renders every unhandled error as {"error": message}.
func errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		msg := http.StatusText(httpErr.Code)
		if s, ok := httpErr.Message.(string); ok && s != "" {
			msg = s
		} else if httpErr.Message != nil {
			msg = fmt.Sprint(httpErr.Message)
		}
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(httpErr.Code)
		} else {
			err = c.JSON(httpErr.Code, ErrorResponse{Error: msg})
		}
	} else {
		err = handleError(c, err)
	}
	if err != nil {
		core.LoggerFrom(c.Request().Context()).Error("failed to write error response", "error", err)
	}
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
