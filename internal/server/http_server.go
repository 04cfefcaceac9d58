package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoapi "github.com/pilab-dev/datelink/api/echo"
	"github.com/pilab-dev/datelink/config"
	"github.com/pilab-dev/datelink/log"
	"github.com/pilab-dev/datelink/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// ReadinessFunc reports whether the backing stores are reachable.
type ReadinessFunc func(ctx context.Context) error

// Options wires the HTTP server.
type Options struct {
	Config   *config.Config
	Logger   log.Logger
	API      *echoapi.SessionAPI
	Registry *prometheus.Registry
	Ready    ReadinessFunc
}

// NewRouter builds the echo router with logging, tracing, health and metrics routes.
func NewRouter(opts Options) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(traceMiddleware())
	e.Use(logMiddleware(opts.Logger))

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "OK")
	})

	e.GET("/readyz", func(c echo.Context) error {
		if opts.Ready != nil {
			if err := opts.Ready(c.Request().Context()); err != nil {
				opts.Logger.Error(c.Request().Context(), "readiness check failed", err)
				return c.String(http.StatusServiceUnavailable, "Service not ready")
			}
		}
		return c.String(http.StatusOK, "OK")
	})

	if opts.Registry != nil {
		promHandler := promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
		e.GET("/metrics", echo.WrapHandler(promHandler))
	}

	if opts.API == nil {
		opts.Logger.Error(context.Background(), "session API not provided, routes will not be registered", nil)
	} else {
		opts.API.RegisterRoutes(e)
	}

	return e
}

// NewHTTPServer creates the HTTP server for the session API.
func NewHTTPServer(opts Options) *http.Server {
	return &http.Server{
		Addr:              opts.Config.HTTPAddr,
		Handler:           NewRouter(opts),
		ReadHeaderTimeout: 3 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    8 * 1024,
	}
}

func logMiddleware(logger log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			fields := log.Fields{
				"method":     req.Method,
				"path":       c.Path(),
				"status":     c.Response().Status,
				"latency":    time.Since(start).String(),
				"ip":         c.RealIP(),
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			}
			if err != nil {
				logger.Error(req.Context(), "HTTP request failed", err, fields)
			} else {
				logger.Info(req.Context(), "HTTP request", fields)
			}

			return nil
		}
	}
}

func traceMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			ctx, span := tracing.Start(ctx, fmt.Sprintf("%s %s", req.Method, c.Path()),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(req.Method),
					semconv.HTTPRoute(c.Path()),
				))
			defer span.End()

			c.SetRequest(req.WithContext(ctx))

			err := next(c)

			status := c.Response().Status
			span.SetAttributes(attribute.Int("http.response.status_code", status))
			if err != nil || status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(status))
			}

			return err
		}
	}
}
