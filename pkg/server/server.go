package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/reconcile"
	"github.com/Ramsey-B/fern/pkg/routes/datasets"
	"github.com/Ramsey-B/fern/pkg/routes/health"
)

type Options struct {
	ServiceName     string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// Verifier enables bearer-token authentication on the API group when set
	Verifier middleware.TokenVerifier
}

// Server is the HTTP API. It implements startup.StartupDependency.
type Server struct {
	echo    *echo.Echo
	http    *http.Server
	checker *health.Checker
	logger  ectologger.Logger
	opts    Options
	errs    chan error
	addr    net.Addr
}

func New(service *reconcile.Service, checker *health.Checker, logger ectologger.Logger, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomiddleware.Recover())
	if opts.ServiceName != "" {
		e.Use(otelecho.Middleware(opts.ServiceName))
	}
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	if opts.Verifier != nil {
		api.Use(middleware.Authentication(logger, opts.Verifier))
	}
	api.Use(middleware.RequireTenant())
	datasets.NewHandler(service).Register(api.Group("/datasets"))

	return &Server{
		echo:    e,
		checker: checker,
		logger:  logger,
		opts:    opts,
		errs:    make(chan error, 1),
		http: &http.Server{
			Addr:         fmt.Sprintf(":%d", opts.Port),
			Handler:      e,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
	}
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) GetName() string     { return "http" }
func (s *Server) DependsOn() []string { return nil }

// Start binds the port and serves in the background. Bind errors are returned directly.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr()

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("HTTP server stopped unexpectedly")
			s.errs <- err
		}
	}()

	s.checker.SetReady(true)
	s.logger.WithContext(ctx).WithFields(map[string]any{"addr": s.http.Addr}).Info("HTTP server listening")
	return nil
}

// Addr is the bound listener address, nil before Start
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Errors reports a serve failure after Start returned
func (s *Server) Errors() <-chan error {
	return s.errs
}

func (s *Server) Stop(ctx context.Context) error {
	s.checker.SetReady(false)

	timeout := s.opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return s.http.Shutdown(ctx)
}
