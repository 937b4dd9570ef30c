package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/tjfontaine/feedfilter/internal/auth"
	"github.com/tjfontaine/feedfilter/internal/dispatch"
	"github.com/tjfontaine/feedfilter/internal/storage"
	"github.com/tjfontaine/feedfilter/internal/track"
)

// DefaultAdminTimeout bounds an /admin request.
const DefaultAdminTimeout = 10 * time.Second

// SessionLister reports the running track sessions.
type SessionLister interface {
	Sessions() []track.Snapshot
}

// Options wires the server to the rest of the agent. Nil handlers leave
// their routes unmounted; a nil Auth leaves every route open.
type Options struct {
	Port     int
	Logger   *slog.Logger
	Auth     *auth.Authenticator
	Room     http.Handler
	Sessions SessionLister
	Journal  storage.Journal
	Counter  *dispatch.Counter
	Metrics  http.Handler
	// ConnectLimiter throttles new /v1/room connections.
	ConnectLimiter *rate.Limiter
	AdminTimeout   time.Duration
}

type Server struct {
	Router *chi.Mux
	Port   int
	logger *slog.Logger
	http   *http.Server
	opts   Options
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.AdminTimeout <= 0 {
		opts.AdminTimeout = DefaultAdminTimeout
	}
	if opts.Journal == nil {
		opts.Journal = storage.Nop{}
	}

	s := &Server{Port: opts.Port, logger: opts.Logger, opts: opts}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "feedfilter",
			otelhttp.WithFilter(func(r *http.Request) bool { return r.URL.Path != "/healthz" }))
	})

	r.Get("/healthz", s.handleHealth)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(AuthMiddleware(opts.Auth))
		}

		r.Route("/admin", func(r chi.Router) {
			r.Use(TimeoutMiddleware(opts.AdminTimeout))
			r.Get("/sessions", s.handleSessions)
			r.Get("/journal/detections", s.handleDetections)
			r.Get("/journal/commands", s.handleCommands)
			r.Post("/commands/reset", s.handleResetCounter)
		})

		if opts.Room != nil {
			r.With(ConnectLimitMiddleware(opts.ConnectLimiter)).Handle("/v1/room", opts.Room)
		}
	})

	s.Router = r
	return s
}

// Start listens on Port and serves until ctx is done, then shuts down
// gracefully. A clean shutdown returns nil.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", slog.Int("port", s.Port))
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down server")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
