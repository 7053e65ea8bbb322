// Package server exposes the transcription service over HTTP: the /ws
// WebSocket streaming endpoint, the health endpoints, and the Prometheus
// /metrics scrape target.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/wernicke/internal/config"
	"github.com/MrWong99/wernicke/internal/gpu"
	"github.com/MrWong99/wernicke/internal/health"
	"github.com/MrWong99/wernicke/internal/observe"
	"github.com/MrWong99/wernicke/internal/pipeline"
	"github.com/MrWong99/wernicke/internal/session"
)

// shutdownTimeout bounds the graceful drain when the server stops.
const shutdownTimeout = 10 * time.Second

// Options configures a [Server].
type Options struct {
	// Server holds the listen address, TLS, and logging settings.
	Server config.ServerConfig

	// Session configures every accepted streaming session.
	Session session.Config

	// Checkers are evaluated by the readiness and health endpoints.
	Checkers []health.Checker

	// Metrics is the metrics sink. Defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger is the server logger. Defaults to [slog.Default].
	Logger *slog.Logger
}

// Server is the Wernicke HTTP frontend.
type Server struct {
	opts Options
	pipe *pipeline.Pipeline
	sup  *gpu.Supervisor
	reg  *session.Registry
	met  *observe.Metrics
	log  *slog.Logger

	httpSrv *http.Server
}

// New assembles a Server around the given pipeline and GPU supervisor.
func New(pipe *pipeline.Pipeline, sup *gpu.Supervisor, opts Options) *Server {
	s := &Server{
		opts: opts,
		pipe: pipe,
		sup:  sup,
		met:  opts.Metrics,
		log:  opts.Logger,
	}
	if s.met == nil {
		s.met = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.reg = session.NewRegistry(s.met)

	hh := health.New(func() health.Details {
		return health.Details{
			ActiveSessions: s.reg.Count(),
			GPU:            s.sup.Stats(),
		}
	}, opts.Checkers...)

	inner := http.NewServeMux()
	hh.Register(inner)
	inner.Handle("GET /metrics", promhttp.Handler())

	// The WebSocket route bypasses the HTTP middleware: the hijacked
	// connection outlives the request and its duration is not a request
	// latency.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("/", observe.Middleware(s.met)(inner))

	s.httpSrv = &http.Server{
		Addr:              opts.Server.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Registry returns the live session registry.
func (s *Server) Registry() *session.Registry {
	return s.reg
}

// Run serves until ctx is cancelled, then drains gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := s.opts.Server.TLS; tls != nil {
			err = s.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = s.httpSrv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen on %q: %w", s.opts.Server.ListenAddr, err)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return s.httpSrv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// handleWS upgrades the connection and runs a streaming session on it.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	// Chunks may legally be as large as a full buffer; allow that plus
	// framing slack.
	maxChunk := s.opts.Session.Params.Bytes(s.opts.Session.MaxBufferDuration)
	if maxChunk <= 0 {
		maxChunk = 1_920_000
	}
	conn.SetReadLimit(int64(maxChunk) + 4096)

	sess := session.New(newWSTransport(conn), s.pipe, s.opts.Session,
		session.WithMetrics(s.met),
		session.WithLogger(s.log),
	)
	s.reg.Add(sess)
	defer s.reg.Remove(sess.ID())

	if err := sess.Run(r.Context()); err != nil &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		s.log.Warn("session ended with error", "session_id", sess.ID(), "err", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
