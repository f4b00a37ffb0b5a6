// Package status serves the daemon's small HTTP control surface:
// liveness, recent run history, a manual run trigger and pprof.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stockwatch/internal/eventbus"
	"stockwatch/internal/pipeline"
	"stockwatch/internal/storage"
	logx "stockwatch/pkg/logx"
)

const (
	DefaultRunsLimit = 20
	maxRunsLimit     = 500
)

// Runner triggers a scan. *pipeline.Pipeline implements it.
type Runner interface {
	Run(ctx context.Context) (pipeline.Report, error)
}

// RunLister reads run history. storage.Store implements it.
type RunLister interface {
	RecentRuns(ctx context.Context, n int) ([]storage.RunRecord, error)
}

// Config controls the server.
//
// Binding to a non-loopback address requires Token; requests then need
// "Authorization: Bearer <token>" or ?token=<token>.
type Config struct {
	Addr  string
	Token string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Check reports a config Serve would refuse.
func (c Config) Check() error {
	addr := strings.TrimSpace(c.Addr)
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("status: addr %q: %w", addr, err)
	}
	if strings.TrimSpace(c.Token) == "" && !isLoopbackAddr(addr) {
		return errors.New("status: non-loopback addr requires a token")
	}
	return nil
}

type Deps struct {
	Runner Runner
	Runs   RunLister
	// Health, when set, adds its value under "supervisor" in /healthz.
	Health func() any
}

type Server struct {
	cfg     Config
	deps    Deps
	log     logx.Logger
	started time.Time

	// base outlives requests so a client hanging up does not abort a scan.
	base context.Context

	running atomic.Bool
	lastRun atomic.Pointer[storage.RunRecord]
}

func New(cfg Config, deps Deps, log logx.Logger) *Server {
	return &Server{
		cfg:     cfg,
		deps:    deps,
		log:     log.With(logx.String("comp", "status")),
		started: time.Now(),
		base:    context.Background(),
	}
}

// Handler returns the routed handler. It is exported for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.withAuth)

	r.Get("/healthz", s.handleHealth)
	r.Get("/runs", s.handleRuns)
	r.Post("/run", s.handleRun)

	r.Route("/debug/pprof", func(r chi.Router) {
		r.Get("/", hpprof.Index)
		r.Get("/cmdline", hpprof.Cmdline)
		r.Get("/profile", hpprof.Profile)
		r.Get("/symbol", hpprof.Symbol)
		r.Post("/symbol", hpprof.Symbol)
		r.Get("/trace", hpprof.Trace)
		r.Get("/{name}", hpprof.Index)
	})
	return r
}

// Serve listens on cfg.Addr until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	addr := strings.TrimSpace(s.cfg.Addr)
	if err := s.cfg.Check(); err != nil {
		s.log.Error("status server refused to start", logx.String("addr", addr), logx.Err(err))
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.base = ctx

	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}
	go func() {
		<-ctx.Done()
		cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = srv.Shutdown(cctx)
		cancel()
	}()

	s.log.Info("status server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("token_set", s.cfg.Token != ""),
	)
	err = srv.Serve(ln)
	if ctx.Err() != nil || errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return err
}

// Observe tracks run events until ctx is done or events is closed.
func (s *Server) Observe(ctx context.Context, events <-chan eventbus.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-events:
			if !ok {
				return nil
			}
			switch e.Type {
			case eventbus.RunStarted:
				s.running.Store(true)
			case eventbus.RunFinished:
				s.running.Store(false)
				if rec, ok := e.Data.(storage.RunRecord); ok {
					s.lastRun.Store(&rec)
				}
			}
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":  "ok",
		"uptime":  time.Since(s.started).Round(time.Second).String(),
		"running": s.running.Load(),
	}
	if rec := s.lastRun.Load(); rec != nil {
		body["last_run"] = rec
	}
	if s.deps.Health != nil {
		body["supervisor"] = s.deps.Health()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusNotFound, "run history disabled")
		return
	}
	limit := DefaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}
	runs, err := s.deps.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		s.log.Warn("list runs failed", logx.Err(err))
		writeError(w, http.StatusInternalServerError, "list runs failed")
		return
	}
	if runs == nil {
		runs = []storage.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runner == nil {
		writeError(w, http.StatusNotFound, "runner disabled")
		return
	}
	s.log.Info("manual run requested", logx.String("request_id", middleware.GetReqID(r.Context())))
	rep, err := s.deps.Runner.Run(s.base)
	switch {
	case errors.Is(err, pipeline.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, rep.Record(err))
		return
	}
	writeJSON(w, http.StatusOK, rep.Record(nil))
}

func (s *Server) withAuth(next http.Handler) http.Handler {
	tok := strings.TrimSpace(s.cfg.Token)
	if tok == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				next.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			next.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, "unauthorized")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
