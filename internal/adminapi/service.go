// Package adminapi serves the local operations API: channel health,
// delivery metrics, active rate limits, synchronous test sends, and
// read/click tracking ingestion.
//
// The server is loopback-first: binding to a non-loopback address
// requires a bearer token or an explicit insecure opt-in.
package adminapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"giftminder/internal/channel"
	"giftminder/internal/domain"
	"giftminder/internal/metrics"
	"giftminder/internal/ratelimit"
	"giftminder/internal/storage"
	logx "giftminder/pkg/logx"
)

// Config controls the admin HTTP server.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// TestSender is the synchronous dispatch path behind POST /api/test.
type TestSender interface {
	TestSend(ctx context.Context, ch domain.Channel, address string) (channel.DeliveryResult, error)
}

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config

	store   storage.Store
	limits  ratelimit.Limiter
	metrics *metrics.Aggregator
	sender  TestSender

	ln       net.Listener
	srv      *http.Server
	stopDone chan struct{}
}

type Deps struct {
	Store   storage.Store
	Limits  ratelimit.Limiter
	Metrics *metrics.Aggregator
	Sender  TestSender
	Log     logx.Logger
}

func New(cfg Config, deps Deps) *Service {
	return &Service{
		cfg:     cfg,
		store:   deps.Store,
		limits:  deps.Limits,
		metrics: deps.Metrics,
		sender:  deps.Sender,
		log:     deps.Log,
	}
}

// SetLimiter swaps the rate-limit backend behind /api/ratelimits
// (hot reload).
func (s *Service) SetLimiter(l ratelimit.Limiter) {
	s.mu.Lock()
	s.limits = l
	s.mu.Unlock()
}

func (s *Service) limiter() ratelimit.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limits
}

// Addr returns the bound listen address, empty when not running.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Reconfigure applies cfg and starts/stops/restarts the server if needed.
// Safe to call during hot-reload.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	running := s.srv != nil
	s.cfg = cfg
	s.mu.Unlock()

	if !cfg.Enabled {
		if running {
			s.Stop(ctx)
		}
		return
	}
	if !running {
		s.Start(ctx)
		return
	}
	if prev != cfg {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (s *Service) Start(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.srv != nil {
			s.mu.Unlock()
			return
		}
		// If stop is in progress, wait for it (avoid double listen).
		if s.stopDone != nil {
			done := s.stopDone
			s.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
			continue
		}
		cur := s.cfg
		s.mu.Unlock()

		if !cur.Enabled {
			return
		}

		addr := strings.TrimSpace(cur.Addr)
		if addr == "" {
			addr = "127.0.0.1:8687"
		}

		// Safety: prevent accidental public exposure without auth.
		if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
			s.log.Error("admin api refused to start: non-loopback addr requires token or allow_insecure",
				logx.String("addr", addr),
			)
			return
		}
		if cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
			s.log.Warn("admin api running without token on non-loopback addr (insecure)", logx.String("addr", addr))
		}

		ln, err := net.Listen("tcp", addr)
		if err != nil {
			s.log.Error("admin api listen failed", logx.String("addr", addr), logx.Err(err))
			return
		}

		srv := &http.Server{
			Handler:      s.routes(cur.Token),
			ReadTimeout:  cur.ReadTimeout,
			WriteTimeout: cur.WriteTimeout,
			IdleTimeout:  cur.IdleTimeout,
		}

		s.mu.Lock()
		s.ln = ln
		s.srv = srv
		s.mu.Unlock()

		go func() {
			err := srv.Serve(ln)
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.log.Error("admin api stopped with error", logx.Err(err))
			}
		}()

		s.log.Info("admin api started",
			logx.String("addr", ln.Addr().String()),
			logx.Bool("token_set", cur.Token != ""),
		)
		return
	}
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.srv == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	srv := s.srv
	ln := s.ln
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()

	// Close the listener even if Shutdown gets stuck.
	if ln != nil {
		_ = ln.Close()
	}

	go func() {
		defer close(done)
		shutdownCtx := ctx
		if shutdownCtx == nil {
			shutdownCtx = context.Background()
		}
		_ = srv.Shutdown(shutdownCtx)
		_ = srv.Close()
		s.mu.Lock()
		s.stopDone = nil
		s.mu.Unlock()
		s.log.Info("admin api stopped")
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Service) routes(token string) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.HandlerFunc { return withAuth(token, h) }

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/health", wrap(s.handleHealth))
	mux.HandleFunc("/api/metrics", wrap(s.handleMetrics))
	mux.HandleFunc("/api/ratelimits", wrap(s.handleRateLimits))
	mux.HandleFunc("/api/upcoming", wrap(s.handleUpcoming))
	mux.HandleFunc("/api/test", wrap(s.handleTestSend))
	mux.HandleFunc("/api/track", wrap(s.handleTrack))
	return mux
}

func withAuth(token string, h http.HandlerFunc) http.HandlerFunc {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if ah := r.Header.Get("Authorization"); ah != "" {
			const p = "Bearer "
			if strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
				h(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		// empty host means all interfaces
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
