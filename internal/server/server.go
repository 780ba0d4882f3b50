// Package server exposes the quote registry and sponsorship relay over HTTP
// and websocket.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"swap-relay/internal/auth"
	"swap-relay/internal/domain"
	"swap-relay/internal/observability"
	"swap-relay/internal/registry"
	"swap-relay/internal/relay"
	"swap-relay/internal/solana"
	"swap-relay/internal/storage"
)

// Subscriptions is the part of the registry the server drives.
type Subscriptions interface {
	Subscribe(ctx context.Context, owner string, intent domain.SwapIntent) (*registry.Stream, error)
	RefreshNow(ctx context.Context, owner string) error
	Unsubscribe(owner string)
	Release(owner string, generation uint64) bool
	Len() int
}

// Sponsor co-signs user transactions.
type Sponsor interface {
	Sponsor(ctx context.Context, req relay.SponsorRequest) (*domain.SignedSwapArtifact, error)
	FeePayer() solana.PublicKey
}

// Submitter broadcasts fully signed transactions.
type Submitter interface {
	Submit(ctx context.Context, owner, txBase64 string) (*relay.SubmitResult, error)
}

// Config wires the server.
type Config struct {
	Registry Subscriptions
	Relay    Sponsor
	// Submitter is optional; POST /v1/swap/submit is not routed without it.
	Submitter Submitter
	// Ledger is optional; GET /v1/swap/sponsorships is not routed without it.
	Ledger   storage.SponsorshipStore
	Verifier auth.Verifier

	RateLimit      RateLimit
	AllowedOrigins []string

	Logger *zap.Logger
	Now    func() time.Time
}

// Server is the HTTP surface of the relay.
type Server struct {
	subs      Subscriptions
	relay     Sponsor
	submitter Submitter
	ledger    storage.SponsorshipStore
	verifier  auth.Verifier
	limiter   *RateLimiter
	origins   map[string]struct{}
	logger    *zap.Logger
	now       func() time.Time
	startedAt time.Time

	router http.Handler

	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// New creates a Server.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{
		subs:      cfg.Registry,
		relay:     cfg.Relay,
		submitter: cfg.Submitter,
		ledger:    cfg.Ledger,
		verifier:  cfg.Verifier,
		limiter:   NewRateLimiter(cfg.RateLimit),
		origins:   make(map[string]struct{}, len(cfg.AllowedOrigins)),
		logger:    cfg.Logger.Named("server"),
		now:       cfg.Now,
		startedAt: cfg.Now(),
	}
	s.baseCtx, s.baseCancel = context.WithCancel(context.Background())
	for _, o := range cfg.AllowedOrigins {
		s.origins[o] = struct{}{}
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close disconnects all websocket clients. http.Server.Shutdown does not
// track hijacked connections.
func (s *Server) Close() {
	s.baseCancel()
}

// Limiter returns the per-owner rate limiter so callers can run its purge loop.
func (s *Server) Limiter() *RateLimiter {
	return s.limiter
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)

	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	r.Route("/v1/swap", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/stream", s.handleStream)
		r.Delete("/stream", s.handleUnsubscribe)
		r.Post("/refresh", s.handleRefresh)
		r.With(s.limiter.Middleware).Post("/sponsor", s.handleSponsor)
		if s.submitter != nil {
			r.With(s.limiter.Middleware).Post("/submit", s.handleSubmit)
		}
		if s.ledger != nil {
			r.Get("/sponsorships", s.handleSponsorships)
		}
	})
	return r
}

// instrument records request metrics and logs each request at debug level.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		observability.RecordHTTPRequest(route, strconv.Itoa(status), elapsed.Seconds())
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// StatusResponse is the JSON response for the /status endpoint.
type StatusResponse struct {
	Status              string    `json:"status"`
	Uptime              string    `json:"uptime"`
	StartedAt           time.Time `json:"started_at"`
	ActiveSubscriptions int       `json:"active_subscriptions"`
	FeePayer            string    `json:"fee_payer"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:              "running",
		Uptime:              s.now().Sub(s.startedAt).Truncate(time.Second).String(),
		StartedAt:           s.startedAt,
		ActiveSubscriptions: s.subs.Len(),
		FeePayer:            s.relay.FeePayer().String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
