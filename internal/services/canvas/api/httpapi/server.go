// Package httpapi exposes the canvas engine over HTTP and WebSocket.
//
// Reads are public. Mutations require a bearer grant whose scope matches the
// route; the acting identity always comes from the verified grant, never from
// the request body. Errors leave as a JSON envelope carrying the domain code,
// its metadata, and the request correlation id.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
	"github.com/mosaicforge/tessella/internal/platform/id"
	"github.com/mosaicforge/tessella/internal/platform/requestctx"
	"github.com/mosaicforge/tessella/internal/platform/timeouts"
	"github.com/mosaicforge/tessella/internal/services/canvas/engine"
	"github.com/mosaicforge/tessella/internal/services/canvas/event"
	"github.com/mosaicforge/tessella/internal/services/canvas/grant"
	"github.com/mosaicforge/tessella/internal/services/canvas/observability/metrics"
)

// Config carries the transport settings of the API server.
type Config struct {
	// Addr is the listen address, host:port.
	Addr string

	// MaxBodyBytes caps request bodies. Zero means the default cap.
	MaxBodyBytes int64

	// RateLimitMax allows that many mutating calls per identity per window.
	// Zero disables rate limiting.
	RateLimitMax int

	// RateLimitWindow is the rate limit accounting window.
	RateLimitWindow time.Duration

	// FeedBuffer is the per-subscriber event buffer of the live feed.
	FeedBuffer int

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration
}

const (
	defaultMaxBodyBytes = 1 << 20
	defaultFeedBuffer   = 64
)

// Dependencies supplies the collaborators of the API server.
type Dependencies struct {
	Engine   *engine.Engine
	Hub      *event.Hub
	Verifier *grant.Verifier

	// Metrics instruments the feed; nil disables instrumentation.
	Metrics *metrics.Metrics

	// Gatherer backs GET /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
}

// Server hosts the canvas API.
type Server struct {
	engine   *engine.Engine
	hub      *event.Hub
	verifier *grant.Verifier
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	limiter  *rateLimiter
	cfg      Config
}

// New validates dependencies and returns a configured server.
func New(deps Dependencies, cfg Config) (*Server, error) {
	if deps.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	if deps.Hub == nil {
		return nil, errors.New("httpapi: event hub is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("httpapi: grant verifier is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.FeedBuffer <= 0 {
		cfg.FeedBuffer = defaultFeedBuffer
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = timeouts.Shutdown
	}

	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = newRateLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
	}

	return &Server{
		engine:   deps.Engine,
		hub:      deps.Hub,
		verifier: deps.Verifier,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		limiter:  limiter,
		cfg:      cfg,
	}, nil
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /v1/canvas", s.handleCanvas)
	mux.HandleFunc("GET /v1/cells/{x}/{y}", s.handleCell)
	mux.HandleFunc("GET /v1/grid", s.handleGrid)
	mux.HandleFunc("GET /v1/participants/{identity}", s.handleParticipant)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("GET /v1/feed", s.handleFeed)

	mux.HandleFunc("POST /v1/edits", s.handleEdit)
	mux.HandleFunc("POST /v1/treasury/deposits", s.handleDeposit)
	mux.HandleFunc("POST /v1/moderation/rewinds", s.handleRewind)

	mux.HandleFunc("POST /v1/admin/exclusive", s.handleSetExclusive)
	mux.HandleFunc("POST /v1/admin/editors", s.handleSetEditorAllowed)
	mux.HandleFunc("POST /v1/admin/bans", s.handleSetBanned)
	mux.HandleFunc("POST /v1/admin/freeze", s.handleFreeze)
	mux.HandleFunc("POST /v1/admin/administrator", s.handleTransferAdministration)

	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return s.withCorrelation(mux)
}

// Serve listens on the configured address until the context ends.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: timeouts.ReadHeader,
	}

	log.Printf("canvas API listening at %v", listener.Addr())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve HTTP: %w", err)
	}
}

// withCorrelation assigns each request a correlation id, honoring one the
// caller supplied.
func (s *Server) withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cid := strings.TrimSpace(r.Header.Get("X-Correlation-Id"))
		if cid == "" {
			generated, err := id.NewID()
			if err == nil {
				cid = generated
			}
		}
		if cid != "" {
			w.Header().Set("X-Correlation-Id", cid)
		}
		ctx := requestctx.WithCorrelationID(r.Context(), cid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authorize validates the bearer grant and checks the route scope.
func (s *Server) authorize(r *http.Request, scope string) (grant.Claims, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	token = strings.TrimSpace(token)
	if !ok || token == "" {
		return grant.Claims{}, apperrors.New(apperrors.CodeUnauthenticated,
			"missing bearer grant")
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return grant.Claims{}, err
	}
	if !claims.HasScope(scope) {
		return grant.Claims{}, apperrors.WithMetadata(apperrors.CodeAccessDenied,
			"grant lacks the required scope",
			map[string]string{"scope": scope})
	}
	return claims, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
