// Package app boots the canvas daemon: storage, genesis, the engine, grant
// verification, metrics, and the HTTP API.
package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/mosaicforge/tessella/internal/services/canvas/api/httpapi"
	"github.com/mosaicforge/tessella/internal/services/canvas/engine"
	"github.com/mosaicforge/tessella/internal/services/canvas/event"
	"github.com/mosaicforge/tessella/internal/services/canvas/genesis"
	"github.com/mosaicforge/tessella/internal/services/canvas/grant"
	"github.com/mosaicforge/tessella/internal/services/canvas/observability/metrics"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage/backend"
)

// Config carries everything the daemon needs to start.
type Config struct {
	// Addr is the HTTP API listen address.
	Addr string

	// DSN selects the storage backend: "sqlite:path", "postgres://...",
	// "memory:", or a bare sqlite path.
	DSN string

	// GenesisPath points at the genesis manifest. First boot creates the
	// canvas from it; later boots verify it against the stored canvas.
	GenesisPath string

	// GrantKeyPath points at the base64 Ed25519 public key that verifies
	// bearer grants. The file is watched for rotation.
	GrantKeyPath string

	// GrantIssuer and GrantAudience pin the accepted grant claims.
	GrantIssuer   string
	GrantAudience string

	// RateLimitMax allows that many mutating calls per identity per
	// RateLimitWindow. Zero disables rate limiting.
	RateLimitMax    int
	RateLimitWindow time.Duration

	// MaxBodyBytes caps request bodies. Zero means the API default.
	MaxBodyBytes int64

	// FeedBuffer is the per-subscriber buffer of the live event feed.
	FeedBuffer int
}

// Run boots the daemon and blocks until the context ends or a component
// fails.
func Run(ctx context.Context, cfg Config) error {
	store, err := backend.Open(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	manifest, err := genesis.Load(cfg.GenesisPath)
	if err != nil {
		return fmt.Errorf("load genesis manifest: %w", err)
	}
	meta, err := genesis.Ensure(ctx, store, manifest, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("ensure canvas: %w", err)
	}
	log.Printf("canvas %dx%d, administrator %s", meta.Width, meta.Height, meta.Administrator)

	key, err := grant.LoadKeyFile(cfg.GrantKeyPath)
	if err != nil {
		return err
	}
	verifier, err := grant.NewVerifier(grant.Config{
		Issuer:   cfg.GrantIssuer,
		Audience: cfg.GrantAudience,
	}, key)
	if err != nil {
		return fmt.Errorf("grant verifier: %w", err)
	}
	watcher, err := grant.NewKeyWatcher(cfg.GrantKeyPath, verifier, nil)
	if err != nil {
		return fmt.Errorf("grant key watcher: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	hub := event.NewHub()
	defer hub.Close()

	eng, err := engine.New(store, hub, m)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	server, err := httpapi.New(httpapi.Dependencies{
		Engine:   eng,
		Hub:      hub,
		Verifier: verifier,
		Metrics:  m,
		Gatherer: registry,
	}, httpapi.Config{
		Addr:            cfg.Addr,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		FeedBuffer:      cfg.FeedBuffer,
	})
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Serve(groupCtx)
	})
	group.Go(func() error {
		return watcher.Run(groupCtx)
	})
	return group.Wait()
}
