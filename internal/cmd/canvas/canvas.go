package canvas

import (
	"context"
	"flag"
	"time"

	platformcmd "github.com/mosaicforge/tessella/internal/platform/cmd"
	"github.com/mosaicforge/tessella/internal/services/canvas/app"
)

// Config holds canvas command configuration. Environment variables supply
// defaults; flags override them.
type Config struct {
	Addr            string        `env:"TESSELLA_CANVAS_ADDR"           envDefault:"localhost:8080"`
	DSN             string        `env:"TESSELLA_CANVAS_DSN"            envDefault:"tessella.db"`
	GenesisPath     string        `env:"TESSELLA_CANVAS_GENESIS"        envDefault:"genesis.json"`
	GrantKeyPath    string        `env:"TESSELLA_CANVAS_GRANT_KEY"`
	GrantIssuer     string        `env:"TESSELLA_CANVAS_GRANT_ISSUER"   envDefault:"tessella"`
	GrantAudience   string        `env:"TESSELLA_CANVAS_GRANT_AUDIENCE" envDefault:"canvas"`
	RateLimitMax    int           `env:"TESSELLA_CANVAS_RATE_LIMIT"`
	RateLimitWindow time.Duration `env:"TESSELLA_CANVAS_RATE_WINDOW"`
	MaxBodyBytes    int64         `env:"TESSELLA_CANVAS_MAX_BODY_BYTES"`
	FeedBuffer      int           `env:"TESSELLA_CANVAS_FEED_BUFFER"`
}

// ParseConfig loads environment defaults and parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "The canvas HTTP listen address")
	fs.StringVar(&cfg.DSN, "dsn", cfg.DSN, "Storage DSN (sqlite path, postgres://..., or memory:)")
	fs.StringVar(&cfg.GenesisPath, "genesis", cfg.GenesisPath, "Path to the genesis manifest")
	fs.StringVar(&cfg.GrantKeyPath, "grant-key", cfg.GrantKeyPath, "Path to the grant verification public key")
	fs.StringVar(&cfg.GrantIssuer, "grant-issuer", cfg.GrantIssuer, "Required grant issuer claim")
	fs.StringVar(&cfg.GrantAudience, "grant-audience", cfg.GrantAudience, "Required grant audience claim")
	fs.IntVar(&cfg.RateLimitMax, "rate-limit", cfg.RateLimitMax, "Mutations allowed per identity per window (0 for the default)")
	fs.DurationVar(&cfg.RateLimitWindow, "rate-window", cfg.RateLimitWindow, "Rate limit window (0 for the default)")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "Request body size cap in bytes (0 for the default)")
	fs.IntVar(&cfg.FeedBuffer, "feed-buffer", cfg.FeedBuffer, "Event feed buffer per subscriber (0 for the default)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the canvas daemon.
func Run(ctx context.Context, cfg Config) error {
	return app.Run(ctx, app.Config{
		Addr:            cfg.Addr,
		DSN:             cfg.DSN,
		GenesisPath:     cfg.GenesisPath,
		GrantKeyPath:    cfg.GrantKeyPath,
		GrantIssuer:     cfg.GrantIssuer,
		GrantAudience:   cfg.GrantAudience,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		FeedBuffer:      cfg.FeedBuffer,
	})
}
