// Package mcp parses MCP command flags and runs the stdio adapter.
package mcp

import (
	"context"
	"flag"

	platformcmd "github.com/mosaicforge/tessella/internal/platform/cmd"
	"github.com/mosaicforge/tessella/internal/services/mcp/service"
)

// Config holds MCP command configuration.
type Config struct {
	APIBaseURL string `env:"TESSELLA_MCP_API_URL" envDefault:"http://localhost:8080"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.APIBaseURL, "api-url", cfg.APIBaseURL, "Canvas HTTP API base URL")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the MCP stdio server.
func Run(ctx context.Context, cfg Config) error {
	return service.Run(ctx, service.Config{APIBaseURL: cfg.APIBaseURL})
}
