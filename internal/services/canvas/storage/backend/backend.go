// Package backend selects a canvas store implementation from a DSN.
//
// Supported forms:
//
//	/var/lib/tessella/canvas.db     bare path, SQLite
//	sqlite:canvas.db                SQLite
//	file:canvas.db                  SQLite
//	postgres://user@host/db         PostgreSQL
//	memory:                         in-memory, non-durable
package backend

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/mosaicforge/tessella/internal/services/canvas/storage"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage/memory"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage/postgres"
	"github.com/mosaicforge/tessella/internal/services/canvas/storage/sqlite"
)

// Open builds a store from the DSN's scheme.
func Open(ctx context.Context, dsn string) (storage.Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("storage dsn is required")
	}

	parsed, err := url.Parse(dsn)
	if err != nil {
		// Bare filesystem paths may not parse as URLs.
		return sqlite.Open(ctx, dsn)
	}

	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file", "sqlite":
		return sqlite.Open(ctx, dsnPath(parsed, dsn, scheme))
	case "memory", "mem", "inmem":
		return memory.Open(), nil
	case "postgres", "postgresql":
		return postgres.Open(ctx, dsn)
	default:
		return nil, fmt.Errorf("unsupported storage dsn scheme %q", scheme)
	}
}

func dsnPath(parsed *url.URL, dsn, scheme string) string {
	if parsed.Opaque != "" {
		return parsed.Opaque
	}
	if parsed.Path != "" {
		path := parsed.Path
		if parsed.Host != "" {
			path = parsed.Host + path
		}
		return path
	}
	if scheme != "" {
		return strings.TrimPrefix(dsn, scheme+":")
	}
	return dsn
}
