// Package grantmint signs bearer grants for the canvas API.
package grantmint

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	platformcmd "github.com/mosaicforge/tessella/internal/platform/cmd"
	"github.com/mosaicforge/tessella/internal/platform/id"
	"github.com/mosaicforge/tessella/internal/services/canvas/grant"
)

// Config holds grant minting configuration.
type Config struct {
	PrivateKey string `env:"TESSELLA_GRANT_PRIVATE_KEY"`
	Issuer     string `env:"TESSELLA_CANVAS_GRANT_ISSUER"   envDefault:"tessella"`
	Audience   string `env:"TESSELLA_CANVAS_GRANT_AUDIENCE" envDefault:"canvas"`
	Identity   string
	Scopes     string
	TTL        time.Duration
	JWTID      string
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Scopes: grant.ScopeEdit, TTL: 24 * time.Hour}
	if err := platformcmd.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.PrivateKey, "key", cfg.PrivateKey, "Base64 Ed25519 private key")
	fs.StringVar(&cfg.Issuer, "issuer", cfg.Issuer, "Grant issuer claim")
	fs.StringVar(&cfg.Audience, "audience", cfg.Audience, "Grant audience claim")
	fs.StringVar(&cfg.Identity, "identity", cfg.Identity, "Identity the grant is minted for")
	fs.StringVar(&cfg.Scopes, "scopes", cfg.Scopes, "Comma-separated scopes: edit, moderate, admin")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "Grant lifetime")
	fs.StringVar(&cfg.JWTID, "jti", cfg.JWTID, "Token id (random when empty)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run mints a grant and writes the token to out.
func Run(cfg Config, out io.Writer, now func() time.Time) error {
	if out == nil {
		return errors.New("output is required")
	}
	if now == nil {
		now = time.Now
	}
	if strings.TrimSpace(cfg.Identity) == "" {
		return errors.New("identity is required")
	}
	if cfg.TTL <= 0 {
		return errors.New("ttl must be greater than zero")
	}

	key, err := decodePrivateKey(cfg.PrivateKey)
	if err != nil {
		return err
	}
	scopes, err := parseScopes(cfg.Scopes)
	if err != nil {
		return err
	}

	jwtID := cfg.JWTID
	if jwtID == "" {
		jwtID, err = id.NewID()
		if err != nil {
			return fmt.Errorf("token id: %w", err)
		}
	}

	issued := now().UTC()
	token, err := grant.Sign(key, grant.SignParams{
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		Identity:  strings.TrimSpace(cfg.Identity),
		Scopes:    scopes,
		JWTID:     jwtID,
		IssuedAt:  issued,
		NotBefore: issued,
		ExpiresAt: issued.Add(cfg.TTL),
	})
	if err != nil {
		return fmt.Errorf("sign grant: %w", err)
	}
	_, err = fmt.Fprintln(out, token)
	return err
}

func decodePrivateKey(value string) (ed25519.PrivateKey, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("private key is required")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, fmt.Errorf("decode private key: %w", err)
		}
	}
	if len(decoded) != ed25519.PrivateKeySize {
		return nil, errors.New("private key must be 64 bytes")
	}
	return ed25519.PrivateKey(decoded), nil
}

func parseScopes(raw string) ([]string, error) {
	var scopes []string
	for _, part := range strings.Split(raw, ",") {
		scope := strings.TrimSpace(part)
		if scope == "" {
			continue
		}
		switch scope {
		case grant.ScopeEdit, grant.ScopeModerate, grant.ScopeAdmin:
			scopes = append(scopes, scope)
		default:
			return nil, fmt.Errorf("unknown scope %q", scope)
		}
	}
	if len(scopes) == 0 {
		return nil, errors.New("at least one scope is required")
	}
	return scopes, nil
}
