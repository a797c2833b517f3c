// Package grant verifies the Ed25519-signed access grants presented on
// mutating API calls. Grants are minted off-process; this service only ever
// holds the public key, which can be rotated at runtime via the key watcher.
package grant

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/mosaicforge/tessella/internal/platform/errors"
)

// Scopes carried by grant tokens.
const (
	ScopeEdit     = "edit"
	ScopeModerate = "moderate"
	ScopeAdmin    = "admin"
)

// Claims captures a validated grant.
type Claims struct {
	Identity  string
	Scopes    []string
	ExpiresAt time.Time
	JWTID     string
}

// HasScope reports whether the grant carries the scope.
func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// grantClaims is the internal claims type used for JWT parsing.
type grantClaims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// Config defines how grants are verified.
type Config struct {
	Issuer   string
	Audience string
	Now      func() time.Time
}

// Verifier validates grant tokens against a rotatable public key.
type Verifier struct {
	cfg Config

	mu  sync.RWMutex
	key ed25519.PublicKey
}

// NewVerifier builds a verifier for the issuer/audience pair.
func NewVerifier(cfg Config, key ed25519.PublicKey) (*Verifier, error) {
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("grant issuer is required")
	}
	if strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("grant audience is required")
	}
	if len(key) != ed25519.PublicKeySize {
		return nil, errors.New("grant public key has the wrong size")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{cfg: cfg, key: key}, nil
}

// SetKey swaps the verification key. Used by the key watcher on rotation.
func (v *Verifier) SetKey(key ed25519.PublicKey) error {
	if len(key) != ed25519.PublicKeySize {
		return errors.New("grant public key has the wrong size")
	}
	v.mu.Lock()
	v.key = key
	v.mu.Unlock()
	return nil
}

func (v *Verifier) currentKey() ed25519.PublicKey {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key
}

// Verify checks a bearer token and returns its claims.
func (v *Verifier) Verify(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "grant is required")
	}

	var parsed grantClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return v.currentKey(), nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != v.cfg.Issuer {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeGrantMismatch,
			"grant issuer mismatch",
			map[string]string{"field": "issuer"},
		)
	}
	if !audienceContains(parsed.Audience, v.cfg.Audience) {
		return Claims{}, apperrors.WithMetadata(
			apperrors.CodeGrantMismatch,
			"grant audience mismatch",
			map[string]string{"field": "audience"},
		)
	}
	if parsed.ID == "" {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "grant exp is required")
	}

	now := v.cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeGrantExpired, "grant is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "grant not active yet")
	}

	identity := strings.TrimSpace(parsed.Subject)
	if identity == "" {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "grant subject is required")
	}

	return Claims{
		Identity:  identity,
		Scopes:    parsed.Scopes,
		ExpiresAt: exp,
		JWTID:     parsed.ID,
	}, nil
}

// SignParams describes a grant to mint. Used by tests and key tooling.
type SignParams struct {
	Issuer    string
	Audience  string
	Identity  string
	Scopes    []string
	JWTID     string
	IssuedAt  time.Time
	NotBefore time.Time
	ExpiresAt time.Time
}

// Sign mints a grant token with the private counterpart of the verifier key.
func Sign(key ed25519.PrivateKey, params SignParams) (string, error) {
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   params.Issuer,
			Subject:  params.Identity,
			Audience: jwt.ClaimStrings{params.Audience},
			ID:       params.JWTID,
		},
		Scopes: params.Scopes,
	}
	if !params.IssuedAt.IsZero() {
		claims.IssuedAt = jwt.NewNumericDate(params.IssuedAt)
	}
	if !params.NotBefore.IsZero() {
		claims.NotBefore = jwt.NewNumericDate(params.NotBefore)
	}
	if !params.ExpiresAt.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(params.ExpiresAt)
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(key)
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeGrantInvalid, "grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeGrantInvalid, "grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeGrantInvalid, "grant is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

// DecodeKey parses a base64 Ed25519 public key, accepting both raw and
// padded encodings.
func DecodeKey(value string) (ed25519.PublicKey, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("empty grant public key")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err != nil {
		decoded, err = base64.StdEncoding.DecodeString(value)
		if err != nil {
			return nil, err
		}
	}
	if len(decoded) != ed25519.PublicKeySize {
		return nil, errors.New("grant public key must be 32 bytes")
	}
	return ed25519.PublicKey(decoded), nil
}
