package requestctx

import (
	"context"
	"testing"
)

func TestIdentityRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), "ed25519:alice")
	if got := IdentityFromContext(ctx); got != "ed25519:alice" {
		t.Fatalf("IdentityFromContext = %q, want %q", got, "ed25519:alice")
	}
}

func TestIdentityFromContextEmpty(t *testing.T) {
	if got := IdentityFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestIdentityFromContextNil(t *testing.T) {
	if got := IdentityFromContext(nil); got != "" {
		t.Fatalf("expected empty string for nil context, got %q", got)
	}
}

func TestWithIdentityNilContext(t *testing.T) {
	ctx := WithIdentity(nil, "ed25519:bob")
	if ctx == nil {
		t.Fatalf("expected non-nil context")
	}
	if got := IdentityFromContext(ctx); got != "ed25519:bob" {
		t.Fatalf("IdentityFromContext = %q, want %q", got, "ed25519:bob")
	}
}

func TestCorrelationIDRoundTrip(t *testing.T) {
	ctx := WithCorrelationID(context.Background(), "corr-1")
	if got := CorrelationIDFromContext(ctx); got != "corr-1" {
		t.Fatalf("CorrelationIDFromContext = %q, want %q", got, "corr-1")
	}
}

func TestCorrelationIDFromContextNil(t *testing.T) {
	if got := CorrelationIDFromContext(nil); got != "" {
		t.Fatalf("expected empty string for nil context, got %q", got)
	}
}
