// Package requestctx carries per-request values across transport boundaries.
package requestctx

import "context"

// identityContextKey is the context key for the authenticated participant.
type identityContextKey struct{}

// correlationContextKey is the context key for the request correlation id.
type correlationContextKey struct{}

// WithIdentity stores a participant identity in context.
func WithIdentity(ctx context.Context, identity string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext returns the participant identity stored in context.
func IdentityFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(identityContextKey{}).(string)
	return value
}

// WithCorrelationID stores a correlation id in context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, correlationContextKey{}, id)
}

// CorrelationIDFromContext returns the correlation id stored in context.
func CorrelationIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(correlationContextKey{}).(string)
	return value
}
