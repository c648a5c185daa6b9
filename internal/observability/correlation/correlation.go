// Package correlation propagates a per-request correlation ID through
// context so logs, traces, and provider calls can be stitched together.
package correlation

import (
	"context"

	"github.com/oklog/ulid/v2"
)

type correlationKey struct{}

// FromContext fetches the correlation ID from the context if present.
func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(correlationKey{}).(string); ok {
		return value
	}
	return ""
}

// WithID sets the correlation ID onto the context.
func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// Ensure guarantees a correlation ID on the context, generating one
// when missing.
func Ensure(ctx context.Context) (context.Context, string) {
	id := FromContext(ctx)
	if id == "" {
		id = ulid.Make().String()
	}
	return WithID(ctx, id), id
}
