package orgcontext

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// OrgContextKey is the request context key for the active organization ID.
type OrgContextKey struct{}

// ActorContextKey is the request context key for the acting principal.
type ActorContextKey struct{}

// WithOrgID stores the org ID in the context.
func WithOrgID(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, OrgContextKey{}, orgID)
}

// WithActorID stores the actor ID in the context. The auth layer upstream is
// trusted to have resolved it; this package only carries it.
func WithActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, ActorContextKey{}, strings.TrimSpace(actorID))
}

// OrgIDFromContext returns the org ID from context, if set.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	value := ctx.Value(OrgContextKey{})
	if value == nil {
		return 0, false
	}
	switch typed := value.(type) {
	case int64:
		return snowflake.ID(typed), true
	case snowflake.ID:
		return typed, true
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(typed))
		if err == nil {
			return parsed, true
		}
	}
	return 0, false
}

// ActorIDFromContext returns the actor ID from context, if set.
func ActorIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	actor, ok := ctx.Value(ActorContextKey{}).(string)
	if !ok || actor == "" {
		return "", false
	}
	return actor, true
}
