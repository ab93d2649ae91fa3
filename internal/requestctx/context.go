// Package requestctx provides request-scoped values (e.g. owner_id) set by middleware.
package requestctx

import "context"

type contextKey struct{}

var ownerIDKey = &contextKey{}

// SetOwnerID stores owner_id in the context.
func SetOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// OwnerID returns the owner_id from context, or "" if not set.
func OwnerID(ctx context.Context) string {
	v, _ := ctx.Value(ownerIDKey).(string)
	return v
}
