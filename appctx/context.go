package appctx

import "context"

// ContextKey is the shared type for all context keys in this codebase.
// Keeping it in a tiny package avoids import cycles (config <-> utils).
type ContextKey string

func (c ContextKey) String() string { return string(c) }

var (
	ContextKeyToken         = ContextKey("Token")
	ContextKeyUsername      = ContextKey("Username")
	ContextKeyUserId        = ContextKey("UserId")
	ContextKeyUserName      = ContextKey("UserName")
	ContextKeyPrisonId      = ContextKey("PrisonId")
	ContextKeyCorrelationId = ContextKey("CorrelationId")

	// ContextKeySource records where a mutation originated (legacy sync,
	// local authoring, migration backfill). Stamped into every audit fact
	// and domain event built under this context.
	ContextKeySource = ContextKey("Source")

	// ContextKeyIsAdmin is true for platform admins. Used for prison-scope bypass.
	ContextKeyIsAdmin = ContextKey("IsAdmin")

	// ContextKeySkipPrisonScope forces prison scoping to be disabled for the request.
	// Use sparingly (internal ops only).
	ContextKeySkipPrisonScope = ContextKey("SkipPrisonScope")
)

func GetString(ctx context.Context, key ContextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetBool(ctx context.Context, key ContextKey) (bool, bool) {
	v, ok := ctx.Value(key).(bool)
	return v, ok
}

func GetInt(ctx context.Context, key ContextKey) (int, bool) {
	v, ok := ctx.Value(key).(int)
	return v, ok
}

func Set(ctx context.Context, key ContextKey, value any) context.Context {
	return context.WithValue(ctx, key, value)
}
