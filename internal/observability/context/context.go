// Package context carries request-scoped correlation identifiers.
package context

import "context"

type requestIDKey struct{}
type accountIDKey struct{}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if value, ok := ctx.Value(requestIDKey{}).(string); ok {
		return value
	}
	return ""
}

func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey{}, accountID)
}

func AccountIDFromContext(ctx context.Context) string {
	if value, ok := ctx.Value(accountIDKey{}).(string); ok {
		return value
	}
	return ""
}
