package graph

import (
	"context"
	"strings"
)

type contextKey string

const sessionTokenKey contextKey = "gatehouse.session_token"

// WithSessionToken stores the inbound session identifier on the context. The
// transport layer resolves it from the Authorization header or cookie; the
// domain services below receive it as an explicit argument.
func WithSessionToken(ctx context.Context, token string) context.Context {
	token = strings.TrimSpace(token)
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, sessionTokenKey, token)
}

// SessionTokenFrom extracts the inbound session identifier, if any.
func SessionTokenFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	token, _ := ctx.Value(sessionTokenKey).(string)
	return token
}
