// Package caller carries the identity of whoever asked a question through a
// request context. The identity is used for logging only; it never reaches a
// tool or the store.
package caller

import (
	"context"
	"strings"
)

type contextKey struct{}

// WithCaller returns a context carrying the caller ID (e.g. "http:jane@agency").
// A blank ID leaves ctx unchanged.
func WithCaller(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// From returns the caller ID from the context, or "" if not set.
func From(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(contextKey{}).(string)
	return s
}

// Qualify prefixes id with the channel it arrived on.
func Qualify(channel, id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if channel == "" {
		return id
	}
	return channel + ":" + id
}
