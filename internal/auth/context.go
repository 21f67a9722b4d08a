package auth

import (
	"context"
	"strings"
)

type voterKeyContextKey struct{}

// ContextWithVoterKey attaches the authenticated voter key to the context.
// Only the issuer ever populates this; the recorder has no voter identity.
func ContextWithVoterKey(ctx context.Context, voterKey string) context.Context {
	voterKey = strings.TrimSpace(voterKey)
	if voterKey == "" {
		return ctx
	}
	return context.WithValue(ctx, voterKeyContextKey{}, voterKey)
}

// VoterKeyFromContext extracts the authenticated voter key from the context.
func VoterKeyFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(voterKeyContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
