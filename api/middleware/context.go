package middleware

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const principalKey ctxKey = iota

// Principal is the shopper a request acts for, as asserted by the access token.
type Principal struct {
	UserID  uuid.UUID
	TokenID string
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFromContext reports false when Auth did not run or the user is nil.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p.UserID == uuid.Nil {
		return Principal{}, false
	}
	return p, true
}
