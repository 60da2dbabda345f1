// internal/reqctx/reqctx.go
package reqctx

import (
	"context"

	"wattmate/internal/models"
)

type key int

const (
	keyRequestID key = iota
	keyUser
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

func GetRequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyRequestID).(string)
	return v, ok
}

// WithUser attaches the identity resolved from a verified access token.
func WithUser(ctx context.Context, u *models.User) context.Context {
	return context.WithValue(ctx, keyUser, u)
}

func GetUser(ctx context.Context) (*models.User, bool) {
	v, ok := ctx.Value(keyUser).(*models.User)
	return v, ok && v != nil
}

func GetUserID(ctx context.Context) (int64, bool) {
	u, ok := GetUser(ctx)
	if !ok {
		return 0, false
	}
	return u.ID, true
}
