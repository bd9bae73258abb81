package auth

import (
	"context"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
)

type resolutionKey struct{}

// WithResolution stores a resolved identity on ctx.
func WithResolution(ctx context.Context, res *Resolution) context.Context {
	return context.WithValue(ctx, resolutionKey{}, res)
}

// ResolutionFromContext returns the identity resolved for this request.
func ResolutionFromContext(ctx context.Context) (*Resolution, bool) {
	res, ok := ctx.Value(resolutionKey{}).(*Resolution)
	return res, ok && res != nil
}

// UserFromContext returns the caller's identity.
func UserFromContext(ctx context.Context) (domain.AuthUser, bool) {
	res, ok := ResolutionFromContext(ctx)
	if !ok {
		return domain.AuthUser{}, false
	}
	return res.User, true
}
