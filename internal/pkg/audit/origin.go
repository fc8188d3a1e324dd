package audit

import "context"

// Origin identifies who triggered a mutation and from where
type Origin struct {
	ActorID   *uint
	IP        string
	UserAgent string
}

type originKey struct{}

// WithOrigin attaches the request origin to ctx
func WithOrigin(ctx context.Context, o Origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

// OriginFrom returns the origin stored in ctx, or an empty origin
func OriginFrom(ctx context.Context) Origin {
	if ctx == nil {
		return Origin{}
	}
	if o, ok := ctx.Value(originKey{}).(Origin); ok {
		return o
	}
	return Origin{}
}
