package gateway

import "context"

// origin says where a request came from. The read loop attaches it so
// method handlers can stamp calls without seeing the connection.
type origin struct {
	clientID       string
	idempotencyKey string // per request, from the envelope
}

type originKey struct{}

func withOrigin(ctx context.Context, o origin) context.Context {
	return context.WithValue(ctx, originKey{}, o)
}

func originFrom(ctx context.Context) origin {
	o, _ := ctx.Value(originKey{}).(origin)
	return o
}

func withIdempotency(ctx context.Context, key string) context.Context {
	if key == "" {
		return ctx
	}
	o := originFrom(ctx)
	o.idempotencyKey = key
	return withOrigin(ctx, o)
}
