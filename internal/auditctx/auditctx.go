// Package auditctx carries the request actor from the HTTP edge down to the audit log.
package auditctx

import "context"

// Actor is who performed a request and from where.
type Actor struct {
	UserID    string
	Email     string
	IPAddress string
	UserAgent string
}

type actorKey struct{}

// WithActor returns ctx carrying actor. A nil ctx is treated as context.Background.
func WithActor(ctx context.Context, actor Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey{}, actor)
}

// FromContext returns the actor stored by WithActor, if any.
func FromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorKey{}).(Actor)
	return actor, ok
}
