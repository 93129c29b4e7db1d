package access

import "context"

// Actor identifies the caller of a core operation. The identity collaborator
// (HTTP middleware) resolves it; the core never authenticates.
type Actor struct {
	UserID string
	Role   Role
}

type actorContextKey struct{}

// ContextWithActor attaches the resolved actor to the context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from the context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	v, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || v.UserID == "" {
		return Actor{}, false
	}
	return v, true
}
