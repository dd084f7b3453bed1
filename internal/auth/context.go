package auth

import "context"

type actorContextKey struct{}

// ContextWithActor attaches the resolved actor to the context.
func ContextWithActor(ctx context.Context, actor *Actor) context.Context {
	if actor == nil {
		actor = &Actor{}
	}
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the resolved actor; an anonymous actor is
// returned when none was attached.
func ActorFromContext(ctx context.Context) *Actor {
	if ctx == nil {
		return &Actor{}
	}
	v, ok := ctx.Value(actorContextKey{}).(*Actor)
	if !ok || v == nil {
		return &Actor{}
	}
	return v
}
