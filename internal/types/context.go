package types

import (
	"context"
)

// ActorType identifies the kind of caller making a request.
type ActorType string

const (
	ActorTypeUser      ActorType = "user"
	ActorTypeAnonymous ActorType = "anonymous"
)

// Actor represents the caller performing an operation. Anonymous callers have
// an empty ID.
type Actor struct {
	ID    string
	Type  ActorType
	Email string
}

// IsAnonymous reports whether the actor carries no resolved account.
func (a Actor) IsAnonymous() bool {
	return a.Type != ActorTypeUser || a.ID == ""
}

// AnonymousActor is stored in the context when a request carries no usable
// credential on a route that permits anonymous use.
var AnonymousActor = Actor{Type: ActorTypeAnonymous}

// Context Keys
type contextKey string

const (
	actorKey     contextKey = "actor"
	requestIDKey contextKey = "request_id"
)

// WithActor stores the Actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor retrieves the Actor from the context.
func GetActor(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorKey).(Actor)
	return actor, ok
}

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
