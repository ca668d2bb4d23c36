package auth

import "context"

// Actor is whoever a search or index operation runs on behalf of. The zero
// value is the anonymous visitor.
type Actor struct {
	UserID   string
	Name     string
	Sysadmin bool
	// PlatformToken is forwarded to the host platform on dataset searches
	// so that its own visibility rules apply.
	PlatformToken string
}

// Anonymous reports whether no user is attached.
func (a Actor) Anonymous() bool {
	return a.UserID == ""
}

// ActorFromClaims builds the actor a verified token speaks for.
func ActorFromClaims(c Claims) Actor {
	return Actor{UserID: c.Sub, Name: c.Name, Sysadmin: c.Role == RoleSysadmin}
}

type actorKey struct{}

// WithActor attaches a to ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor attached to ctx, or the anonymous actor.
func ActorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a
}
