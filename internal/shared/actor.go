package shared

import (
	"context"
	"fmt"
)

// Role enumerates the actor roles the auth collaborator issues.
type Role string

const (
	RoleManager   Role = "manager"
	RoleReception Role = "reception"
)

// Actor identifies the user performing an engine call.
type Actor struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// Name returns the denormalised display name stored on records.
func (a Actor) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Username
}

// IsManager reports whether the actor may run manager-only operations.
func (a Actor) IsManager() bool {
	return a.Role == RoleManager
}

// Validate checks the actor carries an identity and a known role.
func (a Actor) Validate() error {
	if a.ID <= 0 || a.Username == "" {
		return fmt.Errorf("%w: actor identity missing", ErrUnauthorized)
	}
	switch a.Role {
	case RoleManager, RoleReception:
		return nil
	default:
		return fmt.Errorf("%w: unknown role %q", ErrForbidden, a.Role)
	}
}

// RequireManager returns ErrForbidden unless the actor is a manager.
func RequireManager(a Actor) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if !a.IsManager() {
		return fmt.Errorf("%w: manager role required", ErrForbidden)
	}
	return nil
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
