package auth

import (
	"context"
	"errors"
)

type Role string

const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleAdmin   Role = "admin"
)

func ParseRole(raw string) (Role, error) {
	switch r := Role(raw); r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return r, nil
	}
	return "", ErrInvalidCredential
}

var (
	ErrMissingCredential = errors.New("missing credential")
	ErrInvalidCredential = errors.New("invalid credential")
)

// Principal is the authenticated caller. UserID refers to users.user_id;
// handlers resolve it to a patient or doctor row as needed.
type Principal struct {
	UserID   int64
	Role     Role
	Verified bool
}

func (p Principal) Is(role Role) bool {
	return p.Role == role
}

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}
