package auth

import (
	"context"
	"time"

	"csebu.org/internal/asset"
)

// UserStore persists accounts. Implementations return ErrNotFound for unknown
// ids and ErrConflict when the email is already taken.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context, f UserFilter) ([]User, int, error)
	UpdateProfile(ctx context.Context, id string, upd ProfileUpdate) (*User, error)
	SetAvatar(ctx context.Context, id string, a asset.Asset) (*User, error)
	SetRole(ctx context.Context, id string, role Role) (*User, error)
	SetStatus(ctx context.Context, id string, st StatusChange) (*User, error)
	SetPassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
}

// StatusChange is one approval-flow transition.
type StatusChange struct {
	Status          Status
	ApprovedAt      *time.Time
	RejectionReason string
}
