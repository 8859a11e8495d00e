package accesscontrol

import (
	"context"
	"errors"
	"time"
)

type RoleName string

const (
	RoleAdmin RoleName = "admin"
	RoleUser  RoleName = "user"
)

var (
	ErrRoleNotFound       = errors.New("role not found")
	ErrAssignmentNotFound = errors.New("user does not hold role")
)

type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type UserRole struct {
	UserID     int64     `json:"user_id"`
	RoleID     int64     `json:"role_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

type Store interface {
	// AssignRole is a no-op when the user already holds the role.
	AssignRole(ctx context.Context, userID int64, role RoleName) error
	// RemoveRole returns ErrAssignmentNotFound when the user does not hold it.
	RemoveRole(ctx context.Context, userID int64, role RoleName) error
	GetUserRoles(ctx context.Context, userID int64) ([]Role, error)
	UserHasRole(ctx context.Context, userID int64, role RoleName) (bool, error)
	// LockRoleHolders locks every assignment of role for the rest of the
	// transaction and returns the holders' user ids.
	LockRoleHolders(ctx context.Context, role RoleName) ([]int64, error)
}
