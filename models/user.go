package models

import (
	"time"

	"github.com/google/uuid"
)

type UserRole string

const (
	RoleAdmin UserRole = "ADMIN"
	RoleOwner UserRole = "OWNER"
	RoleStaff UserRole = "STAFF"
)

// User is a portal account. The sync engine only reads users, to pick a
// default owner for properties first seen upstream.
type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	Role      UserRole  `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IsElevated reports whether the user can be assigned properties created by
// the sync engine.
func (u *User) IsElevated() bool {
	return u.Role == RoleAdmin || u.Role == RoleOwner
}
