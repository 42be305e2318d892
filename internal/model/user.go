package model

import "time"

// User represents an account as stored in the `users` table. The
// struct is used by the repository layer only; handlers expose a
// reduced projection.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Email        – unique, lower-cased email address.
//  PasswordHash – bcrypt hashed password.
//  Role         – CUSTOMER or ADMIN.
//  IsActive     – whether the account may sign in.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// Actor is the authenticated caller of an engine operation.
type Actor struct {
	UserID uint64
	Role   string
}

// IsAdmin reports whether the actor has administrative rights.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Owns reports whether the actor may act on a resource owned by userID.
func (a Actor) Owns(userID uint64) bool { return a.IsAdmin() || a.UserID == userID }
