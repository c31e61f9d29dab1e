package domain

import (
	"time"
)

// User represents a registered account. The password hash never leaves the
// service: it is excluded from every JSON rendering of the entity.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ProfileUpdate carries a partial profile change. Nil fields are left
// untouched. Username and the password hash are deliberately absent: the
// former is immutable, the latter unreachable through profile updates.
type ProfileUpdate struct {
	Email     *string `json:"email,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

// Empty reports whether the update would change nothing.
func (p ProfileUpdate) Empty() bool {
	return p.Email == nil && p.FirstName == nil && p.LastName == nil
}
