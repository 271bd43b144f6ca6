package users

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrConflict = errors.New("user already exists")
)

// User is a registered subject.
type User struct {
	ID        int64      `json:"id"`
	Username  string     `json:"username"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	SubjectNo string     `json:"subject_no"`
	KeyHash   string     `json:"-"`
	CardPath  string     `json:"card_path"`
	CreatedAt time.Time  `json:"created_at"`
	EmailedAt *time.Time `json:"emailed_at,omitempty"`
}

// NewUser carries the fields supplied at registration.
type NewUser struct {
	Username string
	Name     string
	Email    string
}
