package models

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "lagerkoll/pkg/domain-errors"
)

const maxUsernameLength = 64

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleWorker Role = "worker"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleWorker
}

// User is an account that can sign in.
//
// Invariants:
//   - Username is non-empty, at most 64 characters and unique ignoring case
//   - Role is admin or worker
//   - PasswordHash is a bcrypt hash and never serialized
type User struct {
	ID           uuid.UUID `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewUser constructs a user, enforcing the invariants above.
func NewUser(id uuid.UUID, username, passwordHash string, role Role, now time.Time) (*User, error) {
	u := &User{
		ID:           id,
		Username:     strings.TrimSpace(username),
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := u.check(); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) check() error {
	switch {
	case u.Username == "":
		return dErrors.New(dErrors.CodeInvariantViolation, "username is required")
	case len(u.Username) > maxUsernameLength:
		return dErrors.New(dErrors.CodeInvariantViolation, "username must be at most 64 characters")
	case !u.Role.Valid():
		return dErrors.New(dErrors.CodeInvariantViolation, "role must be admin or worker")
	case u.PasswordHash == "":
		return dErrors.New(dErrors.CodeInvariantViolation, "password hash is required")
	}
	return nil
}

func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// Clone returns a copy safe to hand out of a store.
func (u *User) Clone() *User {
	c := *u
	return &c
}

type CreateUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

func (r *CreateUserRequest) Normalize() {
	r.Username = strings.TrimSpace(r.Username)
	r.Role = Role(strings.ToLower(strings.TrimSpace(string(r.Role))))
	if r.Role == "" {
		r.Role = RoleWorker
	}
}

func (r *CreateUserRequest) Validate() error {
	if r.Username == "" {
		return dErrors.New(dErrors.CodeValidation, "username is required")
	}
	if len(r.Username) > maxUsernameLength {
		return dErrors.New(dErrors.CodeValidation, "username must be at most 64 characters")
	}
	if r.Password == "" {
		return dErrors.New(dErrors.CodeValidation, "password is required")
	}
	if !r.Role.Valid() {
		return dErrors.New(dErrors.CodeValidation, "role must be admin or worker")
	}
	return nil
}

// UpdateUserRequest is a partial update; nil fields are left unchanged.
type UpdateUserRequest struct {
	Username *string `json:"username,omitempty"`
	Password *string `json:"password,omitempty"`
	Role     *Role   `json:"role,omitempty"`
}

func (r *UpdateUserRequest) Normalize() {
	if r.Username != nil {
		v := strings.TrimSpace(*r.Username)
		r.Username = &v
	}
	if r.Role != nil {
		v := Role(strings.ToLower(strings.TrimSpace(string(*r.Role))))
		r.Role = &v
	}
}

func (r *UpdateUserRequest) Validate() error {
	if r.Username == nil && r.Password == nil && r.Role == nil {
		return dErrors.New(dErrors.CodeValidation, "nothing to update")
	}
	if r.Username != nil && (*r.Username == "" || len(*r.Username) > maxUsernameLength) {
		return dErrors.New(dErrors.CodeValidation, "username must be 1-64 characters")
	}
	if r.Role != nil && !r.Role.Valid() {
		return dErrors.New(dErrors.CodeValidation, "role must be admin or worker")
	}
	return nil
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      *User     `json:"user"`
}
