package models

import "time"

// User represents a row in the PostgreSQL users table.
type User struct {
	ID         int64     `json:"id"`
	Username   string    `json:"username"`
	Email      string    `json:"email"`
	Password   string    `json:"-"` // bcrypt hash, never serialize
	IsVerified bool      `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// ValidationCode is a one-time email verification code bound to a user.
// Several unexpired codes may coexist for the same user; lookups always
// take the most recently issued one.
type ValidationCode struct {
	ID        int64
	UserID    int64
	Token     string
	ExpiresAt time.Time
}

// RegisterRequest is the JSON body for POST /register.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// VerifyRequest is the JSON body for POST /verify.
type VerifyRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// LoginRequest is the JSON body for POST /login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ResendRequest is the JSON body for POST /resend-code.
type ResendRequest struct {
	Email string `json:"email"`
}

// Response is the envelope every auth endpoint answers with.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token,omitempty"`
	User    *User  `json:"user,omitempty"`
}
