package model

import "time"

// Role distinguishes the two principals the engine serves.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// User represents an authenticated principal. Credential issuance lives
// in the auth service; everything downstream consumes only {ID, Role}.
type User struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// LoginRequest is the payload for a login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}
