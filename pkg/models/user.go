package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a platform-wide authorization level.
type Role string

const (
	RoleUser       Role = "user"
	RoleAdmin      Role = "admin"
	RoleSuperAdmin Role = "super_admin"
)

// User is the platform identity. PII never lands on disk as plaintext:
// EncryptedProfile is an opaque ciphertext blob produced by pkg/crypto,
// EmailLookupHash is a deterministic HMAC used for the unique-email lookup
// that would otherwise require storing the plaintext address (spec §6).
type User struct {
	ID               uuid.UUID  `json:"id" db:"id"`
	EmailLookupHash  string     `json:"-" db:"email_lookup_hash"`
	PasswordHash     string     `json:"-" db:"password_hash"`
	OAuthProvider    string     `json:"oauth_provider,omitempty" db:"oauth_provider"`
	OAuthSubject     string     `json:"-" db:"oauth_subject"`
	EncryptedProfile []byte     `json:"-" db:"encrypted_profile"`
	Role             Role       `json:"role" db:"role"`
	Active           bool       `json:"active" db:"active"`
	EmailVerified    bool       `json:"email_verified" db:"email_verified"`
	MFAEnabled       bool       `json:"mfa_enabled" db:"mfa_enabled"`
	MFASecret        []byte     `json:"-" db:"mfa_secret_encrypted"`
	DocsVerified     bool       `json:"docs_verified" db:"docs_verified"`
	OrganizationID   *uuid.UUID `json:"organization_id,omitempty" db:"organization_id"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// Profile is the decrypted shape stored (as ciphertext) in EncryptedProfile.
// Tolerates unknown fields on read per SPEC_FULL §10's dynamic-payload note.
type Profile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Session backs refresh-token rotation (spec §3, §9). RefreshTokenHash is
// overwritten atomically on every refresh; a lookup miss is treated as a
// possible replay and rejected with 401, never distinguished from "expired".
type Session struct {
	ID               uuid.UUID `json:"id" db:"id"`
	UserID           uuid.UUID `json:"user_id" db:"user_id"`
	RefreshTokenHash string    `json:"-" db:"refresh_token_hash"`
	ExpiresAt        time.Time `json:"expires_at" db:"expires_at"`
	LastAccessed     time.Time `json:"last_accessed" db:"last_accessed"`
	Active           bool      `json:"active" db:"active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
}

// RegisterRequest is the wire shape of POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required,min=1,max=200"`
	Phone    string `json:"phone,omitempty" binding:"omitempty,max=32"`
}

// LoginRequest is the wire shape of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse is returned by both /auth/login and a successful /auth/refresh.
type LoginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	User         *User  `json:"user,omitempty"`
}
