package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// LoginRequest holds credentials for authenticating an identity.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	// Role selects the panel being signed into. An admin profile grants every panel.
	Role     Role   `json:"role" validate:"omitempty,oneof=user admin driver"`
}

// RegisterRequest creates a profile for one role, creating the identity when needed.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=6"`
	Name      string `json:"name" validate:"required"`
	Phone     string `json:"phone"`
	Role      Role   `json:"role" validate:"required,oneof=user admin driver"`
	AdminCode string `json:"adminCode"`

	LicenseNumber string `json:"licenseNumber"`
	VehicleNumber string `json:"vehicleNumber"`
	Experience    string `json:"experience"`
}

// ResetPasswordRequest payload for initiating the reset flow.
type ResetPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ConfirmResetPasswordRequest completes the reset flow.
type ConfirmResetPasswordRequest struct {
	Code        string `json:"code" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=6"`
}

// VerifyEmailRequest redeems a verification code.
type VerifyEmailRequest struct {
	Code string `json:"code" validate:"required"`
}

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Roles         []Role `json:"roles"`
	jwt.RegisteredClaims
}

// Principal converts claims to the principal they were issued for.
func (c *JWTClaims) Principal() *Principal {
	if c == nil {
		return nil
	}
	return &Principal{UID: c.UserID, Email: c.Email, EmailVerified: c.EmailVerified, Roles: c.Roles}
}

// Session is returned by login and registration.
type Session struct {
	AccessToken string        `json:"access_token"`
	ExpiresIn   int64         `json:"expires_in"`
	IssuedAt    time.Time     `json:"issued_at"`
	Principal   Principal     `json:"principal"`
	Profiles    []UserProfile `json:"profiles,omitempty"`
}
