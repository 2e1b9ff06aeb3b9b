package models

import "time"

// Identity is an authenticated principal's credential record.
type Identity struct {
	ID            string     `db:"id" json:"id"`
	Email         string     `db:"email" json:"email"`
	PasswordHash  string     `db:"password_hash" json:"-"`
	EmailVerified bool       `db:"email_verified" json:"emailVerified"`
	Disabled      bool       `db:"disabled" json:"disabled"`
	LastLogin     *time.Time `db:"last_login" json:"lastLogin,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
}

// ActionCodePurpose separates verification codes from reset codes.
type ActionCodePurpose string

const (
	PurposeVerifyEmail   ActionCodePurpose = "verify_email"
	PurposeResetPassword ActionCodePurpose = "reset_password"
)

// ActionCode is a one-time out-of-band code mailed to an identity.
type ActionCode struct {
	Code       string            `db:"code"`
	IdentityID string            `db:"identity_id"`
	Purpose    ActionCodePurpose `db:"purpose"`
	ExpiresAt  time.Time         `db:"expires_at"`
	UsedAt     *time.Time        `db:"used_at"`
	CreatedAt  time.Time         `db:"created_at"`
}

// Principal is the currently authenticated identity.
type Principal struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"emailVerified"`
	Roles         []Role `json:"roles"`
}

// HasRole reports whether the principal holds role; an admin profile also opens the user and driver panels.
func (p *Principal) HasRole(role Role) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role || r == RoleAdmin {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal holds an admin profile.
func (p *Principal) IsAdmin() bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == RoleAdmin {
			return true
		}
	}
	return false
}
