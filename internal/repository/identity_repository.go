package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ridesafe/ridesafe-api/internal/models"
)

const identityColumns = `id, email, password_hash, email_verified, disabled, last_login, created_at, updated_at`

// IdentityRepository stores credentials and one-time action codes.
type IdentityRepository struct {
	db *sqlx.DB
}

// NewIdentityRepository creates a new instance of IdentityRepository.
func NewIdentityRepository(db *sqlx.DB) *IdentityRepository {
	return &IdentityRepository{db: db}
}

// FindByEmail returns an identity by email address.
func (r *IdentityRepository) FindByEmail(ctx context.Context, email string) (*models.Identity, error) {
	query := fmt.Sprintf("SELECT %s FROM identities WHERE email = $1 LIMIT 1", identityColumns)
	var identity models.Identity
	if err := r.db.GetContext(ctx, &identity, query, strings.ToLower(email)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find identity by email: %w", err)
	}
	return &identity, nil
}

// FindByID returns an identity by identifier.
func (r *IdentityRepository) FindByID(ctx context.Context, id string) (*models.Identity, error) {
	query := fmt.Sprintf("SELECT %s FROM identities WHERE id = $1 LIMIT 1", identityColumns)
	var identity models.Identity
	if err := r.db.GetContext(ctx, &identity, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find identity by id: %w", err)
	}
	return &identity, nil
}

// Create inserts a new identity.
func (r *IdentityRepository) Create(ctx context.Context, identity *models.Identity) error {
	if identity.ID == "" {
		identity.ID = uuid.NewString()
	}
	identity.Email = strings.ToLower(identity.Email)
	now := time.Now().UTC()
	if identity.CreatedAt.IsZero() {
		identity.CreatedAt = now
	}
	identity.UpdatedAt = now
	const query = `INSERT INTO identities (id, email, password_hash, email_verified, disabled, created_at, updated_at)
	VALUES (:id, :email, :password_hash, :email_verified, :disabled, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, identity); err != nil {
		return fmt.Errorf("create identity: %w", err)
	}
	return nil
}

// UpdateLastLogin updates the last_login timestamp.
func (r *IdentityRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	const query = `UPDATE identities SET last_login = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, ts, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword updates the stored password hash.
func (r *IdentityRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, passwordHash, updatedAt); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

// MarkVerified flags the identity's email as verified.
func (r *IdentityRepository) MarkVerified(ctx context.Context, id string, updatedAt time.Time) error {
	const query = `UPDATE identities SET email_verified = TRUE, updated_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, updatedAt); err != nil {
		return fmt.Errorf("mark identity verified: %w", err)
	}
	return nil
}

// CreateActionCode persists a one-time code.
func (r *IdentityRepository) CreateActionCode(ctx context.Context, code *models.ActionCode) error {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO action_codes (code, identity_id, purpose, expires_at, created_at)
	VALUES (:code, :identity_id, :purpose, :expires_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, code); err != nil {
		return fmt.Errorf("create action code: %w", err)
	}
	return nil
}

// FindActionCode returns a stored code.
func (r *IdentityRepository) FindActionCode(ctx context.Context, code string) (*models.ActionCode, error) {
	const query = `SELECT code, identity_id, purpose, expires_at, used_at, created_at FROM action_codes WHERE code = $1`
	var actionCode models.ActionCode
	if err := r.db.GetContext(ctx, &actionCode, query, code); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find action code: %w", err)
	}
	return &actionCode, nil
}

// UseActionCode marks an unused code as used. Reports false when it was used already.
func (r *IdentityRepository) UseActionCode(ctx context.Context, code string, usedAt time.Time) (bool, error) {
	const query = `UPDATE action_codes SET used_at = $2 WHERE code = $1 AND used_at IS NULL`
	result, err := r.db.ExecContext(ctx, query, code, usedAt)
	if err != nil {
		return false, fmt.Errorf("use action code: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check action code rows: %w", err)
	}
	return rows > 0, nil
}
