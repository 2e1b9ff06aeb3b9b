package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ridesafe/ridesafe-api/internal/models"
)

// AdminCodeRepository persists admin invitation codes.
type AdminCodeRepository struct {
	db *sqlx.DB
}

// NewAdminCodeRepository constructs the repository.
func NewAdminCodeRepository(db *sqlx.DB) *AdminCodeRepository {
	return &AdminCodeRepository{db: db}
}

// FindByCode fetches one code.
func (r *AdminCodeRepository) FindByCode(ctx context.Context, code string) (*models.AdminCode, error) {
	const query = `SELECT code, is_active, created_by, created_at, used_by, used_at FROM admin_codes WHERE code = $1`
	var adminCode models.AdminCode
	if err := r.db.GetContext(ctx, &adminCode, query, code); err != nil {
		return nil, err
	}
	return &adminCode, nil
}

// List returns every code, newest first.
func (r *AdminCodeRepository) List(ctx context.Context) ([]models.AdminCode, error) {
	const query = `SELECT code, is_active, created_by, created_at, used_by, used_at FROM admin_codes ORDER BY created_at DESC`
	var codes []models.AdminCode
	if err := r.db.SelectContext(ctx, &codes, query); err != nil {
		return nil, fmt.Errorf("list admin codes: %w", err)
	}
	return codes, nil
}

// Count returns the registry size.
func (r *AdminCodeRepository) Count(ctx context.Context) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM admin_codes`); err != nil {
		return 0, fmt.Errorf("count admin codes: %w", err)
	}
	return total, nil
}

// Upsert stores a code as active, reactivating an existing entry.
func (r *AdminCodeRepository) Upsert(ctx context.Context, code *models.AdminCode) error {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}
	code.IsActive = true
	const query = `INSERT INTO admin_codes (code, is_active, created_by, created_at)
	VALUES (:code, :is_active, :created_by, :created_at)
	ON CONFLICT (code) DO UPDATE SET is_active = TRUE, created_by = EXCLUDED.created_by, created_at = EXCLUDED.created_at, used_by = NULL, used_at = NULL`
	if _, err := r.db.NamedExecContext(ctx, query, code); err != nil {
		return fmt.Errorf("upsert admin code: %w", err)
	}
	return nil
}

// InsertMissing seeds codes that are not stored yet in one transaction.
func (r *AdminCodeRepository) InsertMissing(ctx context.Context, codes []models.AdminCode) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed admin codes: %w", err)
	}
	const query = `INSERT INTO admin_codes (code, is_active, created_by, created_at)
	VALUES (:code, :is_active, :created_by, :created_at) ON CONFLICT (code) DO NOTHING`
	for i := range codes {
		if codes[i].CreatedAt.IsZero() {
			codes[i].CreatedAt = time.Now().UTC()
		}
		if _, err := tx.NamedExecContext(ctx, query, &codes[i]); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("seed admin code %s: %w", codes[i].Code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed admin codes: %w", err)
	}
	return nil
}

// Deactivate marks a code inactive. Reports whether a row changed.
func (r *AdminCodeRepository) Deactivate(ctx context.Context, code string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `UPDATE admin_codes SET is_active = FALSE WHERE code = $1`, code)
	if err != nil {
		return false, fmt.Errorf("deactivate admin code: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check deactivate rows: %w", err)
	}
	return rows > 0, nil
}

// Consume marks an active code used. Reports false when the code is unknown or already inactive.
func (r *AdminCodeRepository) Consume(ctx context.Context, code, usedBy string, usedAt time.Time) (bool, error) {
	const query = `UPDATE admin_codes SET is_active = FALSE, used_by = $2, used_at = $3 WHERE code = $1 AND is_active = TRUE`
	result, err := r.db.ExecContext(ctx, query, code, usedBy, usedAt)
	if err != nil {
		return false, fmt.Errorf("consume admin code: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check consume rows: %w", err)
	}
	return rows > 0, nil
}
