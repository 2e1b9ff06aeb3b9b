package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ridesafe/ridesafe-api/internal/models"
)

// ProfileRepository persists per-role user profiles.
type ProfileRepository struct {
	db *sqlx.DB
}

// NewProfileRepository creates a new instance of ProfileRepository.
func NewProfileRepository(db *sqlx.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// ListByEmail returns every role profile registered for an email.
func (r *ProfileRepository) ListByEmail(ctx context.Context, email string) ([]models.UserProfile, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE email = $1 ORDER BY created_at", models.ProfileColumns)
	var profiles []models.UserProfile
	if err := r.db.SelectContext(ctx, &profiles, query, email); err != nil {
		return nil, fmt.Errorf("list profiles by email: %w", err)
	}
	return profiles, nil
}

// ListByIdentity returns the profiles owned by an identity.
func (r *ProfileRepository) ListByIdentity(ctx context.Context, uid string) ([]models.UserProfile, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE uid = $1 ORDER BY created_at", models.ProfileColumns)
	var profiles []models.UserProfile
	if err := r.db.SelectContext(ctx, &profiles, query, uid); err != nil {
		return nil, fmt.Errorf("list profiles by identity: %w", err)
	}
	return profiles, nil
}

// FindByID returns a profile by identifier.
func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*models.UserProfile, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE id = $1 LIMIT 1", models.ProfileColumns)
	var profile models.UserProfile
	if err := r.db.GetContext(ctx, &profile, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find profile by id: %w", err)
	}
	return &profile, nil
}

// FindByEmailAndRole returns the profile of one role for an email.
func (r *ProfileRepository) FindByEmailAndRole(ctx context.Context, email string, role models.Role) (*models.UserProfile, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE email = $1 AND role = $2 LIMIT 1", models.ProfileColumns)
	var profile models.UserProfile
	if err := r.db.GetContext(ctx, &profile, query, email, role); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find profile by email and role: %w", err)
	}
	return &profile, nil
}

// List returns profiles based on filters with total count.
func (r *ProfileRepository) List(ctx context.Context, filter models.ProfileFilter) ([]models.UserProfile, int, error) {
	baseQuery := `FROM users WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Role != "" {
		conditions = append(conditions, fmt.Sprintf("role = $%d", len(args)+1))
		args = append(args, filter.Role)
	}
	if filter.Verified != nil {
		conditions = append(conditions, fmt.Sprintf("email_verified = $%d", len(args)+1))
		args = append(args, *filter.Verified)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(email) LIKE $%d OR LOWER(name) LIKE $%d OR LOWER(student_name) LIKE $%d)", len(args)+1, len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", models.ProfileColumns, baseQuery, pageSize, offset)
	var profiles []models.UserProfile
	if err := r.db.SelectContext(ctx, &profiles, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list profiles: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) %s", baseQuery), args...); err != nil {
		return nil, 0, fmt.Errorf("count profiles: %w", err)
	}
	return profiles, total, nil
}

// Create inserts a new profile.
func (r *ProfileRepository) Create(ctx context.Context, exec sqlx.ExtContext, profile *models.UserProfile) error {
	if profile.ID == "" {
		profile.ID = uuid.NewString()
	}
	if profile.AdmissionStatus == "" {
		profile.AdmissionStatus = models.AdmissionNone
	}
	now := time.Now().UTC()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now

	const query = `INSERT INTO users (id, uid, email, role, name, phone, email_verified, admission_status,
	license_number, vehicle_number, experience, admin_code, created_at, updated_at)
	VALUES (:id, :uid, :email, :role, :name, :phone, :email_verified, :admission_status,
	:license_number, :vehicle_number, :experience, :admin_code, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, profile); err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

// UpdateFields writes a partial update to the profile with id and returns the stored row.
func (r *ProfileRepository) UpdateFields(ctx context.Context, exec sqlx.ExtContext, id string, fields models.ProfileFields) (*models.UserProfile, error) {
	return r.updateWhere(ctx, exec, fields, "id = $%d", id)
}

// UpdateFieldsByEmailRole writes a partial update to the (email, role) profile and returns the stored row.
// Returns sql.ErrNoRows when no such profile exists.
func (r *ProfileRepository) UpdateFieldsByEmailRole(ctx context.Context, exec sqlx.ExtContext, email string, role models.Role, fields models.ProfileFields) (*models.UserProfile, error) {
	return r.updateWhere(ctx, exec, fields, "email = $%d AND role = $%d", email, role)
}

// PromoteAdmissionStatus sets admission_status on the (email, role user) profile when its
// current status is one of from. Returns sql.ErrNoRows when nothing changed.
func (r *ProfileRepository) PromoteAdmissionStatus(ctx context.Context, exec sqlx.ExtContext, email string, status models.AdmissionStatus, from ...models.AdmissionStatus) (*models.UserProfile, error) {
	if len(from) == 0 {
		return nil, sql.ErrNoRows
	}
	args := []interface{}{status, time.Now().UTC(), email, models.RoleUser}
	placeholders := make([]string, len(from))
	for i, s := range from {
		args = append(args, s)
		placeholders[i] = fmt.Sprintf("$%d", len(args))
	}
	query := fmt.Sprintf(`UPDATE users SET admission_status = $1, updated_at = $2
	WHERE email = $3 AND role = $4 AND admission_status IN (%s) RETURNING %s`, strings.Join(placeholders, ","), models.ProfileColumns)
	var profile models.UserProfile
	if err := sqlx.GetContext(ctx, r.exec(exec), &profile, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("promote admission status: %w", err)
	}
	return &profile, nil
}

func (r *ProfileRepository) updateWhere(ctx context.Context, exec sqlx.ExtContext, fields models.ProfileFields, where string, whereArgs ...interface{}) (*models.UserProfile, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("update profile: no fields")
	}
	columns := make([]string, 0, len(fields))
	for column := range fields {
		if !models.IsUpdatableProfileColumn(column) {
			return nil, fmt.Errorf("update profile: column %q is not updatable", column)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	setParts := make([]string, 0, len(columns)+1)
	args := make([]interface{}, 0, len(columns)+1+len(whereArgs))
	for _, column := range columns {
		args = append(args, fields[column])
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	args = append(args, time.Now().UTC())
	setParts = append(setParts, fmt.Sprintf("updated_at = $%d", len(args)))

	positions := make([]interface{}, len(whereArgs))
	for i, arg := range whereArgs {
		args = append(args, arg)
		positions[i] = len(args)
	}
	query := fmt.Sprintf("UPDATE users SET %s WHERE %s RETURNING %s",
		strings.Join(setParts, ", "), fmt.Sprintf(where, positions...), models.ProfileColumns)

	var profile models.UserProfile
	if err := sqlx.GetContext(ctx, r.exec(exec), &profile, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return &profile, nil
}

// MarkVerified flags a single profile as verified.
func (r *ProfileRepository) MarkVerified(ctx context.Context, id string) error {
	const query = `UPDATE users SET email_verified = TRUE, updated_at = $2 WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark profile verified: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check mark verified rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkVerifiedByIdentity flags every profile of an identity as verified.
func (r *ProfileRepository) MarkVerifiedByIdentity(ctx context.Context, uid string) (int64, error) {
	const query = `UPDATE users SET email_verified = TRUE, updated_at = $2 WHERE uid = $1 AND email_verified = FALSE`
	result, err := r.db.ExecContext(ctx, query, uid, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("mark identity profiles verified: %w", err)
	}
	return result.RowsAffected()
}

// DeleteUnverified removes every unverified profile registered for an email.
func (r *ProfileRepository) DeleteUnverified(ctx context.Context, email string) (int64, error) {
	const query = `DELETE FROM users WHERE email = $1 AND email_verified = FALSE`
	result, err := r.db.ExecContext(ctx, query, email)
	if err != nil {
		return 0, fmt.Errorf("delete unverified profiles: %w", err)
	}
	return result.RowsAffected()
}
