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

// AdmissionFilter constrains admission listings.
type AdmissionFilter struct {
	Status    models.ReviewStatus
	UserEmail string
	Limit     int
}

// ReviewParams groups the columns written when a pending item is decided.
type ReviewParams struct {
	ID              string
	Status          models.ReviewStatus
	ReviewedBy      string
	ReviewedAt      time.Time
	AdminResponse   *string
	MonthlyAmount   *float64
	RejectionReason *string
}

// AdmissionRepository persists admission forms.
type AdmissionRepository struct {
	db *sqlx.DB
}

// NewAdmissionRepository constructs the repository.
func NewAdmissionRepository(db *sqlx.DB) *AdmissionRepository {
	return &AdmissionRepository{db: db}
}

func (r *AdmissionRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new pending admission form.
func (r *AdmissionRepository) Create(ctx context.Context, exec sqlx.ExtContext, form *models.AdmissionForm) error {
	if form.ID == "" {
		form.ID = uuid.NewString()
	}
	form.Status = models.StatusPending
	if form.SubmittedAt.IsZero() {
		form.SubmittedAt = time.Now().UTC()
	}
	const query = `INSERT INTO admission_forms
	(id, user_email, student_name, student_class, school_name, pickup_location, drop_location, guardian_name,
	 guardian_phone, guardian_email, alternate_phone, emergency_contact, medical_conditions, special_requirements,
	 status, submitted_at)
	VALUES (:id, :user_email, :student_name, :student_class, :school_name, :pickup_location, :drop_location, :guardian_name,
	 :guardian_phone, :guardian_email, :alternate_phone, :emergency_contact, :medical_conditions, :special_requirements,
	 :status, :submitted_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, form); err != nil {
		return fmt.Errorf("create admission form: %w", err)
	}
	return nil
}

// FindByID fetches an admission form by identifier.
func (r *AdmissionRepository) FindByID(ctx context.Context, id string) (*models.AdmissionForm, error) {
	query := fmt.Sprintf("SELECT %s FROM admission_forms WHERE id = $1", models.AdmissionColumns)
	var form models.AdmissionForm
	if err := r.db.GetContext(ctx, &form, query, id); err != nil {
		return nil, err
	}
	return &form, nil
}

// LatestByEmail returns the most recently submitted form of a guardian.
func (r *AdmissionRepository) LatestByEmail(ctx context.Context, email string) (*models.AdmissionForm, error) {
	query := fmt.Sprintf("SELECT %s FROM admission_forms WHERE user_email = $1 ORDER BY submitted_at DESC LIMIT 1", models.AdmissionColumns)
	var form models.AdmissionForm
	if err := r.db.GetContext(ctx, &form, query, email); err != nil {
		return nil, err
	}
	return &form, nil
}

// List returns admission forms matching the filter, newest first.
func (r *AdmissionRepository) List(ctx context.Context, filter AdmissionFilter) ([]models.AdmissionForm, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 2)
	builder.WriteString(fmt.Sprintf("SELECT %s FROM admission_forms", models.AdmissionColumns))

	conditions := make([]string, 0, 2)
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.UserEmail != "" {
		args = append(args, filter.UserEmail)
		conditions = append(conditions, fmt.Sprintf("user_email = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY submitted_at DESC")
	if filter.Limit > 0 {
		builder.WriteString(fmt.Sprintf(" LIMIT %d", filter.Limit))
	}

	var forms []models.AdmissionForm
	if err := r.db.SelectContext(ctx, &forms, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list admission forms: %w", err)
	}
	return forms, nil
}

// Review decides a pending form and returns the stored row. Returns sql.ErrNoRows when
// the form is missing or already decided.
func (r *AdmissionRepository) Review(ctx context.Context, exec sqlx.ExtContext, params ReviewParams) (*models.AdmissionForm, error) {
	setParts := []string{"status = $1", "reviewed_by = $2", "reviewed_at = $3"}
	args := []interface{}{params.Status, params.ReviewedBy, params.ReviewedAt}
	if params.AdminResponse != nil {
		args = append(args, *params.AdminResponse)
		setParts = append(setParts, fmt.Sprintf("admin_response = $%d", len(args)))
	}
	if params.MonthlyAmount != nil {
		args = append(args, *params.MonthlyAmount)
		setParts = append(setParts, fmt.Sprintf("monthly_amount = $%d", len(args)))
	}
	if params.RejectionReason != nil {
		args = append(args, *params.RejectionReason)
		setParts = append(setParts, fmt.Sprintf("rejection_reason = $%d", len(args)))
	}
	args = append(args, params.ID)
	query := fmt.Sprintf("UPDATE admission_forms SET %s WHERE id = $%d AND status = '%s' RETURNING %s",
		strings.Join(setParts, ", "), len(args), models.StatusPending, models.AdmissionColumns)

	var form models.AdmissionForm
	if err := sqlx.GetContext(ctx, r.exec(exec), &form, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("review admission form: %w", err)
	}
	return &form, nil
}
