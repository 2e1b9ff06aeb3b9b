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

// ChangeRequestFilter constrains change-request listings.
type ChangeRequestFilter struct {
	Status    models.ReviewStatus
	UserEmail string
}

// ChangeRequestRepository persists profile change requests.
type ChangeRequestRepository struct {
	db *sqlx.DB
}

// NewChangeRequestRepository constructs the repository.
func NewChangeRequestRepository(db *sqlx.DB) *ChangeRequestRepository {
	return &ChangeRequestRepository{db: db}
}

func (r *ChangeRequestRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a new pending change request.
func (r *ChangeRequestRepository) Create(ctx context.Context, exec sqlx.ExtContext, request *models.ChangeRequest) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	request.Status = models.StatusPending
	if request.RequestDate.IsZero() {
		request.RequestDate = time.Now().UTC()
	}
	const query = `INSERT INTO change_requests (id, user_email, field, old_value, new_value, reason, status, request_date)
	VALUES (:id, :user_email, :field, :old_value, :new_value, :reason, :status, :request_date)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, request); err != nil {
		return fmt.Errorf("create change request: %w", err)
	}
	return nil
}

// FindByID fetches a change request by identifier.
func (r *ChangeRequestRepository) FindByID(ctx context.Context, id string) (*models.ChangeRequest, error) {
	query := fmt.Sprintf("SELECT %s FROM change_requests WHERE id = $1", models.ChangeRequestColumns)
	var request models.ChangeRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns change requests matching the filter, newest first.
func (r *ChangeRequestRepository) List(ctx context.Context, filter ChangeRequestFilter) ([]models.ChangeRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 2)
	builder.WriteString(fmt.Sprintf("SELECT %s FROM change_requests", models.ChangeRequestColumns))

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
	builder.WriteString(" ORDER BY request_date DESC")

	var requests []models.ChangeRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	return requests, nil
}

// Review decides a pending change request and returns the stored row. Returns
// sql.ErrNoRows when the request is missing or already decided.
func (r *ChangeRequestRepository) Review(ctx context.Context, exec sqlx.ExtContext, params ReviewParams) (*models.ChangeRequest, error) {
	setParts := []string{"status = $1", "reviewed_by = $2", "reviewed_at = $3"}
	args := []interface{}{params.Status, params.ReviewedBy, params.ReviewedAt}
	if params.AdminResponse != nil {
		args = append(args, *params.AdminResponse)
		setParts = append(setParts, fmt.Sprintf("admin_response = $%d", len(args)))
	}
	if params.RejectionReason != nil {
		args = append(args, *params.RejectionReason)
		setParts = append(setParts, fmt.Sprintf("rejection_reason = $%d", len(args)))
	}
	args = append(args, params.ID)
	query := fmt.Sprintf("UPDATE change_requests SET %s WHERE id = $%d AND status = '%s' RETURNING %s",
		strings.Join(setParts, ", "), len(args), models.StatusPending, models.ChangeRequestColumns)

	var request models.ChangeRequest
	if err := sqlx.GetContext(ctx, r.exec(exec), &request, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("review change request: %w", err)
	}
	return &request, nil
}
