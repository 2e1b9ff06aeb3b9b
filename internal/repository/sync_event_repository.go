package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"

	"github.com/ridesafe/ridesafe-api/internal/models"
)

// SyncEventRepository appends audit events for admin-triggered writes.
type SyncEventRepository struct {
	db *sqlx.DB
}

// NewSyncEventRepository constructs the repository.
func NewSyncEventRepository(db *sqlx.DB) *SyncEventRepository {
	return &SyncEventRepository{db: db}
}

// Insert appends an event using exec, falling back to the pool.
func (r *SyncEventRepository) Insert(ctx context.Context, exec sqlx.ExtContext, event *models.SyncEvent) error {
	if exec == nil {
		exec = r.db
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if len(event.Payload) == 0 {
		event.Payload = types.JSONText(`{}`)
	}
	const query = `INSERT INTO sync_events (id, type, user_id, user_email, admin_email, payload, created_at)
	VALUES (:id, :type, :user_id, :user_email, :admin_email, :payload, :created_at)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, event); err != nil {
		return fmt.Errorf("insert sync event: %w", err)
	}
	return nil
}
