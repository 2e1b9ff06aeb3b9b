package models

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// SyncEventType names the admin-triggered mutation recorded in the audit trail.
type SyncEventType string

const (
	SyncUserDataUpdated        SyncEventType = "user_data_updated"
	SyncAdmissionStatusChanged SyncEventType = "admission_status_changed"
	SyncChangeRequestSubmitted SyncEventType = "change_request_submitted"
	SyncChangeRequestApproved  SyncEventType = "change_request_approved"
	SyncChangeRequestRejected  SyncEventType = "change_request_rejected"
	SyncAdminActionPerformed   SyncEventType = "admin_action_performed"
)

// SyncEvent is an append-only audit record written with each admin batch.
type SyncEvent struct {
	ID         string         `db:"id" json:"id"`
	Type       SyncEventType  `db:"type" json:"type"`
	UserID     string         `db:"user_id" json:"userId"`
	UserEmail  string         `db:"user_email" json:"userEmail"`
	AdminEmail *string        `db:"admin_email" json:"adminEmail,omitempty"`
	Payload    types.JSONText `db:"payload" json:"data"`
	CreatedAt  time.Time      `db:"created_at" json:"timestamp"`
}
