package models

import "time"

// AdminCode is an invitation code gating admin self-registration.
type AdminCode struct {
	Code      string     `db:"code" json:"code"`
	IsActive  bool       `db:"is_active" json:"isActive"`
	CreatedBy string     `db:"created_by" json:"createdBy"`
	CreatedAt time.Time  `db:"created_at" json:"createdAt"`
	UsedBy    *string    `db:"used_by" json:"usedBy,omitempty"`
	UsedAt    *time.Time `db:"used_at" json:"usedAt,omitempty"`
}
