package models

import "time"

// ChangeRequest asks an admin to overwrite one approved profile field.
type ChangeRequest struct {
	ID              string       `db:"id" json:"id"`
	UserEmail       string       `db:"user_email" json:"userEmail"`
	Field           string       `db:"field" json:"field"`
	OldValue        string       `db:"old_value" json:"oldValue"`
	NewValue        string       `db:"new_value" json:"newValue"`
	Reason          string       `db:"reason" json:"reason"`
	Status          ReviewStatus `db:"status" json:"status"`
	RequestDate     time.Time    `db:"request_date" json:"requestDate"`
	ReviewedAt      *time.Time   `db:"reviewed_at" json:"reviewedAt,omitempty"`
	ReviewedBy      *string      `db:"reviewed_by" json:"reviewedBy,omitempty"`
	AdminResponse   *string      `db:"admin_response" json:"adminResponse,omitempty"`
	RejectionReason *string      `db:"rejection_reason" json:"rejectionReason,omitempty"`
}

// ChangeRequestColumns lists every column of change_requests in select order.
const ChangeRequestColumns = `id, user_email, field, old_value, new_value, reason, status, request_date,
	reviewed_at, reviewed_by, admin_response, rejection_reason`

// changeRequestFieldColumns maps the labels shown to guardians onto profile columns.
var changeRequestFieldColumns = map[string]string{
	"Student Name":      "student_name",
	"Class":             "student_class",
	"School":            "school_name",
	"Pickup Location":   "pickup_location",
	"Drop Location":     "drop_location",
	"Guardian Name":     "guardian_name",
	"Guardian Phone":    "guardian_phone",
	"Guardian Email":    "guardian_email",
	"Alternate Phone":   "alternate_phone",
	"Emergency Contact": "emergency_contact",
}

// ProfileColumnForField resolves a change-request label to its profile column.
func ProfileColumnForField(label string) (string, bool) {
	column, ok := changeRequestFieldColumns[label]
	return column, ok
}

// ChangeRequestFields returns the accepted labels.
func ChangeRequestFields() []string {
	return []string{
		"Student Name", "Class", "School", "Pickup Location", "Drop Location",
		"Guardian Name", "Guardian Phone", "Guardian Email", "Alternate Phone", "Emergency Contact",
	}
}
