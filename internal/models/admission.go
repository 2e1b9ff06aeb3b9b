package models

import "time"

// ReviewStatus is the workflow state of admission forms and change requests.
type ReviewStatus string

const (
	StatusPending  ReviewStatus = "pending"
	StatusApproved ReviewStatus = "approved"
	StatusRejected ReviewStatus = "rejected"
)

// Valid reports whether s is a known status.
func (s ReviewStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// AdmissionForm is a guardian's application for transport service.
type AdmissionForm struct {
	ID                  string       `db:"id" json:"id"`
	UserEmail           string       `db:"user_email" json:"userEmail"`
	StudentName         string       `db:"student_name" json:"studentName"`
	StudentClass        string       `db:"student_class" json:"studentClass"`
	SchoolName          string       `db:"school_name" json:"schoolName"`
	PickupLocation      string       `db:"pickup_location" json:"pickupLocation"`
	DropLocation        string       `db:"drop_location" json:"dropLocation"`
	GuardianName        string       `db:"guardian_name" json:"guardianName"`
	GuardianPhone       string       `db:"guardian_phone" json:"guardianPhone"`
	GuardianEmail       string       `db:"guardian_email" json:"guardianEmail"`
	AlternatePhone      string       `db:"alternate_phone" json:"alternatePhone"`
	EmergencyContact    string       `db:"emergency_contact" json:"emergencyContact,omitempty"`
	MedicalConditions   string       `db:"medical_conditions" json:"medicalConditions,omitempty"`
	SpecialRequirements string       `db:"special_requirements" json:"specialRequirements,omitempty"`
	Status              ReviewStatus `db:"status" json:"status"`
	SubmittedAt         time.Time    `db:"submitted_at" json:"submittedAt"`
	ReviewedAt          *time.Time   `db:"reviewed_at" json:"reviewedAt,omitempty"`
	ReviewedBy          *string      `db:"reviewed_by" json:"reviewedBy,omitempty"`
	AdminResponse       *string      `db:"admin_response" json:"adminResponse,omitempty"`
	MonthlyAmount       *float64     `db:"monthly_amount" json:"monthlyAmount,omitempty"`
	RejectionReason     *string      `db:"rejection_reason" json:"rejectionReason,omitempty"`
}

// AdmissionColumns lists every column of admission_forms in select order.
const AdmissionColumns = `id, user_email, student_name, student_class, school_name, pickup_location, drop_location,
	guardian_name, guardian_phone, guardian_email, alternate_phone, emergency_contact, medical_conditions,
	special_requirements, status, submitted_at, reviewed_at, reviewed_by, admin_response, monthly_amount, rejection_reason`

// ApprovedProfileFields returns the fields an approval copies onto the guardian profile.
func (f *AdmissionForm) ApprovedProfileFields(monthlyAmount float64, adminResponse string) ProfileFields {
	return ProfileFields{
		"admission_status":     string(AdmissionApproved),
		"monthly_amount":       monthlyAmount,
		"admin_response":       adminResponse,
		"student_name":         f.StudentName,
		"student_class":        f.StudentClass,
		"school_name":          f.SchoolName,
		"pickup_location":      f.PickupLocation,
		"drop_location":        f.DropLocation,
		"guardian_name":        f.GuardianName,
		"guardian_phone":       f.GuardianPhone,
		"guardian_email":       f.GuardianEmail,
		"alternate_phone":      f.AlternatePhone,
		"emergency_contact":    f.EmergencyContact,
		"medical_conditions":   f.MedicalConditions,
		"special_requirements": f.SpecialRequirements,
	}
}

// AdminStats is the derived admin dashboard aggregate.
type AdminStats struct {
	TotalUsers            int     `json:"totalUsers"`
	PendingAdmissions     int     `json:"pendingAdmissions"`
	ApprovedAdmissions    int     `json:"approvedAdmissions"`
	RejectedAdmissions    int     `json:"rejectedAdmissions"`
	PendingChangeRequests int     `json:"pendingChangeRequests"`
	TotalRevenue          float64 `json:"totalRevenue"`
}
