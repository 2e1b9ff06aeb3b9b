package dto

import "github.com/ridesafe/ridesafe-api/internal/models"

// SubmitAdmissionRequest is the guardian's admission application.
type SubmitAdmissionRequest struct {
	StudentName         string `json:"studentName" validate:"required"`
	StudentClass        string `json:"studentClass" validate:"required"`
	SchoolName          string `json:"schoolName" validate:"required"`
	PickupLocation      string `json:"pickupLocation" validate:"required"`
	DropLocation        string `json:"dropLocation" validate:"required"`
	GuardianName        string `json:"guardianName" validate:"required"`
	GuardianPhone       string `json:"guardianPhone" validate:"required"`
	GuardianEmail       string `json:"guardianEmail" validate:"required,email"`
	AlternatePhone      string `json:"alternatePhone"`
	EmergencyContact    string `json:"emergencyContact"`
	MedicalConditions   string `json:"medicalConditions"`
	SpecialRequirements string `json:"specialRequirements"`
}

// ToModel builds a pending form owned by userEmail.
func (r SubmitAdmissionRequest) ToModel(userEmail string) *models.AdmissionForm {
	return &models.AdmissionForm{
		UserEmail:           userEmail,
		StudentName:         r.StudentName,
		StudentClass:        r.StudentClass,
		SchoolName:          r.SchoolName,
		PickupLocation:      r.PickupLocation,
		DropLocation:        r.DropLocation,
		GuardianName:        r.GuardianName,
		GuardianPhone:       r.GuardianPhone,
		GuardianEmail:       r.GuardianEmail,
		AlternatePhone:      r.AlternatePhone,
		EmergencyContact:    r.EmergencyContact,
		MedicalConditions:   r.MedicalConditions,
		SpecialRequirements: r.SpecialRequirements,
	}
}

// ApproveAdmissionRequest carries the fee and optional message set on approval.
type ApproveAdmissionRequest struct {
	MonthlyAmount float64 `json:"monthlyAmount" validate:"gte=0"`
	AdminResponse string  `json:"adminResponse"`
}

// RejectRequest carries the mandatory rejection reason.
type RejectRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// AdmissionQuery mirrors supported listing filters.
type AdmissionQuery struct {
	Status models.ReviewStatus
}

// ExportAdmissionsQuery selects the export format.
type ExportAdmissionsQuery struct {
	Format string
	Status models.ReviewStatus
}
