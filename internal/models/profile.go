package models

import "time"

// Role identifies which panel a profile belongs to.
type Role string

const (
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
	RoleDriver Role = "driver"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleDriver:
		return true
	}
	return false
}

// AdmissionStatus is the admission state mirrored on a guardian profile.
type AdmissionStatus string

const (
	AdmissionNone     AdmissionStatus = "none"
	AdmissionPending  AdmissionStatus = "pending"
	AdmissionApproved AdmissionStatus = "approved"
	AdmissionRejected AdmissionStatus = "rejected"
)

// UserProfile is one record per (person, role).
type UserProfile struct {
	ID                  string          `db:"id" json:"id"`
	UID                 string          `db:"uid" json:"uid"`
	Email               string          `db:"email" json:"email"`
	Role                Role            `db:"role" json:"role"`
	Name                string          `db:"name" json:"name"`
	Phone               string          `db:"phone" json:"phone"`
	EmailVerified       bool            `db:"email_verified" json:"emailVerified"`
	AdmissionStatus     AdmissionStatus `db:"admission_status" json:"admissionStatus"`
	StudentName         string          `db:"student_name" json:"studentName,omitempty"`
	StudentClass        string          `db:"student_class" json:"studentClass,omitempty"`
	SchoolName          string          `db:"school_name" json:"schoolName,omitempty"`
	PickupLocation      string          `db:"pickup_location" json:"pickupLocation,omitempty"`
	DropLocation        string          `db:"drop_location" json:"dropLocation,omitempty"`
	GuardianName        string          `db:"guardian_name" json:"guardianName,omitempty"`
	GuardianPhone       string          `db:"guardian_phone" json:"guardianPhone,omitempty"`
	GuardianEmail       string          `db:"guardian_email" json:"guardianEmail,omitempty"`
	AlternatePhone      string          `db:"alternate_phone" json:"alternatePhone,omitempty"`
	EmergencyContact    string          `db:"emergency_contact" json:"emergencyContact,omitempty"`
	MedicalConditions   string          `db:"medical_conditions" json:"medicalConditions,omitempty"`
	SpecialRequirements string          `db:"special_requirements" json:"specialRequirements,omitempty"`
	MonthlyAmount       *float64        `db:"monthly_amount" json:"monthlyAmount,omitempty"`
	AdminResponse       string          `db:"admin_response" json:"adminResponse,omitempty"`
	RejectionReason     string          `db:"rejection_reason" json:"rejectionReason,omitempty"`
	LicenseNumber       string          `db:"license_number" json:"licenseNumber,omitempty"`
	VehicleNumber       string          `db:"vehicle_number" json:"vehicleNumber,omitempty"`
	Experience          string          `db:"experience" json:"experience,omitempty"`
	AdminCode           string          `db:"admin_code" json:"-"`
	CreatedAt           time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time       `db:"updated_at" json:"updatedAt"`
}

// ProfileColumns lists every column of the users table in select order.
const ProfileColumns = `id, uid, email, role, name, phone, email_verified, admission_status, student_name, student_class,
	school_name, pickup_location, drop_location, guardian_name, guardian_phone, guardian_email, alternate_phone,
	emergency_contact, medical_conditions, special_requirements, monthly_amount, admin_response, rejection_reason,
	license_number, vehicle_number, experience, admin_code, created_at, updated_at`

// ProfileFields is a partial update keyed by column name.
type ProfileFields map[string]interface{}

// updatableProfileColumns are the columns a partial update may touch.
var updatableProfileColumns = map[string]struct{}{
	"name": {}, "phone": {}, "admission_status": {}, "student_name": {}, "student_class": {}, "school_name": {},
	"pickup_location": {}, "drop_location": {}, "guardian_name": {}, "guardian_phone": {}, "guardian_email": {},
	"alternate_phone": {}, "emergency_contact": {}, "medical_conditions": {}, "special_requirements": {},
	"monthly_amount": {}, "admin_response": {}, "rejection_reason": {}, "license_number": {},
	"vehicle_number": {}, "experience": {},
}

// IsUpdatableProfileColumn reports whether column may be written through a partial update.
func IsUpdatableProfileColumn(column string) bool {
	_, ok := updatableProfileColumns[column]
	return ok
}

// ProfileFilter constrains profile listings.
type ProfileFilter struct {
	Role     Role
	Verified *bool
	Search   string
	Page     int
	PageSize int
}
