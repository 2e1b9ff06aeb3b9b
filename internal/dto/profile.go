package dto

// UpdateProfileRequest is an admin edit of a profile's student and guardian data.
type UpdateProfileRequest struct {
	Name                *string  `json:"name"`
	Phone               *string  `json:"phone"`
	StudentName         *string  `json:"studentName"`
	StudentClass        *string  `json:"studentClass"`
	SchoolName          *string  `json:"schoolName"`
	PickupLocation      *string  `json:"pickupLocation"`
	DropLocation        *string  `json:"dropLocation"`
	GuardianName        *string  `json:"guardianName"`
	GuardianPhone       *string  `json:"guardianPhone"`
	GuardianEmail       *string  `json:"guardianEmail" validate:"omitempty,email"`
	AlternatePhone      *string  `json:"alternatePhone"`
	EmergencyContact    *string  `json:"emergencyContact"`
	MedicalConditions   *string  `json:"medicalConditions"`
	SpecialRequirements *string  `json:"specialRequirements"`
	MonthlyAmount       *float64 `json:"monthlyAmount" validate:"omitempty,gte=0"`
}

// Fields returns the non-nil values keyed by profile column.
func (r UpdateProfileRequest) Fields() map[string]interface{} {
	fields := map[string]interface{}{}
	set := func(column string, value *string) {
		if value != nil {
			fields[column] = *value
		}
	}
	set("name", r.Name)
	set("phone", r.Phone)
	set("student_name", r.StudentName)
	set("student_class", r.StudentClass)
	set("school_name", r.SchoolName)
	set("pickup_location", r.PickupLocation)
	set("drop_location", r.DropLocation)
	set("guardian_name", r.GuardianName)
	set("guardian_phone", r.GuardianPhone)
	set("guardian_email", r.GuardianEmail)
	set("alternate_phone", r.AlternatePhone)
	set("emergency_contact", r.EmergencyContact)
	set("medical_conditions", r.MedicalConditions)
	set("special_requirements", r.SpecialRequirements)
	if r.MonthlyAmount != nil {
		fields["monthly_amount"] = *r.MonthlyAmount
	}
	return fields
}
