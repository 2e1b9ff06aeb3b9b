package dto

// CreateAdminCodeRequest adds an invitation code to the registry.
type CreateAdminCodeRequest struct {
	Code string `json:"code" validate:"required,min=4,max=64"`
}

// ValidateAdminCodeRequest checks a code without consuming it.
type ValidateAdminCodeRequest struct {
	Code string `json:"code"`
}

// ValidateAdminCodeResponse reports whether the code would be accepted.
type ValidateAdminCodeResponse struct {
	Valid bool `json:"valid"`
}
