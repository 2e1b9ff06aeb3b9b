package dto

// SubmitChangeRequest asks for one approved profile field to be changed.
type SubmitChangeRequest struct {
	Field    string `json:"field" validate:"required"`
	OldValue string `json:"oldValue"`
	NewValue string `json:"newValue" validate:"required"`
	Reason   string `json:"reason" validate:"required"`
}

// ApproveChangeRequest carries the optional admin message.
type ApproveChangeRequest struct {
	AdminResponse string `json:"adminResponse"`
}
