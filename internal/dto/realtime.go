package dto

import "encoding/json"

// RealtimeMessage is one frame pushed to a websocket session.
type RealtimeMessage struct {
	Type  string          `json:"type"`
	Email string          `json:"email,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Realtime message types.
const (
	RealtimeUserData      = "user_data_update"
	RealtimeAdmission     = "admission_status_change"
	RealtimeChangeRequest = "change_request_update"
	RealtimeAdminAction   = "admin_action"
	RealtimeError         = "error"
)
