package httputil

import (
	"encoding/json"
)

// APIResponse is the envelope used by the JSON endpoints
type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// encodeFailure is served when a response cannot be marshaled
var encodeFailure = []byte(`{"success":false,"message":"failed to encode response"}`)

// EncodeJSON marshals an APIResponse envelope. ok is false when marshaling failed
// and the returned body is a generic failure envelope.
func EncodeJSON(success bool, message string, data interface{}) (body []byte, ok bool) {
	body, err := json.Marshal(APIResponse{Success: success, Message: message, Data: data})
	if err != nil {
		return encodeFailure, false
	}
	return body, true
}
