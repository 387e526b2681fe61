package types

import "time"

// Error type constants returned in ErrorResponse.ErrorType.
// They mirror the render failure taxonomy one-to-one.
const (
	ErrorTypeInvalidRequest = "invalid_request"
	ErrorTypeConnection     = "connection_error"
	ErrorTypeTransport      = "transport_error"
	ErrorTypeProtocol       = "protocol_error"
	ErrorTypeBrowserRender  = "browser_render_error"
	ErrorTypeDecode         = "decode_error"
	ErrorTypeTimeout        = "timeout_error"
	ErrorTypeResource       = "resource_error"
	ErrorTypeInternal       = "internal_error"
)

// GenerateRequest is the body of POST /generate.
// HTML is a pointer so that a missing field can be told apart from an empty document.
type GenerateRequest struct {
	HTML      *string `json:"html"`
	Landscape bool    `json:"landscape"`
}

// ErrorResponse is written as JSON when the client asks for application/json errors.
type ErrorResponse struct {
	RequestID string    `json:"request_id,omitempty"`
	Error     string    `json:"error"`
	ErrorType string    `json:"error_type"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status         string `json:"status"`
	Capacity       int    `json:"capacity"`
	InUse          int    `json:"in_use"`
	Waiting        int    `json:"waiting"`
	BrowserVersion string `json:"browser_version,omitempty"`
}
