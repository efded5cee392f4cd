package models

import "time"

// Error type identifiers carried in API error envelopes. Clients branch on
// the type, not the message.
const (
	ErrTypeValidation     = "ValidationError"
	ErrTypeAuthentication = "AuthenticationError"
	ErrTypeAuthorization  = "AuthorizationError"
	ErrTypeRateLimit      = "RateLimitError"
	ErrTypeNotFound       = "NotFoundError"
	ErrTypeConflict       = "ConflictError"
	ErrTypeInternal       = "InternalError"
)

// APIError is the error half of the response envelope.
type APIError struct {
	Type    string      `json:"type"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// APIResponse is the uniform envelope every endpoint responds with. Exactly
// one of Data and Error is set.
type APIResponse struct {
	Success    bool        `json:"success"`
	StatusCode int         `json:"statusCode"`
	Timestamp  time.Time   `json:"timestamp"`
	RequestID  string      `json:"requestId,omitempty"`
	Data       interface{} `json:"data,omitempty"`
	Error      *APIError   `json:"error,omitempty"`
}

// NewSuccessResponse builds a success envelope.
func NewSuccessResponse(statusCode int, data interface{}, requestID string) APIResponse {
	return APIResponse{
		Success:    true,
		StatusCode: statusCode,
		Timestamp:  time.Now().UTC(),
		RequestID:  requestID,
		Data:       data,
	}
}

// NewErrorResponse builds an error envelope.
func NewErrorResponse(statusCode int, errType, message string, details interface{}, requestID string) APIResponse {
	return APIResponse{
		Success:    false,
		StatusCode: statusCode,
		Timestamp:  time.Now().UTC(),
		RequestID:  requestID,
		Error: &APIError{
			Type:    errType,
			Message: message,
			Details: details,
		},
	}
}
