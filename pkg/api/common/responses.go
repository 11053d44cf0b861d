package common

// ErrorResponse represents a standard error response used across all endpoints
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code,omitempty"`    // machine-readable error code
	Details map[string]interface{} `json:"details,omitempty"` // additional error context
}

// SuccessResponse represents a standard success response
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ValidationErrorResponse represents a validation error with field-specific details
type ValidationErrorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"` // field_name -> error_message
}
