// Package response defines the unified JSON envelope of the HTTP boundary.
// Error answers carry a stable machine-readable code in the error field;
// human-readable detail goes into message and is free to change.
package response

import "github.com/hookvault/hookvault/internal/validation"

// Response is the standard server answer.
type Response struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

const (
	StatusOK    = "OK"
	StatusError = "Error"
)

// Stable error codes shared by all handlers.
const (
	CodeNotFound               = "not_found"
	CodeExpired                = "expired"
	CodeQuotaExceeded          = "quota_exceeded"
	CodeInvalidBody            = "invalid_body"
	CodeUnauthorized           = "unauthorized"
	CodeRateLimited            = "rate_limited"
	CodeInternal               = "internal_error"
	CodeServerMisconfiguration = "server_misconfiguration"
)

// StatusOKWithData returns a successful Response carrying data.
func StatusOKWithData(data any) Response {
	return Response{Status: StatusOK, Data: data}
}

// OK returns a bare successful Response.
func OK() Response {
	return Response{Status: StatusOK}
}

// Error returns an error Response with the given code.
func Error(code string) Response {
	return Response{Status: StatusError, Error: code}
}

// ErrorWithMessage returns an error Response with a code and detail text.
func ErrorWithMessage(code, message string) Response {
	return Response{Status: StatusError, Error: code, Message: message}
}

// ValidationError maps a validation rejection onto the envelope, keeping its
// machine code.
func ValidationError(err *validation.Error) Response {
	return Response{Status: StatusError, Error: err.Code, Message: err.Message}
}
