package models

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Predefined error constructors
func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    "VALIDATION_ERROR",
		Message: message,
	}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    "INTERNAL_ERROR",
		Message: "Internal server error",
		Err:     err,
	}
}

// NewGenerationError wraps a content-generator failure. Generation errors are
// isolated per platform and never abort sibling post creations.
func NewGenerationError(platform Platform, err error) *AppError {
	return &AppError{
		Code:    "GENERATION_ERROR",
		Message: fmt.Sprintf("content generation failed for %s", platform),
		Err:     err,
	}
}

// NewApprovalSendError wraps an approval-channel delivery failure. It triggers
// the documented auto-approve fallback instead of blocking the post.
func NewApprovalSendError(err error) *AppError {
	return &AppError{
		Code:    "APPROVAL_SEND_ERROR",
		Message: "approval request could not be delivered",
		Err:     err,
	}
}

// CredentialErrorReason classifies why a credential could not be produced.
type CredentialErrorReason string

const (
	// CredentialMissing means no credential exists for the (user, platform).
	CredentialMissing CredentialErrorReason = "missing"
	// CredentialExpired means the token is expired and no refresh token exists.
	CredentialExpired CredentialErrorReason = "expired"
	// CredentialRefreshFailed means the refresh call itself failed.
	CredentialRefreshFailed CredentialErrorReason = "refresh_failed"
)

// CredentialError aborts a publish before any platform call is made.
// It is never retried automatically.
type CredentialError struct {
	Reason   CredentialErrorReason
	Platform Platform
	Err      error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("credential %s for %s: %v", e.Reason, e.Platform, e.Err)
	}
	return fmt.Sprintf("credential %s for %s", e.Reason, e.Platform)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// PlatformErrorKind classifies a publish failure reported by a platform.
type PlatformErrorKind string

const (
	// PlatformAuthExpired means the platform rejected a token judged valid.
	PlatformAuthExpired PlatformErrorKind = "auth_expired"
	// PlatformRateLimited means the platform throttled the call.
	PlatformRateLimited PlatformErrorKind = "rate_limited"
	// PlatformValidation means the payload was rejected as invalid.
	PlatformValidation PlatformErrorKind = "validation"
	// PlatformUnknown is any other failure.
	PlatformUnknown PlatformErrorKind = "unknown"
)

// PlatformError is a classified failure from a publisher adapter.
type PlatformError struct {
	Kind       PlatformErrorKind
	Platform   Platform
	StatusCode int
	Message    string
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("%s publish failed (%s): %s", e.Platform, e.Kind, e.Message)
}

// Retryable reports whether the failure may succeed on a later attempt.
// Validation failures and expired auth are terminal; throttling and unknown
// transient failures are worth a bounded retry.
func (e *PlatformError) Retryable() bool {
	switch e.Kind {
	case PlatformRateLimited, PlatformUnknown:
		return true
	case PlatformAuthExpired, PlatformValidation:
		return false
	}
	return false
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	if appErr, ok := err.(*AppError); ok {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		if appErr.Err != nil {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}
