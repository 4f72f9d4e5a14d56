package app

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/kirbyniko/research-platform-sub006/internal/assist"
	"github.com/kirbyniko/research-platform-sub006/internal/auth"
	"github.com/kirbyniko/research-platform-sub006/internal/credits"
	"github.com/kirbyniko/research-platform-sub006/internal/evidence"
	"github.com/kirbyniko/research-platform-sub006/internal/export"
	"github.com/kirbyniko/research-platform-sub006/internal/fields"
	"github.com/kirbyniko/research-platform-sub006/internal/review"
	"github.com/kirbyniko/research-platform-sub006/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

func notFound(message string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", message, nil)
}

func forbidden(message string) *DomainError {
	if message == "" {
		message = "Forbidden"
	}
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func validationError(message string, details any) *DomainError {
	return domainError(http.StatusBadRequest, "VALIDATION_ERROR", message, details)
}

const serverErrorMessage = "Server error"

// mapError turns any error coming out of the service into the response
// status, code and client-safe message. Unknown errors become a bare 500.
func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, sanitize(domainErr.Message), domainErr.Details
	}

	var transitionErr *review.TransitionError
	if errors.As(err, &transitionErr) {
		return http.StatusBadRequest, "INVALID_TRANSITION", transitionErr.Error(), nil
	}
	var payloadErr *fields.ValidationError
	if errors.As(err, &payloadErr) {
		return http.StatusBadRequest, "VALIDATION_ERROR", "Invalid record data", payloadErr.Violations
	}

	switch {
	case errors.Is(err, review.ErrInvalidTransition):
		return http.StatusBadRequest, "INVALID_TRANSITION", "Invalid transition", nil
	case errors.Is(err, review.ErrSelfReview):
		return http.StatusForbidden, "SELF_REVIEW", "Second review must be performed by a different reviewer", nil
	case errors.Is(err, review.ErrReasonRequired):
		return http.StatusBadRequest, "VALIDATION_ERROR", "A reason is required", nil
	case errors.Is(err, store.ErrInsufficientCredits):
		return http.StatusBadRequest, "INSUFFICIENT_CREDITS", "Insufficient credits", nil
	case errors.Is(err, store.ErrAtCapacity):
		return http.StatusBadRequest, "AT_CAPACITY", "Verifier is at capacity", nil
	case errors.Is(err, store.ErrAlreadyAssigned):
		return http.StatusBadRequest, "ALREADY_ASSIGNED", "Request is already assigned", nil
	case errors.Is(err, store.ErrNotAssigned):
		return http.StatusNotFound, "NOT_FOUND", "Request not assigned to you", nil
	case errors.Is(err, store.ErrOpenRequestExists):
		return http.StatusBadRequest, "REQUEST_EXISTS", "Record already has an open verification request", nil
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusBadRequest, "DUPLICATE", "Already exists", nil
	case errors.Is(err, credits.ErrUnknownPackage):
		return http.StatusBadRequest, "VALIDATION_ERROR", "Unknown credit package", nil
	case errors.Is(err, credits.ErrUnknownOperation):
		return http.StatusBadRequest, "VALIDATION_ERROR", "Unknown operation", nil
	case errors.Is(err, credits.ErrBadSignature):
		return http.StatusUnauthorized, "INVALID_SIGNATURE", "Invalid signature", nil
	case errors.Is(err, evidence.ErrEmpty):
		return http.StatusBadRequest, "VALIDATION_ERROR", "Evidence body is empty", nil
	case errors.Is(err, evidence.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "TOO_LARGE", "Evidence exceeds the size limit", nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusBadRequest, "VALIDATION_ERROR", "Unsupported export format", nil
	case errors.Is(err, export.ErrPDFDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "PDF export is not available", nil
	case errors.Is(err, assist.ErrEmptyRecord):
		return http.StatusBadRequest, "VALIDATION_ERROR", "Record has no text to work with", nil
	case errors.Is(err, assist.ErrBadOutput):
		return http.StatusBadGateway, "AI_BAD_OUTPUT", "AI provider returned unusable output", nil
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", serverErrorMessage, nil
}

var (
	connStringPattern = regexp.MustCompile(`(?i)\b(postgres(?:ql)?|mysql|redis|rediss|amqp|nats|mongodb(?:\+srv)?|https?)://[^\s:/@]+:[^\s@]+@\S+`)
	dsnURLPattern     = regexp.MustCompile(`(?i)\b(postgres(?:ql)?|redis|rediss|nats)://\S+`)
	secretPairPattern = regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|token|api[_-]?key)\s*[=:]\s*[^\s&;,]+`)
	bearerPattern     = regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9._~+/=-]+`)
)

// sanitize strips connection strings, credential pairs and bearer tokens
// from a message before it reaches a client.
func sanitize(message string) string {
	message = connStringPattern.ReplaceAllString(message, "[redacted]")
	message = dsnURLPattern.ReplaceAllString(message, "[redacted]")
	message = secretPairPattern.ReplaceAllString(message, "$1=[redacted]")
	message = bearerPattern.ReplaceAllString(message, "Bearer [redacted]")
	return message
}
