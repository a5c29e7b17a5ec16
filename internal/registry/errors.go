package registry

import (
	"errors"
	"fmt"
	"net/http"

	dErrors "patientsync/pkg/domain-errors"
)

// ErrorCategory is the normalized failure taxonomy for registry calls.
type ErrorCategory string

const (
	// ErrorTimeout indicates the registry did not answer within the call timeout
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorBadData indicates the registry returned a body we could not decode
	ErrorBadData ErrorCategory = "bad_data"

	// ErrorProviderOutage indicates the registry is unreachable or failing
	ErrorProviderOutage ErrorCategory = "provider_outage"

	// ErrorNotFound indicates the registry has no such record
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorRateLimited indicates the registry throttled us
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorRejected indicates the registry refused the request (other 4xx),
	// or answered 2xx with an error body
	ErrorRejected ErrorCategory = "rejected"
)

// Error is the single error type that leaves the gateway. Status is the
// registry's HTTP status when one was received, else 500.
type Error struct {
	Category   ErrorCategory
	Status     int
	Message    string
	Underlying error
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("registry [%s %d]: %s: %v", e.Category, e.Status, e.Message, e.Underlying)
	}
	return fmt.Sprintf("registry [%s %d]: %s", e.Category, e.Status, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

func newError(category ErrorCategory, status int, message string, underlying error) *Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return &Error{Category: category, Status: status, Message: message, Underlying: underlying}
}

// categoryForStatus maps a non-2xx registry status to a category.
func categoryForStatus(status int) ErrorCategory {
	switch {
	case status == http.StatusNotFound:
		return ErrorNotFound
	case status == http.StatusTooManyRequests:
		return ErrorRateLimited
	case status >= 400 && status < 500:
		return ErrorRejected
	default:
		return ErrorProviderOutage
	}
}

// GetCategory extracts the category from err, or "" when err is not a
// registry error.
func GetCategory(err error) ErrorCategory {
	var re *Error
	if errors.As(err, &re) {
		return re.Category
	}
	return ""
}

// StatusOf returns the registry status carried by err, or 500.
func StatusOf(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.Status
	}
	return http.StatusInternalServerError
}

// ToDomainError turns a registry failure into an upstream domain error that
// renders with the registry's status. An empty message keeps the registry's.
// Errors that did not come from the gateway are returned unchanged.
func ToDomainError(err error, message string) error {
	var re *Error
	if !errors.As(err, &re) {
		return err
	}
	if message == "" {
		message = re.Message
	}
	code := dErrors.CodeUpstream
	if re.Category == ErrorNotFound {
		code = dErrors.CodeNotFound
	}
	return dErrors.WithStatus(code, re.Status, message, err)
}
