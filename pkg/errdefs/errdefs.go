package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for API translation and caller dispatch.
type Kind string

const (
	// Validation
	KindInvalidName           Kind = "InvalidName"
	KindUnknownField          Kind = "UnknownField"
	KindFieldValidationFailed Kind = "FieldValidationFailed"

	// Not found
	KindNotFound Kind = "NotFound"

	// Capacity
	KindMaxInstancesReached Kind = "MaxInstancesReached"
	KindPortExhausted       Kind = "PortExhausted"
	KindInsufficientMemory  Kind = "InsufficientMemory"
	KindInsufficientDisk    Kind = "InsufficientDisk"

	// Concurrency
	KindCreateInProgress    Kind = "CreateInProgress"
	KindOperationInProgress Kind = "OperationInProgress"
	KindRateLimited         Kind = "RateLimited"

	// Runtime
	KindRuntimeUnavailable Kind = "RuntimeUnavailable"
	KindRuntimeTimeout     Kind = "RuntimeTimeout"
	KindRuntimeError       Kind = "RuntimeError"

	// IO
	KindTemplateMissing    Kind = "TemplateMissing"
	KindUnresolvedVariable Kind = "UnresolvedVariable"
	KindRenderIO           Kind = "RenderIO"
	KindRegistryIO         Kind = "RegistryIO"

	// Repair
	KindCreateFailed          Kind = "CreateFailed"
	KindRepairFailed          Kind = "RepairFailed"
	KindCriticalFailure       Kind = "CriticalFailure"
	KindCredentialRegenFailed Kind = "CredentialRegenFailed"

	// Backup
	KindBackupInvalid Kind = "BackupInvalid"
	KindRestoreFailed Kind = "RestoreFailed"
)

// Error is the structured error carried across component boundaries.
// Message is user-visible; Cause preserves the underlying error verbatim.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind preserving the cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the kind from an error chain, or empty string.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MessageOf returns the user-visible message for an error chain.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Cause)
		}
		return e.Message
	}
	if err != nil {
		return err.Error()
	}
	return ""
}

// HTTPStatus maps an error to the status code the API layer should return.
// Validation maps to 400, concurrency to 409/429, capacity to 503,
// everything else to 500.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidName, KindUnknownField, KindFieldValidationFailed:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindCreateInProgress, KindOperationInProgress:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindMaxInstancesReached, KindPortExhausted, KindInsufficientMemory, KindInsufficientDisk:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
