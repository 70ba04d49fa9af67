// Package errors provides structured error handling for manageusers
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/memtensor/manageusers/pkg/types"
)

// ErrorCode represents specific error codes
type ErrorCode string

const (
	// Validation errors
	ErrCodeValidation          ErrorCode = "VALIDATION_ERROR"
	ErrCodeInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField        ErrorCode = "MISSING_FIELD"
	ErrCodeInvalidPasswordHash ErrorCode = "INVALID_PASSWORD_HASH"

	// Consistency errors
	ErrCodeEmailMismatch ErrorCode = "EMAIL_MISMATCH"

	// Configuration errors
	ErrCodeConfigInvalid      ErrorCode = "CONFIG_INVALID"
	ErrCodeProfileUnavailable ErrorCode = "PROFILE_UNAVAILABLE"

	// Authentication errors
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Resource errors
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"

	// System errors
	ErrCodeInternal          ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabaseError     ErrorCode = "DATABASE_ERROR"
	ErrCodeTransactionFailed ErrorCode = "TRANSACTION_FAILED"
)

// AppError represents a structured error in manageusers
type AppError struct {
	Type      types.ErrorType        `json:"type"`
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Cause     error                  `json:"-"`
	RequestID string                 `json:"request_id,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another *AppError carrying the same code
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRequestID tags the error with the request that produced it
func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

// NewAppError creates a new error
func NewAppError(errType types.ErrorType, code ErrorCode, message string) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
	}
}

// NewAppErrorWithCause creates a new error with a cause
func NewAppErrorWithCause(errType types.ErrorType, code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Sentinels for errors.Is comparisons; only the code is compared.
var (
	ErrEmailMismatch       = &AppError{Code: ErrCodeEmailMismatch}
	ErrInvalidPasswordHash = &AppError{Code: ErrCodeInvalidPasswordHash}
	ErrProfileUnavailable  = &AppError{Code: ErrCodeProfileUnavailable}
	ErrNotFound            = &AppError{Code: ErrCodeNotFound}
)

// Validation error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(types.ErrorTypeValidation, ErrCodeValidation, message)
}

func NewInvalidInputError(message string) *AppError {
	return NewAppError(types.ErrorTypeValidation, ErrCodeInvalidInput, message)
}

func NewMissingFieldError(field string) *AppError {
	return NewAppError(types.ErrorTypeValidation, ErrCodeMissingField,
		fmt.Sprintf("missing required field: %s", field)).WithDetail("field", field)
}

// NewInvalidPasswordHashError reports an initial password hash that cannot be stored for username.
func NewInvalidPasswordHashError(username string, cause error) *AppError {
	return NewAppErrorWithCause(types.ErrorTypeValidation, ErrCodeInvalidPasswordHash,
		fmt.Sprintf("the password hash provided for user %s is invalid", username), cause).
		WithDetail("username", username)
}

// NewEmailMismatchError reports that the stored email of username differs from the requested one.
func NewEmailMismatchError(username string) *AppError {
	return NewAppError(types.ErrorTypeConsistency, ErrCodeEmailMismatch,
		fmt.Sprintf("skipping user %q because the specified and existing email addresses do not match", username)).
		WithDetail("username", username)
}

// Configuration error constructors
func NewConfigInvalidError(message string) *AppError {
	return NewAppError(types.ErrorTypeConfiguration, ErrCodeConfigInvalid, message)
}

func NewProfileUnavailableError() *AppError {
	return NewAppError(types.ErrorTypeConfiguration, ErrCodeProfileUnavailable,
		"user profile capability is not configured")
}

// Authentication error constructors
func NewUnauthorizedError(message string) *AppError {
	return NewAppError(types.ErrorTypeUnauthorized, ErrCodeUnauthorized, message)
}

func NewForbiddenError(message string) *AppError {
	return NewAppError(types.ErrorTypeUnauthorized, ErrCodeForbidden, message)
}

// Resource error constructors
func NewNotFoundError(resource string) *AppError {
	return NewAppError(types.ErrorTypeNotFound, ErrCodeNotFound,
		fmt.Sprintf("%s not found", resource)).WithDetail("resource", resource)
}

func NewAlreadyExistsError(resource string) *AppError {
	return NewAppError(types.ErrorTypeValidation, ErrCodeAlreadyExists,
		fmt.Sprintf("%s already exists", resource)).WithDetail("resource", resource)
}

// System error constructors
func NewInternalError(message string) *AppError {
	return NewAppError(types.ErrorTypeInternal, ErrCodeInternal, message)
}

func NewInternalErrorWithCause(message string, cause error) *AppError {
	return NewAppErrorWithCause(types.ErrorTypeInternal, ErrCodeInternal, message, cause)
}

func NewDatabaseErrorWithCause(message string, cause error) *AppError {
	return NewAppErrorWithCause(types.ErrorTypeInternal, ErrCodeDatabaseError, message, cause)
}

func NewTransactionFailedError(cause error) *AppError {
	return NewAppErrorWithCause(types.ErrorTypeInternal, ErrCodeTransactionFailed,
		"transaction failed", cause)
}

// GetAppError extracts the first *AppError in err's chain
func GetAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// IsAppError checks if err's chain contains an *AppError
func IsAppError(err error) bool {
	return GetAppError(err) != nil
}

// HasCode reports whether err's chain contains an *AppError with code
func HasCode(err error, code ErrorCode) bool {
	return stderrors.Is(err, &AppError{Code: code})
}

func IsEmailMismatch(err error) bool {
	return stderrors.Is(err, ErrEmailMismatch)
}

func IsInvalidPasswordHash(err error) bool {
	return stderrors.Is(err, ErrInvalidPasswordHash)
}

func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrNotFound)
}

// WrapError wraps an error as an *AppError
func WrapError(err error, errType types.ErrorType, code ErrorCode, message string) *AppError {
	return NewAppErrorWithCause(errType, code, message, err)
}

// ErrorList represents a list of errors
type ErrorList struct {
	Errors []*AppError `json:"errors"`
}

// Error implements the error interface
func (el *ErrorList) Error() string {
	var messages []string
	for _, err := range el.Errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// Add adds an error to the list
func (el *ErrorList) Add(err *AppError) {
	el.Errors = append(el.Errors, err)
}

// HasErrors returns true if there are errors
func (el *ErrorList) HasErrors() bool {
	return len(el.Errors) > 0
}

// ToError returns the ErrorList as an error if it has errors, otherwise nil
func (el *ErrorList) ToError() error {
	if el.HasErrors() {
		return el
	}
	return nil
}

// NewErrorList creates a new error list
func NewErrorList() *ErrorList {
	return &ErrorList{
		Errors: make([]*AppError, 0),
	}
}
