// Package types provides the shared vocabulary of manageusers
package types

import (
	"context"

	"github.com/google/uuid"
)

// ReconcileAction is the observable result of reconciling one identity
type ReconcileAction string

const (
	ActionCreated   ReconcileAction = "created"   // account did not exist and was created
	ActionUpdated   ReconcileAction = "updated"   // existing account was modified
	ActionUnchanged ReconcileAction = "unchanged" // existing account already matched
	ActionRemoved   ReconcileAction = "removed"   // account was deleted
	ActionAbsent    ReconcileAction = "absent"    // remove requested for a missing account
	ActionSkipped   ReconcileAction = "skipped"   // nothing done, a required capability is missing
)

// String returns the string representation of the action
func (a ReconcileAction) String() string {
	return string(a)
}

// IsMutation reports whether the action wrote anything
func (a ReconcileAction) IsMutation() bool {
	switch a {
	case ActionCreated, ActionUpdated, ActionRemoved:
		return true
	default:
		return false
	}
}

// BatchFormat identifies a batch input encoding
type BatchFormat string

const (
	BatchFormatLines BatchFormat = "lines"
	BatchFormatYAML  BatchFormat = "yaml"
)

// LogFormat selects the log output encoding
type LogFormat string

const (
	LogFormatConsole LogFormat = "console"
	LogFormatJSON    LogFormat = "json"
)

// ErrorType represents the category of an error
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeConsistency   ErrorType = "consistency"
	ErrorTypeConfiguration ErrorType = "configuration"
	ErrorTypeNotFound      ErrorType = "not_found"
	ErrorTypeUnauthorized  ErrorType = "unauthorized"
	ErrorTypeInternal      ErrorType = "internal"
)

// Context keys for request context
type ContextKey string

const (
	ContextKeyRequestID ContextKey = "request_id"
	ContextKeyOperator  ContextKey = "operator"
)

// RequestContext holds request-specific context information
type RequestContext struct {
	RequestID string
	Operator  string
}

// GetRequestContext extracts request context from Go context
func GetRequestContext(ctx context.Context) *RequestContext {
	return &RequestContext{
		RequestID: getStringFromContext(ctx, ContextKeyRequestID),
		Operator:  getStringFromContext(ctx, ContextKeyOperator),
	}
}

// WithRequestContext stores rc in ctx, generating a request ID when missing
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	if rc == nil {
		return ctx
	}
	if rc.RequestID == "" {
		rc.RequestID = uuid.New().String()
	}
	ctx = context.WithValue(ctx, ContextKeyRequestID, rc.RequestID)
	if rc.Operator != "" {
		ctx = context.WithValue(ctx, ContextKeyOperator, rc.Operator)
	}
	return ctx
}

func getStringFromContext(ctx context.Context, key ContextKey) string {
	if value := ctx.Value(key); value != nil {
		if str, ok := value.(string); ok {
			return str
		}
	}
	return ""
}
