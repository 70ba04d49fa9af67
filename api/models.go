package api

import (
	"time"

	"github.com/memtensor/manageusers/pkg/users"
)

// BaseResponse represents the base structure for all API responses
type BaseResponse[T any] struct {
	Code    int    `json:"code" example:"200"`
	Message string `json:"message" example:"Operation successful"`
	Data    *T     `json:"data,omitempty"`
}

// GroupCreate represents a request to create a group
type GroupCreate struct {
	Name        string `json:"name" binding:"required,max=150" example:"editors"`
	Description string `json:"description,omitempty" example:"Can edit course content"`
}

// AccountView is the public shape of an account
type AccountView struct {
	UserID      string    `json:"user_id"`
	UserName    string    `json:"user_name"`
	Email       string    `json:"email"`
	IsStaff     bool      `json:"is_staff"`
	IsSuperuser bool      `json:"is_superuser"`
	IsActive    bool      `json:"is_active"`
	HasPassword bool      `json:"has_usable_password"`
	Groups      []string  `json:"groups"`
	HasProfile  bool      `json:"has_profile"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// AccountList is a page of accounts
type AccountList struct {
	Accounts []AccountView `json:"accounts"`
	Total    int64         `json:"total"`
	Limit    int           `json:"limit"`
	Offset   int           `json:"offset"`
}

// Response types
type OutcomeResponse = BaseResponse[users.Outcome]
type AccountResponse = BaseResponse[AccountView]
type AccountListResponse = BaseResponse[AccountList]
type GroupResponse = BaseResponse[users.Group]
type GroupListResponse = BaseResponse[[]users.Group]

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
	Uptime    string            `json:"uptime"`
	Checks    map[string]string `json:"checks"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Code      int                    `json:"code"`
	Message   string                 `json:"message"`
	Error     string                 `json:"error,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
}
