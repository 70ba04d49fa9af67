package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/memtensor/manageusers/pkg/batch"
	"github.com/memtensor/manageusers/pkg/errors"
	"github.com/memtensor/manageusers/pkg/passwords"
	"github.com/memtensor/manageusers/pkg/types"
	"github.com/memtensor/manageusers/pkg/users"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// healthCheck provides a health check endpoint
// @Summary Health Check
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (s *Server) healthCheck(c *gin.Context) {
	health := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.version,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Checks:    map[string]string{"database": "ok"},
	}

	status := http.StatusOK
	if err := s.service.HealthCheck(c.Request.Context()); err != nil {
		health.Status = "unhealthy"
		health.Checks["database"] = err.Error()
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, health)
}

// reconcileAccount brings one account to the desired state in the body
// @Summary Reconcile account
// @Tags accounts
// @Accept json
// @Produce json
// @Param request body batch.Record true "Desired account state"
// @Success 200 {object} OutcomeResponse
// @Success 201 {object} OutcomeResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /api/v1/accounts/reconcile [post]
func (s *Server) reconcileAccount(c *gin.Context) {
	var rec batch.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		s.abortWithError(c, errors.NewInvalidInputError("invalid request body: "+err.Error()))
		return
	}
	if err := rec.Validate(); err != nil {
		s.abortWithError(c, err)
		return
	}

	outcome, err := s.service.Reconcile(requestContext(c), rec.Identity(), rec.Desired())
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	status := http.StatusOK
	if outcome.Action == types.ActionCreated {
		status = http.StatusCreated
	}
	c.JSON(status, OutcomeResponse{
		Code:    status,
		Message: "Account " + string(outcome.Action),
		Data:    outcome,
	})
}

// getAccount returns one account
// @Summary Get account
// @Tags accounts
// @Produce json
// @Param username path string true "Username"
// @Success 200 {object} AccountResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/accounts/{username} [get]
func (s *Server) getAccount(c *gin.Context) {
	user, err := s.service.GetUserByName(requestContext(c), c.Param("username"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	view := toAccountView(user)
	c.JSON(http.StatusOK, AccountResponse{
		Code:    http.StatusOK,
		Message: "Account retrieved successfully",
		Data:    &view,
	})
}

// listAccounts returns a page of accounts ordered by username
// @Summary List accounts
// @Tags accounts
// @Produce json
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Success 200 {object} AccountListResponse
// @Router /api/v1/accounts [get]
func (s *Server) listAccounts(c *gin.Context) {
	limit, err := queryInt(c, "limit", defaultListLimit)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	offset, err := queryInt(c, "offset", 0)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	if limit <= 0 || limit > maxListLimit {
		s.abortWithError(c, errors.NewInvalidInputError("limit must be between 1 and 1000"))
		return
	}
	if offset < 0 {
		s.abortWithError(c, errors.NewInvalidInputError("offset must not be negative"))
		return
	}

	accounts, total, err := s.service.ListUsers(requestContext(c), limit, offset)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	list := AccountList{
		Accounts: make([]AccountView, 0, len(accounts)),
		Total:    total,
		Limit:    limit,
		Offset:   offset,
	}
	for i := range accounts {
		list.Accounts = append(list.Accounts, toAccountView(&accounts[i]))
	}

	c.JSON(http.StatusOK, AccountListResponse{
		Code:    http.StatusOK,
		Message: "Accounts retrieved successfully",
		Data:    &list,
	})
}

// listGroups returns every group
// @Summary List groups
// @Tags groups
// @Produce json
// @Success 200 {object} GroupListResponse
// @Router /api/v1/groups [get]
func (s *Server) listGroups(c *gin.Context) {
	groups, err := s.service.ListGroups(requestContext(c))
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, GroupListResponse{
		Code:    http.StatusOK,
		Message: "Groups retrieved successfully",
		Data:    &groups,
	})
}

// createGroup creates a group so accounts can reference it
// @Summary Create group
// @Tags groups
// @Accept json
// @Produce json
// @Param request body GroupCreate true "Group"
// @Success 201 {object} GroupResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/groups [post]
func (s *Server) createGroup(c *gin.Context) {
	var req GroupCreate
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, errors.NewInvalidInputError("invalid request body: "+err.Error()))
		return
	}

	group, err := s.service.CreateGroup(requestContext(c), req.Name, req.Description)
	if err != nil {
		s.abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, GroupResponse{
		Code:    http.StatusCreated,
		Message: "Group created successfully",
		Data:    group,
	})
}

// abortWithError writes err as an ErrorResponse and stops the chain
func (s *Server) abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	resp := ErrorResponse{
		Code:      status,
		Message:   http.StatusText(status),
		Error:     err.Error(),
		RequestID: c.GetString("request_id"),
	}
	if appErr := errors.GetAppError(err); appErr != nil {
		resp.Message = appErr.Message
		resp.Error = string(appErr.Code)
		resp.Details = appErr.Details
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", err, map[string]interface{}{
			"path":       c.Request.URL.Path,
			"request_id": resp.RequestID,
		})
	}

	c.AbortWithStatusJSON(status, resp)
}

// statusFor maps error codes onto HTTP statuses
func statusFor(err error) int {
	appErr := errors.GetAppError(err)
	if appErr == nil {
		return http.StatusInternalServerError
	}

	switch appErr.Code {
	case errors.ErrCodeValidation, errors.ErrCodeInvalidInput, errors.ErrCodeMissingField:
		return http.StatusBadRequest
	case errors.ErrCodeInvalidPasswordHash:
		return http.StatusUnprocessableEntity
	case errors.ErrCodeEmailMismatch, errors.ErrCodeAlreadyExists:
		return http.StatusConflict
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeProfileUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(c *gin.Context, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewInvalidInputError(key + " must be an integer")
	}
	return n, nil
}

func toAccountView(u *users.User) AccountView {
	return AccountView{
		UserID:      u.UserID,
		UserName:    u.UserName,
		Email:       u.Email,
		IsStaff:     u.IsStaff,
		IsSuperuser: u.IsSuperuser,
		IsActive:    u.IsActive,
		HasPassword: passwords.IsUsable(u.Password),
		Groups:      u.GroupNames(),
		HasProfile:  u.Profile != nil,
		CreatedAt:   u.CreatedAt,
		UpdatedAt:   u.UpdatedAt,
	}
}
