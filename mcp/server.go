// Package mcp exposes account reconciliation as MCP (Model Context Protocol) tools
package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/memtensor/manageusers/pkg/batch"
	"github.com/memtensor/manageusers/pkg/errors"
	"github.com/memtensor/manageusers/pkg/interfaces"
	"github.com/memtensor/manageusers/pkg/passwords"
	"github.com/memtensor/manageusers/pkg/types"
	"github.com/memtensor/manageusers/pkg/users"
)

// AccountService is the account functionality offered as tools
type AccountService interface {
	Reconcile(ctx context.Context, id users.Identity, desired users.DesiredState) (*users.Outcome, error)
	GetUserByName(ctx context.Context, username string) (*users.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]users.User, int64, error)
	ListGroups(ctx context.Context) ([]users.Group, error)
	HealthCheck(ctx context.Context) error
}

// Options configures the MCP server
type Options struct {
	// Operator is recorded in audit entries of reconciles made through the server
	Operator string
	// ReadOnly leaves out the reconcile_account tool
	ReadOnly bool
	Version  string
}

// Server represents the manage-user MCP server
type Server struct {
	service AccountService
	opts    Options
	logger  interfaces.Logger
	server  *server.MCPServer
}

// NewServer creates a new MCP server backed by service
func NewServer(service AccountService, opts Options, logger interfaces.Logger) *Server {
	if opts.Operator == "" {
		opts.Operator = "mcp"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	s := &Server{
		service: service,
		opts:    opts,
		logger:  logger.WithFields(map[string]interface{}{"component": "mcp"}),
	}
	s.server = server.NewMCPServer(
		"manage-user MCP Server",
		opts.Version,
		server.WithToolCapabilities(true),
	)
	s.setupTools()
	return s
}

// Start serves tools over stdio until the client disconnects
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting MCP server", map[string]interface{}{
		"transport": "stdio",
		"read_only": s.opts.ReadOnly,
		"operator":  s.opts.Operator,
	})
	return server.ServeStdio(s.server)
}

// setupTools configures all available MCP tools
func (s *Server) setupTools() {
	if !s.opts.ReadOnly {
		reconcileTool := mcp.NewTool("reconcile_account",
			mcp.WithDescription("Create, update or remove one account idempotently. Flags not given are revoked and group membership is replaced."),
			mcp.WithString("username",
				mcp.Required(),
				mcp.Description("Account username"),
			),
			mcp.WithString("email",
				mcp.Required(),
				mcp.Description("Account email; must match an existing account"),
			),
			mcp.WithBoolean("remove",
				mcp.Description("Remove the account instead (default: false)"),
			),
			mcp.WithBoolean("staff",
				mcp.Description("Staff flag (default: false)"),
			),
			mcp.WithBoolean("superuser",
				mcp.Description("Superuser flag (default: false)"),
			),
			mcp.WithArray("groups",
				mcp.Description("Group names; unknown groups are ignored"),
			),
			mcp.WithBoolean("unusable_password",
				mcp.Description("Make the password unusable (default: false)"),
			),
			mcp.WithString("initial_password_hash",
				mcp.Description("Password hash for a newly created account"),
			),
		)
		s.server.AddTool(reconcileTool, s.handleReconcileAccount)
	}

	getAccountTool := mcp.NewTool("get_account",
		mcp.WithDescription("Show one account with its flags and groups"),
		mcp.WithString("username",
			mcp.Required(),
			mcp.Description("Account username"),
		),
	)
	s.server.AddTool(getAccountTool, s.handleGetAccount)

	listAccountsTool := mcp.NewTool("list_accounts",
		mcp.WithDescription("List accounts ordered by username"),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of accounts (default: 100)"),
		),
		mcp.WithNumber("offset",
			mcp.Description("Number of accounts to skip (default: 0)"),
		),
	)
	s.server.AddTool(listAccountsTool, s.handleListAccounts)

	listGroupsTool := mcp.NewTool("list_groups",
		mcp.WithDescription("List the groups accounts can be assigned to"),
	)
	s.server.AddTool(listGroupsTool, s.handleListGroups)

	healthTool := mcp.NewTool("health_check",
		mcp.WithDescription("Check that the account database is reachable"),
	)
	s.server.AddTool(healthTool, s.handleHealthCheck)
}

// Tool Handler Functions

func (s *Server) handleReconcileAccount(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rec, err := recordFromArguments(request.GetArguments())
	if err != nil {
		return errorResult(err), nil
	}
	if err := rec.Validate(); err != nil {
		return errorResult(err), nil
	}

	ctx = types.WithRequestContext(ctx, &types.RequestContext{Operator: s.opts.Operator})
	outcome, err := s.service.Reconcile(ctx, rec.Identity(), rec.Desired())
	if err != nil {
		s.logger.Error("Failed to reconcile account", err, map[string]interface{}{"username": rec.Username})
		return errorResult(err), nil
	}
	return jsonResult(outcome)
}

func (s *Server) handleGetAccount(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username, _ := request.GetArguments()["username"].(string)
	if username == "" {
		return errorResult(errors.NewMissingFieldError("username")), nil
	}

	user, err := s.service.GetUserByName(ctx, username)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(accountSummary(user))
}

func (s *Server) handleListAccounts(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	arguments := request.GetArguments()
	limit := 100
	if l, ok := arguments["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}
	offset := 0
	if o, ok := arguments["offset"].(float64); ok && o > 0 {
		offset = int(o)
	}

	accounts, total, err := s.service.ListUsers(ctx, limit, offset)
	if err != nil {
		return errorResult(err), nil
	}

	summaries := make([]map[string]interface{}, 0, len(accounts))
	for i := range accounts {
		summaries = append(summaries, accountSummary(&accounts[i]))
	}
	return jsonResult(map[string]interface{}{
		"accounts": summaries,
		"total":    total,
	})
}

func (s *Server) handleListGroups(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	groups, err := s.service.ListGroups(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(groups)
}

func (s *Server) handleHealthCheck(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := map[string]interface{}{"status": "healthy"}
	if err := s.service.HealthCheck(ctx); err != nil {
		status["status"] = "unhealthy"
		status["error"] = err.Error()
	}
	return jsonResult(status)
}

// recordFromArguments maps tool arguments onto a batch record
func recordFromArguments(arguments map[string]interface{}) (batch.Record, error) {
	var rec batch.Record
	rec.Username, _ = arguments["username"].(string)
	rec.Email, _ = arguments["email"].(string)
	rec.Remove, _ = arguments["remove"].(bool)
	rec.Staff, _ = arguments["staff"].(bool)
	rec.Superuser, _ = arguments["superuser"].(bool)
	rec.UnusablePassword, _ = arguments["unusable_password"].(bool)

	if raw, ok := arguments["groups"]; ok && raw != nil {
		items, ok := raw.([]interface{})
		if !ok {
			return rec, errors.NewInvalidInputError("groups must be a list of names")
		}
		for _, item := range items {
			name, ok := item.(string)
			if !ok {
				return rec, errors.NewInvalidInputError("groups must be a list of names")
			}
			rec.Groups = append(rec.Groups, name)
		}
	}

	if raw, ok := arguments["initial_password_hash"]; ok && raw != nil {
		hash, ok := raw.(string)
		if !ok {
			return rec, errors.NewInvalidInputError("initial_password_hash must be a string")
		}
		rec.InitialPasswordHash = &hash
	}
	return rec, nil
}

func accountSummary(u *users.User) map[string]interface{} {
	return map[string]interface{}{
		"username":            u.UserName,
		"email":               u.Email,
		"is_staff":            u.IsStaff,
		"is_superuser":        u.IsSuperuser,
		"has_usable_password": passwords.IsUsable(u.Password),
		"groups":              u.GroupNames(),
		"has_profile":         u.Profile != nil,
	}
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode tool result: %w", err)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(data),
			},
		},
	}, nil
}

func errorResult(err error) *mcp.CallToolResult {
	text := err.Error()
	if appErr := errors.GetAppError(err); appErr != nil {
		text = fmt.Sprintf("%s: %s", appErr.Code, appErr.Message)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: text,
			},
		},
		IsError: true,
	}
}
