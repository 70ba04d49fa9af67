package users

import (
	"context"
	"fmt"

	"github.com/memtensor/manageusers/pkg/config"
	"github.com/memtensor/manageusers/pkg/errors"
	"github.com/memtensor/manageusers/pkg/interfaces"
	"github.com/memtensor/manageusers/pkg/passwords"
	"github.com/memtensor/manageusers/pkg/types"
)

// Manager is the account service used by the CLI and the admin API
type Manager struct {
	config     *config.Config
	repository *Repository
	reconciler *Reconciler
	logger     interfaces.Logger
}

// NewManager opens the configured database and wires the reconciler
func NewManager(cfg *config.Config, logger interfaces.Logger, m interfaces.Metrics) (*Manager, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	hashes, err := passwords.NewValidator(cfg.Passwords.Schemes, cfg.Passwords.BcryptCost,
		passwords.WithMaxBcryptCost(cfg.Passwords.MaxBcryptCost),
		passwords.WithMaxCryptRounds(cfg.Passwords.MaxCryptRounds),
	)
	if err != nil {
		return nil, errors.WrapError(err, types.ErrorTypeConfiguration, errors.ErrCodeConfigInvalid, "invalid password settings")
	}

	// Initialize repository
	repository, err := NewRepository(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}

	opts := []ReconcilerOption{
		WithMetrics(m),
		WithAudit(cfg.Audit.Enabled),
	}
	if cfg.Profiles.Enabled {
		opts = append(opts, WithProfiles(NewProfileStore()))
	}

	return &Manager{
		config:     cfg,
		repository: repository,
		reconciler: NewReconciler(repository, hashes, logger, opts...),
		logger:     logger,
	}, nil
}

// Reconcile brings one account to its desired state
func (m *Manager) Reconcile(ctx context.Context, id Identity, desired DesiredState) (*Outcome, error) {
	return m.reconciler.Reconcile(ctx, id, desired)
}

// Group Management Operations

// CreateGroup creates a new group
func (m *Manager) CreateGroup(ctx context.Context, name, description string) (*Group, error) {
	if name == "" {
		return nil, errors.NewMissingFieldError("name")
	}
	group, err := m.repository.CreateGroup(ctx, name, description)
	if err != nil {
		return nil, err
	}
	m.logger.Info("group created", map[string]interface{}{"group": name})
	return group, nil
}

// ListGroups returns every group
func (m *Manager) ListGroups(ctx context.Context) ([]Group, error) {
	return m.repository.ListGroups(ctx)
}

// User Queries

// GetUserByName returns the account with its groups and profile
func (m *Manager) GetUserByName(ctx context.Context, username string) (*User, error) {
	user, err := m.repository.GetUserByName(ctx, username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewNotFoundError(fmt.Sprintf("user %q", username))
	}
	return user, nil
}

// ListUsers returns a page of accounts and the total count
func (m *Manager) ListUsers(ctx context.Context, limit, offset int) ([]User, int64, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return m.repository.ListUsers(ctx, limit, offset)
}

// AuditLogs returns the newest audit records, optionally for one username
func (m *Manager) AuditLogs(ctx context.Context, username string, limit int) ([]AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	return m.repository.GetAuditLogs(ctx, username, limit)
}

// HealthCheck verifies the database is reachable
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.repository.HealthCheck(ctx)
}

// Close releases the database
func (m *Manager) Close() error {
	return m.repository.Close()
}
