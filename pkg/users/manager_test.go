package users

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/manageusers/pkg/config"
	"github.com/memtensor/manageusers/pkg/errors"
	"github.com/memtensor/manageusers/pkg/logger"
	"github.com/memtensor/manageusers/pkg/metrics"
	"github.com/memtensor/manageusers/pkg/types"
)

func setupTestManager(t *testing.T, mutate ...func(*config.Config)) *Manager {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "test_users.db")
	cfg.Passwords.BcryptCost = 4
	for _, fn := range mutate {
		fn(cfg)
	}

	manager, err := NewManager(cfg, logger.NewTestLogger(), metrics.NewNoOpMetrics())
	require.NoError(t, err)
	return manager
}

func teardownTestManager(t *testing.T, manager *Manager) {
	t.Helper()
	assert.NoError(t, manager.Close())
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Passwords.Schemes = []string{"rot13"}

	_, err := NewManager(cfg, logger.NewTestLogger(), nil)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
}

func TestManager_Reconcile(t *testing.T) {
	manager := setupTestManager(t)
	defer teardownTestManager(t, manager)
	ctx := context.Background()

	_, err := manager.CreateGroup(ctx, "editors", "Can edit content")
	require.NoError(t, err)

	outcome, err := manager.Reconcile(ctx, alice, DesiredState{IsStaff: true, GroupNames: []string{"editors"}})
	require.NoError(t, err)
	assert.Equal(t, types.ActionCreated, outcome.Action)

	user, err := manager.GetUserByName(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, user.IsStaff)
	assert.Equal(t, []string{"editors"}, user.GroupNames())

	logs, err := manager.AuditLogs(ctx, "alice", 0)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestManager_ProfilesDisabled(t *testing.T) {
	manager := setupTestManager(t, func(c *config.Config) { c.Profiles.Enabled = false })
	defer teardownTestManager(t, manager)
	ctx := context.Background()

	outcome, err := manager.Reconcile(ctx, alice, DesiredState{})
	require.NoError(t, err)
	assert.Equal(t, types.ActionSkipped, outcome.Action)

	_, err = manager.GetUserByName(ctx, "alice")
	assert.True(t, errors.IsNotFound(err))
}

func TestManager_Groups(t *testing.T) {
	manager := setupTestManager(t)
	defer teardownTestManager(t, manager)
	ctx := context.Background()

	_, err := manager.CreateGroup(ctx, "staff", "")
	require.NoError(t, err)
	_, err = manager.CreateGroup(ctx, "auditors", "")
	require.NoError(t, err)

	_, err = manager.CreateGroup(ctx, "staff", "again")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeAlreadyExists))

	_, err = manager.CreateGroup(ctx, "", "")
	assert.True(t, errors.HasCode(err, errors.ErrCodeMissingField))

	groups, err := manager.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"auditors", "staff"}, groupNames(groups))
}

func TestManager_ListUsers(t *testing.T) {
	manager := setupTestManager(t)
	defer teardownTestManager(t, manager)
	ctx := context.Background()

	for _, name := range []string{"carol", "alice", "bob"} {
		_, err := manager.Reconcile(ctx, Identity{Username: name, Email: name + "@example.com"}, DesiredState{})
		require.NoError(t, err)
	}

	page, total, err := manager.ListUsers(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, page, 2)
	assert.Equal(t, "alice", page[0].UserName)
	assert.Equal(t, "bob", page[1].UserName)

	page, _, err = manager.ListUsers(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "carol", page[0].UserName)
}

func TestManager_GetUserByName_NotFound(t *testing.T) {
	manager := setupTestManager(t)
	defer teardownTestManager(t, manager)

	_, err := manager.GetUserByName(context.Background(), "nobody")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestManager_HealthCheck(t *testing.T) {
	manager := setupTestManager(t)
	defer teardownTestManager(t, manager)

	assert.NoError(t, manager.HealthCheck(context.Background()))
}
