package batch

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/manageusers/pkg/config"
	"github.com/memtensor/manageusers/pkg/errors"
	"github.com/memtensor/manageusers/pkg/logger"
	"github.com/memtensor/manageusers/pkg/metrics"
	"github.com/memtensor/manageusers/pkg/types"
	"github.com/memtensor/manageusers/pkg/users"
)

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Reconcile(ctx context.Context, id users.Identity, desired users.DesiredState) (*users.Outcome, error) {
	args := m.Called(ctx, id, desired)
	outcome, _ := args.Get(0).(*users.Outcome)
	return outcome, args.Error(1)
}

func entriesFrom(t *testing.T, input string) []Entry {
	t.Helper()
	entries, err := ParseLines(strings.NewReader(input))
	require.NoError(t, err)
	return entries
}

func TestRunner_ContinuesAfterFailure(t *testing.T) {
	rec := &mockReconciler{}
	rec.On("Reconcile", mock.Anything, users.Identity{Username: "alice", Email: "alice@example.com"}, mock.Anything).
		Return(nil, errors.NewEmailMismatchError("alice")).Once()
	rec.On("Reconcile", mock.Anything, users.Identity{Username: "bob", Email: "bob@example.com"}, mock.Anything).
		Return(&users.Outcome{Username: "bob", Action: types.ActionCreated}, nil).Once()

	entries := entriesFrom(t, "alice alice@example.com\nbroken\nbob bob@example.com --staff\n")
	m := metrics.NewTestMetrics()
	report := NewRunner(rec, logger.NewTestLogger(), m).Run(context.Background(), entries)

	require.Len(t, report.Results, 3)
	assert.Equal(t, 2, report.Failed())
	assert.True(t, errors.IsEmailMismatch(report.Results[0].Err))
	assert.True(t, errors.HasCode(report.Results[1].Err, errors.ErrCodeInvalidInput))
	assert.Equal(t, types.ActionCreated, report.Results[2].Outcome.Action)
	assert.Equal(t, map[types.ReconcileAction]int{types.ActionCreated: 1}, report.Counts())
	assert.Equal(t, "3 records: 1 created, 2 failed", report.Summary())

	list, ok := report.Errors().(*errors.ErrorList)
	require.True(t, ok)
	assert.Len(t, list.Errors, 2)

	expected := `
# HELP manageusers_batch_records Gauge batch records.
# TYPE manageusers_batch_records gauge
manageusers_batch_records{status="failed"} 2
manageusers_batch_records{status="ok"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "manageusers_batch_records"))
	rec.AssertExpectations(t)
}

func TestRunner_PassesDesiredState(t *testing.T) {
	rec := &mockReconciler{}
	rec.On("Reconcile", mock.Anything, mock.Anything, users.DesiredState{
		IsStaff:                true,
		GroupNames:             []string{"a", "b"},
		InitialPasswordHash:    "",
		InitialPasswordHashSet: true,
	}).Return(&users.Outcome{Action: types.ActionUpdated}, nil).Once()

	report := NewRunner(rec, logger.NewTestLogger(), nil).
		Run(context.Background(), entriesFrom(t, "alice alice@example.com --staff -g a --groups b --initial-password-hash=\n"))

	assert.Zero(t, report.Failed())
	assert.Nil(t, report.Errors())
	rec.AssertExpectations(t)
}

func TestRunner_Cancelled(t *testing.T) {
	rec := &mockReconciler{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := NewRunner(rec, logger.NewTestLogger(), nil).
		Run(ctx, entriesFrom(t, "alice alice@example.com\nbob bob@example.com\n"))

	assert.Equal(t, 2, report.Failed())
	rec.AssertNotCalled(t, "Reconcile", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_WithManager(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "batch.db")
	cfg.Passwords.BcryptCost = 4

	manager, err := users.NewManager(cfg, logger.NewTestLogger(), metrics.NewNoOpMetrics())
	require.NoError(t, err)
	defer manager.Close()

	ctx := context.Background()
	_, err = manager.CreateGroup(ctx, "editors", "")
	require.NoError(t, err)

	manifest := `
users:
  - username: alice
    email: alice@example.com
    staff: true
    groups: [editors, ghosts]
  - username: bob
    email: bob@example.com
    initial_password_hash: not-a-hash
  - username: alice
    email: alice@example.com
    staff: true
    groups: [editors]
`
	entries, err := ParseYAML(strings.NewReader(manifest))
	require.NoError(t, err)

	report := NewRunner(manager, logger.NewTestLogger(), nil).Run(ctx, entries)
	require.Len(t, report.Results, 3)
	assert.Equal(t, types.ActionCreated, report.Results[0].Outcome.Action)
	assert.True(t, errors.IsInvalidPasswordHash(report.Results[1].Err))
	assert.Equal(t, types.ActionUnchanged, report.Results[2].Outcome.Action)

	_, err = manager.GetUserByName(ctx, "bob")
	assert.True(t, errors.IsNotFound(err))
}
