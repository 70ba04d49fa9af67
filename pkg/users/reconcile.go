package users

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/memtensor/manageusers/pkg/errors"
	"github.com/memtensor/manageusers/pkg/interfaces"
	"github.com/memtensor/manageusers/pkg/metrics"
	"github.com/memtensor/manageusers/pkg/types"
)

// Identity names the account being reconciled. Username is the lookup key;
// email only guards against reconciling someone else's account.
type Identity struct {
	Username string `json:"username" yaml:"username" validate:"required,max=150"`
	Email    string `json:"email" yaml:"email" validate:"required,email"`
}

// Validate checks the identity fields
func (i Identity) Validate() error {
	if strings.TrimSpace(i.Username) == "" {
		return errors.NewMissingFieldError("username")
	}
	if strings.TrimSpace(i.Email) == "" {
		return errors.NewMissingFieldError("email")
	}
	return nil
}

// DesiredState is the target state of one account
type DesiredState struct {
	Remove           bool
	IsStaff          bool
	IsSuperuser      bool
	GroupNames       []string
	UnusablePassword bool

	// InitialPasswordHash is applied only when the account is created.
	// InitialPasswordHashSet distinguishes an explicit empty hash, which is
	// rejected, from no hash at all.
	InitialPasswordHash    string
	InitialPasswordHashSet bool
}

func (d DesiredState) hasInitialHash() bool {
	return d.InitialPasswordHashSet || d.InitialPasswordHash != ""
}

// Outcome reports what a reconcile did
type Outcome struct {
	Username       string                `json:"username"`
	Action         types.ReconcileAction `json:"action"`
	Changes        []string              `json:"changes,omitempty"`
	AddedGroups    []string              `json:"added_groups,omitempty"`
	RemovedGroups  []string              `json:"removed_groups,omitempty"`
	ProfileCreated bool                  `json:"profile_created,omitempty"`
}

// Directory is the account and group storage seen inside one transaction
type Directory interface {
	// FindUser returns nil, nil when username does not exist
	FindUser(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, user *User) error
	SaveUser(ctx context.Context, user *User) error
	DeleteUser(ctx context.Context, user *User) error
	GroupsOf(ctx context.Context, userID string) ([]Group, error)
	FindGroups(ctx context.Context, names []string) ([]Group, error)
	ReplaceGroups(ctx context.Context, userID string, groups []Group) error
	RecordAudit(ctx context.Context, entry *AuditLog) error
}

// Transactor runs fn atomically; an error from fn discards every write it made
type Transactor interface {
	Transaction(ctx context.Context, fn func(Directory) error) error
}

// ProfileStore is the optional extended-profile capability
type ProfileStore interface {
	ProfileExists(ctx context.Context, dir Directory, userID string) (bool, error)
	CreateProfile(ctx context.Context, dir Directory, user *User) error
}

// HashValidator checks and produces stored credentials
type HashValidator interface {
	Validate(hash string) error
	IsUsable(hash string) bool
	Unusable() (string, error)
	RandomUsable() (string, error)
}

// Reconciler drives one account at a time to its desired state
type Reconciler struct {
	store    Transactor
	hashes   HashValidator
	profiles ProfileStore
	logger   interfaces.Logger
	metrics  interfaces.Metrics
	audit    bool
}

// ReconcilerOption configures a Reconciler
type ReconcilerOption func(*Reconciler)

// WithProfiles enables the profile capability
func WithProfiles(p ProfileStore) ReconcilerOption {
	return func(r *Reconciler) { r.profiles = p }
}

// WithMetrics records reconcile counters and durations
func WithMetrics(m interfaces.Metrics) ReconcilerOption {
	return func(r *Reconciler) {
		if m != nil {
			r.metrics = m
		}
	}
}

// WithAudit writes an AuditLog row for every mutating reconcile
func WithAudit(enabled bool) ReconcilerOption {
	return func(r *Reconciler) { r.audit = enabled }
}

// NewReconciler creates a reconciler
func NewReconciler(store Transactor, hashes HashValidator, logger interfaces.Logger, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		store:   store,
		hashes:  hashes,
		logger:  logger,
		metrics: metrics.NewNoOpMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile brings the account named by id to desired inside a single
// transaction. Calling it again with the same arguments writes nothing.
func (r *Reconciler) Reconcile(ctx context.Context, id Identity, desired DesiredState) (*Outcome, error) {
	start := time.Now()
	log := r.logger.WithFields(map[string]interface{}{"username": id.Username})
	log.Debug("reconciling user", map[string]interface{}{"remove": desired.Remove})

	if r.profiles == nil {
		log.Error("profile capability not configured, skipping user", errors.NewProfileUnavailableError())
		outcome := &Outcome{Username: id.Username, Action: types.ActionSkipped}
		r.record(outcome, nil, start)
		return outcome, nil
	}

	if err := id.Validate(); err != nil {
		r.record(nil, err, start)
		return nil, err
	}

	var outcome *Outcome
	err := r.store.Transaction(ctx, func(dir Directory) error {
		var err error
		if desired.Remove {
			outcome, err = r.remove(ctx, dir, id)
		} else {
			outcome, err = r.apply(ctx, dir, id, desired, log)
		}
		if err != nil {
			return err
		}
		if r.audit && outcome.Action.IsMutation() {
			return dir.RecordAudit(ctx, auditEntry(ctx, outcome))
		}
		return nil
	})

	r.record(outcome, err, start)
	if err != nil {
		log.Warn("reconcile failed", map[string]interface{}{"error": err.Error()})
		if appErr := errors.GetAppError(err); appErr != nil && appErr.RequestID == "" {
			appErr.WithRequestID(types.GetRequestContext(ctx).RequestID)
		}
		return nil, err
	}

	log.Info("user reconciled", map[string]interface{}{
		"action":         outcome.Action.String(),
		"changes":        outcome.Changes,
		"added_groups":   outcome.AddedGroups,
		"removed_groups": outcome.RemovedGroups,
	})
	return outcome, nil
}

func (r *Reconciler) remove(ctx context.Context, dir Directory, id Identity) (*Outcome, error) {
	user, err := dir.FindUser(ctx, id.Username)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return &Outcome{Username: id.Username, Action: types.ActionAbsent}, nil
	}
	if err := checkEmail(user, id); err != nil {
		return nil, err
	}
	if err := dir.DeleteUser(ctx, user); err != nil {
		return nil, err
	}
	return &Outcome{Username: id.Username, Action: types.ActionRemoved}, nil
}

func (r *Reconciler) apply(ctx context.Context, dir Directory, id Identity, desired DesiredState, log interfaces.Logger) (*Outcome, error) {
	outcome := &Outcome{Username: id.Username, Action: types.ActionUnchanged}

	user, err := dir.FindUser(ctx, id.Username)
	if err != nil {
		return nil, err
	}
	created := user == nil
	dirty := false
	var oldGroups []Group

	if created {
		user = &User{UserName: id.Username, Email: id.Email, IsActive: true}
		if err := r.assignInitialPassword(user, desired); err != nil {
			return nil, err
		}
	} else {
		// The email of an existing account is never overwritten.
		if err := checkEmail(user, id); err != nil {
			return nil, err
		}
		if oldGroups, err = dir.GroupsOf(ctx, user.UserID); err != nil {
			return nil, err
		}
	}

	if user.IsStaff != desired.IsStaff {
		outcome.Changes = append(outcome.Changes, fmt.Sprintf("is_staff: %t -> %t", user.IsStaff, desired.IsStaff))
		user.IsStaff = desired.IsStaff
		dirty = true
	}
	if user.IsSuperuser != desired.IsSuperuser {
		outcome.Changes = append(outcome.Changes, fmt.Sprintf("is_superuser: %t -> %t", user.IsSuperuser, desired.IsSuperuser))
		user.IsSuperuser = desired.IsSuperuser
		dirty = true
	}

	// Marking a password unusable is one-way; an unusable password is left alone.
	if desired.UnusablePassword && r.hashes.IsUsable(user.Password) {
		marker, err := r.hashes.Unusable()
		if err != nil {
			return nil, errors.NewInternalErrorWithCause("failed to generate unusable password", err)
		}
		user.Password = marker
		outcome.Changes = append(outcome.Changes, "password: set unusable")
		dirty = true
	}

	if created {
		if err := dir.CreateUser(ctx, user); err != nil {
			return nil, err
		}
	} else if dirty {
		if err := dir.SaveUser(ctx, user); err != nil {
			return nil, err
		}
	}

	exists, err := r.profiles.ProfileExists(ctx, dir, user.UserID)
	if err != nil {
		return nil, err
	}
	if !exists {
		if err := r.profiles.CreateProfile(ctx, dir, user); err != nil {
			return nil, err
		}
		outcome.ProfileCreated = true
	}

	newGroups, err := r.resolveGroups(ctx, dir, desired.GroupNames, log)
	if err != nil {
		return nil, err
	}
	outcome.AddedGroups = difference(newGroups, oldGroups)
	outcome.RemovedGroups = difference(oldGroups, newGroups)
	if len(outcome.AddedGroups) > 0 || len(outcome.RemovedGroups) > 0 {
		if err := dir.ReplaceGroups(ctx, user.UserID, newGroups); err != nil {
			return nil, err
		}
	}

	switch {
	case created:
		outcome.Action = types.ActionCreated
	case dirty || outcome.ProfileCreated || len(outcome.AddedGroups) > 0 || len(outcome.RemovedGroups) > 0:
		outcome.Action = types.ActionUpdated
	}
	return outcome, nil
}

// assignInitialPassword sets the credential of a brand-new account
func (r *Reconciler) assignInitialPassword(user *User, desired DesiredState) error {
	if desired.hasInitialHash() {
		hash := desired.InitialPasswordHash
		if !r.hashes.IsUsable(hash) {
			return errors.NewInvalidPasswordHashError(user.UserName, fmt.Errorf("password hash is empty or unusable"))
		}
		if err := r.hashes.Validate(hash); err != nil {
			return errors.NewInvalidPasswordHashError(user.UserName, err)
		}
		user.Password = hash
		return nil
	}

	// Random but usable, so the owner can still go through password reset.
	hash, err := r.hashes.RandomUsable()
	if err != nil {
		return errors.NewInternalErrorWithCause("failed to generate password", err)
	}
	user.Password = hash
	return nil
}

// resolveGroups maps names to existing groups. Unknown names are dropped.
func (r *Reconciler) resolveGroups(ctx context.Context, dir Directory, names []string, log interfaces.Logger) ([]Group, error) {
	wanted := uniqueNames(names)
	groups, err := dir.FindGroups(ctx, wanted)
	if err != nil {
		return nil, err
	}

	if len(groups) != len(wanted) {
		found := make(map[string]bool, len(groups))
		for _, g := range groups {
			found[g.Name] = true
		}
		for _, name := range wanted {
			if !found[name] {
				log.Debug("ignoring unknown group", map[string]interface{}{"group": name})
			}
		}
	}
	return groups, nil
}

func (r *Reconciler) record(outcome *Outcome, err error, start time.Time) {
	if err != nil {
		code := string(errors.ErrCodeInternal)
		if appErr := errors.GetAppError(err); appErr != nil {
			code = string(appErr.Code)
		}
		r.metrics.Counter(metrics.ReconcileErrors, 1, map[string]string{"code": code})
		return
	}

	labels := map[string]string{"action": outcome.Action.String()}
	r.metrics.Counter(metrics.ReconcileTotal, 1, labels)
	r.metrics.Timer(metrics.ReconcileDuration, time.Since(start).Seconds(), labels)
	if n := len(outcome.AddedGroups); n > 0 {
		r.metrics.Counter(metrics.GroupChanges, float64(n), map[string]string{"direction": "added"})
	}
	if n := len(outcome.RemovedGroups); n > 0 {
		r.metrics.Counter(metrics.GroupChanges, float64(n), map[string]string{"direction": "removed"})
	}
}

func checkEmail(user *User, id Identity) error {
	if !strings.EqualFold(user.Email, id.Email) {
		return errors.NewEmailMismatchError(user.UserName)
	}
	return nil
}

func auditEntry(ctx context.Context, outcome *Outcome) *AuditLog {
	rc := types.GetRequestContext(ctx)
	details := strings.Join(outcome.Changes, "; ")
	if len(outcome.AddedGroups) > 0 {
		details = joinDetail(details, "added groups: "+strings.Join(outcome.AddedGroups, ","))
	}
	if len(outcome.RemovedGroups) > 0 {
		details = joinDetail(details, "removed groups: "+strings.Join(outcome.RemovedGroups, ","))
	}
	return &AuditLog{
		UserName:  outcome.Username,
		Action:    "user_" + outcome.Action.String(),
		Resource:  "users",
		Details:   details,
		Operator:  rc.Operator,
		RequestID: rc.RequestID,
		Success:   true,
	}
}

func joinDetail(details, part string) string {
	if details == "" {
		return part
	}
	return details + "; " + part
}

// difference returns the sorted names of groups in a but not in b
func difference(a, b []Group) []string {
	inB := make(map[string]bool, len(b))
	for _, g := range b {
		inB[g.GroupID] = true
	}
	var names []string
	for _, g := range a {
		if !inB[g.GroupID] {
			names = append(names, g.Name)
		}
	}
	sort.Strings(names)
	return names
}

func uniqueNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
