// Package users reconciles user accounts against a desired state.
//
// A reconcile takes an Identity (username plus email) and a DesiredState and,
// inside one database transaction, either removes the account or creates and
// updates it so that its staff and superuser flags, password usability and
// group membership match. Reconciling the same input twice writes nothing the
// second time.
//
// # Architecture
//
//	┌─────────────────┐
//	│    Manager      │  ← CLI and API entry point
//	├─────────────────┤
//	│   Reconciler    │  ← Desired-state logic, one transaction per identity
//	├─────────────────┤
//	│   Repository    │  ← Transactor and Directory over gorm
//	├─────────────────┤
//	│   GORM/SQLite   │  ← Database layer
//	└─────────────────┘
//
// # Rules
//
//   - The username is the lookup key. The email must match the stored one
//     case-insensitively or the identity is rejected; it is never overwritten.
//   - New accounts get the caller's initial password hash, which must be a
//     usable hash of an enabled scheme, or a random usable bcrypt hash.
//   - Setting an unusable password is one-way.
//   - Group names that do not exist are ignored; groups are never created here.
//   - Membership is replaced, not merged, with the resolved groups.
//   - Without a profile store the reconcile is skipped and logged as an error.
//
// # Quick Start
//
//	cfg := config.Default()
//	cfg.Database.Path = "./data/accounts.db"
//
//	manager, err := users.NewManager(cfg, logger.NewConsoleLogger("info"), metrics.NewNoOpMetrics())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer manager.Close()
//
//	outcome, err := manager.Reconcile(ctx,
//	    users.Identity{Username: "alice", Email: "alice@example.com"},
//	    users.DesiredState{IsStaff: true, GroupNames: []string{"editors"}},
//	)
package users
