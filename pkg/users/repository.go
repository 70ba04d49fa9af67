package users

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/memtensor/manageusers/pkg/config"
	"github.com/memtensor/manageusers/pkg/errors"
	"github.com/memtensor/manageusers/pkg/interfaces"
)

const sqliteBusyTimeout = "_busy_timeout=5000"

// Repository provides data access for accounts, groups, profiles and audit records
type Repository struct {
	db     *gorm.DB
	config config.DatabaseConfig
	logger interfaces.Logger
}

// NewRepository opens the configured database and migrates the schema
func NewRepository(cfg config.DatabaseConfig, logger interfaces.Logger) (*Repository, error) {
	var db *gorm.DB
	var err error

	gormCfg := &gorm.Config{
		Logger: newGormLogger(logger, cfg.LogQueries),
	}

	switch cfg.Type {
	case "sqlite":
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err = gorm.Open(sqlite.Open(sqliteDSN(cfg.Path)), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// sqlite serializes writers; one connection keeps transactions from
	// tripping over each other with SQLITE_BUSY.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	repo := &Repository{
		db:     db,
		config: cfg,
		logger: logger,
	}

	// Auto-migrate database schema
	if err := repo.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return repo, nil
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqliteBusyTimeout
	}
	return path + "?" + sqliteBusyTimeout
}

// migrate runs database migrations
func (r *Repository) migrate() error {
	if err := r.db.SetupJoinTable(&User{}, "Groups", &UserGroup{}); err != nil {
		return err
	}
	return r.db.AutoMigrate(
		&User{},
		&Group{},
		&UserGroup{},
		&UserProfile{},
		&AuditLog{},
	)
}

// Transaction runs fn against a Directory bound to a single database
// transaction. Returning an error from fn rolls everything back.
func (r *Repository) Transaction(ctx context.Context, fn func(Directory) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&directory{db: tx})
	})
	if err != nil && !errors.IsAppError(err) {
		return errors.NewTransactionFailedError(err)
	}
	return err
}

// User operations

// GetUserByName retrieves a user with groups and profile loaded; nil when absent
func (r *Repository) GetUserByName(ctx context.Context, username string) (*User, error) {
	var user User
	err := r.db.WithContext(ctx).
		Preload("Groups", func(db *gorm.DB) *gorm.DB { return db.Order("groups.name") }).
		Preload("Profile").
		Where("user_name = ?", username).
		First(&user).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errors.NewDatabaseErrorWithCause("failed to get user by name", err)
	}
	return &user, nil
}

// ListUsers returns users ordered by name with pagination
func (r *Repository) ListUsers(ctx context.Context, limit, offset int) ([]User, int64, error) {
	var users []User
	var total int64

	db := r.db.WithContext(ctx)

	// Get total count
	if err := db.Model(&User{}).Count(&total).Error; err != nil {
		return nil, 0, errors.NewDatabaseErrorWithCause("failed to count users", err)
	}

	err := db.Preload("Groups", func(db *gorm.DB) *gorm.DB { return db.Order("groups.name") }).
		Order("user_name").Limit(limit).Offset(offset).Find(&users).Error
	if err != nil {
		return nil, 0, errors.NewDatabaseErrorWithCause("failed to list users", err)
	}

	return users, total, nil
}

// Group operations

// CreateGroup creates a group; the name must be unused
func (r *Repository) CreateGroup(ctx context.Context, name, description string) (*Group, error) {
	group := &Group{Name: name, Description: description}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := (&directory{db: tx}).FindGroups(ctx, []string{name})
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return errors.NewAlreadyExistsError(fmt.Sprintf("group %q", name))
		}
		if err := tx.Create(group).Error; err != nil {
			return errors.NewDatabaseErrorWithCause("failed to create group", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return group, nil
}

// ListGroups returns all groups ordered by name
func (r *Repository) ListGroups(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := r.db.WithContext(ctx).Order("name").Find(&groups).Error; err != nil {
		return nil, errors.NewDatabaseErrorWithCause("failed to list groups", err)
	}
	return groups, nil
}

// Audit log operations

// GetAuditLogs returns the newest audit records, optionally for one username
func (r *Repository) GetAuditLogs(ctx context.Context, username string, limit int) ([]AuditLog, error) {
	var logs []AuditLog
	query := r.db.WithContext(ctx).Model(&AuditLog{})
	if username != "" {
		query = query.Where("user_name = ?", username)
	}
	if err := query.Order("created_at DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, errors.NewDatabaseErrorWithCause("failed to get audit logs", err)
	}
	return logs, nil
}

// Health check operation

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	return sqlDB.Close()
}

// directory implements Directory over a gorm handle, usually a transaction
type directory struct {
	db *gorm.DB
}

// DB exposes the underlying handle to stores sharing the transaction
func (d *directory) DB() *gorm.DB {
	return d.db
}

func (d *directory) FindUser(ctx context.Context, username string) (*User, error) {
	var user User
	if err := d.db.WithContext(ctx).Where("user_name = ?", username).First(&user).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, errors.NewDatabaseErrorWithCause("failed to find user", err)
	}
	return &user, nil
}

func (d *directory) CreateUser(ctx context.Context, user *User) error {
	if err := d.db.WithContext(ctx).Omit(clause.Associations).Create(user).Error; err != nil {
		return errors.NewDatabaseErrorWithCause("failed to create user", err)
	}
	return nil
}

func (d *directory) SaveUser(ctx context.Context, user *User) error {
	if err := d.db.WithContext(ctx).Omit(clause.Associations).Save(user).Error; err != nil {
		return errors.NewDatabaseErrorWithCause("failed to update user", err)
	}
	return nil
}

// DeleteUser removes the account together with its profile and memberships
func (d *directory) DeleteUser(ctx context.Context, user *User) error {
	db := d.db.WithContext(ctx)
	if err := db.Where("user_id = ?", user.UserID).Delete(&UserGroup{}).Error; err != nil {
		return errors.NewDatabaseErrorWithCause("failed to delete group memberships", err)
	}
	if err := db.Where("user_id = ?", user.UserID).Delete(&UserProfile{}).Error; err != nil {
		return errors.NewDatabaseErrorWithCause("failed to delete user profile", err)
	}
	if err := db.Delete(user).Error; err != nil {
		return errors.NewDatabaseErrorWithCause("failed to delete user", err)
	}
	return nil
}

func (d *directory) GroupsOf(ctx context.Context, userID string) ([]Group, error) {
	var groups []Group
	err := d.db.WithContext(ctx).
		Joins("JOIN user_groups ON user_groups.group_id = groups.group_id").
		Where("user_groups.user_id = ?", userID).
		Order("groups.name").
		Find(&groups).Error
	if err != nil {
		return nil, errors.NewDatabaseErrorWithCause("failed to get user groups", err)
	}
	return groups, nil
}

// FindGroups resolves names to groups; unknown names are simply absent from the result
func (d *directory) FindGroups(ctx context.Context, names []string) ([]Group, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var groups []Group
	if err := d.db.WithContext(ctx).Where("name IN ?", names).Order("name").Find(&groups).Error; err != nil {
		return nil, errors.NewDatabaseErrorWithCause("failed to find groups", err)
	}
	return groups, nil
}

// ReplaceGroups makes groups the complete membership of userID
func (d *directory) ReplaceGroups(ctx context.Context, userID string, groups []Group) error {
	db := d.db.WithContext(ctx)
	if err := db.Where("user_id = ?", userID).Delete(&UserGroup{}).Error; err != nil {
		return errors.NewDatabaseErrorWithCause("failed to clear group memberships", err)
	}
	if len(groups) == 0 {
		return nil
	}

	rows := make([]UserGroup, 0, len(groups))
	for _, g := range groups {
		rows = append(rows, UserGroup{UserID: userID, GroupID: g.GroupID})
	}
	if err := db.Create(&rows).Error; err != nil {
		return errors.NewDatabaseErrorWithCause("failed to add group memberships", err)
	}
	return nil
}

func (d *directory) RecordAudit(ctx context.Context, entry *AuditLog) error {
	if err := d.db.WithContext(ctx).Create(entry).Error; err != nil {
		return errors.NewDatabaseErrorWithCause("failed to create audit log", err)
	}
	return nil
}

// gormLogger forwards gorm's own diagnostics to the application logger
type gormLogger struct {
	logger        interfaces.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

func newGormLogger(logger interfaces.Logger, logQueries bool) gormlogger.Interface {
	level := gormlogger.Warn
	if logQueries {
		level = gormlogger.Info
	}
	return &gormLogger{logger: logger.WithFields(map[string]interface{}{"component": "gorm"}), level: level, slowThreshold: 200 * time.Millisecond}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *l
	clone.level = level
	return &clone
}

func (l *gormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger.Error(fmt.Sprintf(msg, args...), nil)
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && err != gorm.ErrRecordNotFound && l.level >= gormlogger.Error:
		sql, rows := fc()
		l.logger.Error("query failed", err, map[string]interface{}{"sql": sql, "rows": rows, "elapsed": elapsed.String()})
	case elapsed > l.slowThreshold && l.level >= gormlogger.Warn:
		sql, rows := fc()
		l.logger.Warn("slow query", map[string]interface{}{"sql": sql, "rows": rows, "elapsed": elapsed.String()})
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.logger.Debug("query", map[string]interface{}{"sql": sql, "rows": rows, "elapsed": elapsed.String()})
	}
}
