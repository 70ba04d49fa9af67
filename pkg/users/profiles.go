package users

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/memtensor/manageusers/pkg/errors"
)

// GormProfileStore keeps one UserProfile row per account, written through
// the same transaction as the account itself.
type GormProfileStore struct{}

// NewProfileStore creates the gorm-backed profile store
func NewProfileStore() *GormProfileStore {
	return &GormProfileStore{}
}

// ProfileExists reports whether userID already has a profile
func (s *GormProfileStore) ProfileExists(ctx context.Context, dir Directory, userID string) (bool, error) {
	db, err := handleOf(dir)
	if err != nil {
		return false, err
	}

	var count int64
	if err := db.WithContext(ctx).Model(&UserProfile{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return false, errors.NewDatabaseErrorWithCause("failed to check user profile", err)
	}
	return count > 0, nil
}

// CreateProfile creates an empty profile for user
func (s *GormProfileStore) CreateProfile(ctx context.Context, dir Directory, user *User) error {
	db, err := handleOf(dir)
	if err != nil {
		return err
	}

	profile := &UserProfile{UserID: user.UserID, DisplayName: user.UserName}
	if err := db.WithContext(ctx).Create(profile).Error; err != nil {
		return errors.NewDatabaseErrorWithCause("failed to create user profile", err)
	}
	return nil
}

// gormDirectory is a Directory whose writes go through a gorm handle that
// other stores can join
type gormDirectory interface {
	Directory
	DB() *gorm.DB
}

var _ gormDirectory = (*directory)(nil)

func handleOf(dir Directory) (*gorm.DB, error) {
	h, ok := dir.(gormDirectory)
	if !ok {
		return nil, errors.NewInternalError(fmt.Sprintf("profile store cannot share a %T transaction", dir))
	}
	return h.DB(), nil
}
