package users

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User represents an account in the system
type User struct {
	UserID      string    `gorm:"primaryKey;type:varchar(36)" json:"user_id"`
	UserName    string    `gorm:"uniqueIndex;not null" json:"user_name"`
	Email       string    `gorm:"not null;default:''" json:"email"`
	IsStaff     bool      `gorm:"not null;default:false" json:"is_staff"`
	IsSuperuser bool      `gorm:"not null;default:false" json:"is_superuser"`
	Password    string    `gorm:"not null" json:"-"` // Hash or unusable marker, never returned in JSON
	IsActive    bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`

	// Relationships
	Groups  []Group      `gorm:"many2many:user_groups;joinForeignKey:UserID;joinReferences:GroupID" json:"groups,omitempty"`
	Profile *UserProfile `gorm:"foreignKey:UserID" json:"profile,omitempty"`
}

// BeforeCreate hook for User model
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.UserID == "" {
		u.UserID = uuid.New().String()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = time.Now()
	return nil
}

// BeforeUpdate hook for User model
func (u *User) BeforeUpdate(tx *gorm.DB) error {
	u.UpdatedAt = time.Now()
	return nil
}

// GroupNames returns the sorted names of the loaded groups
func (u *User) GroupNames() []string {
	return groupNames(u.Groups)
}

// Group is a named set of users. Groups are managed separately and are
// never created as a side effect of reconciling a user.
type Group struct {
	GroupID     string    `gorm:"primaryKey;type:varchar(36)" json:"group_id"`
	Name        string    `gorm:"uniqueIndex;not null" json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
}

// BeforeCreate hook for Group model
func (g *Group) BeforeCreate(tx *gorm.DB) error {
	if g.GroupID == "" {
		g.GroupID = uuid.New().String()
	}
	g.CreatedAt = time.Now()
	return nil
}

// UserGroup is the join row between users and groups
type UserGroup struct {
	UserID    string    `gorm:"primaryKey;type:varchar(36)"`
	GroupID   string    `gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName pins the join table shared with User.Groups
func (UserGroup) TableName() string {
	return "user_groups"
}

// BeforeCreate hook for UserGroup
func (ug *UserGroup) BeforeCreate(tx *gorm.DB) error {
	ug.CreatedAt = time.Now()
	return nil
}

// UserProfile represents extended user profile information
type UserProfile struct {
	UserID      string    `gorm:"primaryKey;type:varchar(36)" json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Timezone    string    `json:"timezone,omitempty"`
	Language    string    `json:"language,omitempty"`
	CreatedAt   time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt   time.Time `gorm:"not null" json:"updated_at"`
}

// BeforeCreate hook for UserProfile model
func (up *UserProfile) BeforeCreate(tx *gorm.DB) error {
	up.CreatedAt = time.Now()
	up.UpdatedAt = time.Now()
	return nil
}

// BeforeUpdate hook for UserProfile model
func (up *UserProfile) BeforeUpdate(tx *gorm.DB) error {
	up.UpdatedAt = time.Now()
	return nil
}

// AuditLog records one mutating reconcile
type AuditLog struct {
	LogID     string    `gorm:"primaryKey;type:varchar(36)" json:"log_id"`
	UserName  string    `gorm:"index;not null" json:"user_name"`
	Action    string    `gorm:"not null" json:"action"`
	Resource  string    `gorm:"not null" json:"resource"`
	Details   string    `gorm:"type:text" json:"details,omitempty"`
	Operator  string    `json:"operator,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Success   bool      `gorm:"not null" json:"success"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// BeforeCreate hook for AuditLog model
func (al *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if al.LogID == "" {
		al.LogID = uuid.New().String()
	}
	al.CreatedAt = time.Now()
	return nil
}

func groupNames(groups []Group) []string {
	names := make([]string, 0, len(groups))
	for _, g := range groups {
		names = append(names, g.Name)
	}
	sort.Strings(names)
	return names
}
