package models

import (
	"strings"

	"github.com/google/uuid"
)

// AccessRole is the closed set of role tiers a membership row can carry.
// Rows are stored as free-form strings; ParseRole folds whatever is stored
// into this enumeration so an unrecognized value can never be elevated by
// a typo at a call site.
type AccessRole string

const (
	RoleOwner   AccessRole = "owner"
	RoleAdmin   AccessRole = "admin"
	RoleMember  AccessRole = "member"
	RoleUnknown AccessRole = "unknown"
)

func ParseRole(raw string) AccessRole {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "owner":
		return RoleOwner
	case "admin":
		return RoleAdmin
	case "member":
		return RoleMember
	default:
		return RoleUnknown
	}
}

// Elevated reports whether the role may modify pool contents and
// membership. Unknown roles keep read access but never elevate.
func (r AccessRole) Elevated() bool {
	return r == RoleOwner || r == RoleAdmin
}

type Access struct {
	BaseModel
	UserID uuid.UUID `json:"userID" gorm:"type:uuid;not null;index;uniqueIndex:idx_user_pool"`
	PoolID uuid.UUID `json:"poolID" gorm:"type:uuid;not null;index;uniqueIndex:idx_user_pool"`
	Role   string    `json:"role" gorm:"type:varchar(32);not null;default:'member'"`
	User   User      `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Pool   Pool      `json:"pool,omitempty" gorm:"foreignKey:PoolID"`
}

func (Access) TableName() string {
	return "accesses"
}
