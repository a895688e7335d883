package models

import "strings"

type UserRole string

const (
	UserRoleAdmin UserRole = "ADMIN"
	UserRoleUser  UserRole = "USER"
)

type User struct {
	BaseModel
	Subject      string   `json:"subject" gorm:"type:varchar(255);uniqueIndex;not null"`
	// Email is optional; identities without one store the empty string, and
	// the partial index keeps uniqueness without colliding on it.
	Email        string   `json:"email" gorm:"type:varchar(255);index:idx_users_email,unique,where:email <> ''"`
	PasswordHash string   `json:"-" gorm:"type:text"`
	FirstName    string   `json:"firstName" gorm:"type:varchar(100)"`
	LastName     string   `json:"lastName" gorm:"type:varchar(100)"`
	Role         UserRole `json:"role" gorm:"type:varchar(20);not null;default:'USER'"`
	Accesses     []Access `json:"-" gorm:"foreignKey:UserID"`
	Files        []File   `json:"-" gorm:"foreignKey:UploaderID"`
}

// IsGlobalAdmin reports whether the coarse platform role grants the
// administrative override. Call sites decide where the override applies;
// pool-level checks never consult it on their own.
func (u *User) IsGlobalAdmin() bool {
	return strings.EqualFold(string(u.Role), string(UserRoleAdmin))
}
