package models

import "github.com/google/uuid"

type Pool struct {
	BaseModel
	Name         string    `json:"name" gorm:"type:varchar(255);not null"`
	Description  *string   `json:"description,omitempty" gorm:"type:text"`
	CreatedByID  uuid.UUID `json:"createdByID" gorm:"type:uuid;not null;index"`
	PublicAccess bool      `json:"publicAccess" gorm:"not null;default:false;index"`
	Accesses     []Access  `json:"-" gorm:"foreignKey:PoolID"`
	Files        []File    `json:"-" gorm:"foreignKey:PoolID"`
}

func (Pool) TableName() string {
	return "pools"
}
