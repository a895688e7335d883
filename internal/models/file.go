package models

import (
	"time"

	"github.com/google/uuid"
)

type File struct {
	BaseModel
	Name           string     `json:"name" gorm:"type:varchar(255);not null"`
	Path           string     `json:"path" gorm:"type:varchar(1024);not null"`
	PoolID         uuid.UUID  `json:"poolID" gorm:"type:uuid;not null;index"`
	UploaderID     uuid.UUID  `json:"uploaderID" gorm:"type:uuid;not null;index"`
	Description    *string    `json:"description,omitempty" gorm:"type:text"`
	ExpirationDate *time.Time `json:"expirationDate,omitempty"`

	Pool     Pool `json:"pool,omitempty" gorm:"foreignKey:PoolID;references:ID"`
	Uploader User `json:"uploader,omitempty" gorm:"foreignKey:UploaderID;references:ID"`
}

func (File) TableName() string {
	return "files"
}
