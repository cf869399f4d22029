package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/kanghyki/badang-post-office/pkg/enums"
)

// Postcard is the unit of work moving through the delivery pipeline.
type Postcard struct {
	ID                uuid.UUID            `gorm:"type:uuid;primaryKey"`
	UserID            uuid.UUID            `gorm:"type:uuid;not null;index"`
	Status            enums.PostcardStatus `gorm:"type:text;not null;default:'writing';index"`
	TemplateID        string               `gorm:"type:text;not null"`
	OriginalText      string               `gorm:"type:text;not null"`
	TranslatedText    *string              `gorm:"type:text"`
	UserPhotoPath     *string              `gorm:"type:text"`
	StylizedPhotoPath *string              `gorm:"type:text"`
	RenderedImagePath *string              `gorm:"type:text"`
	RecipientEmail    string               `gorm:"type:text;not null"`
	RecipientName     *string              `gorm:"type:text"`
	SenderName        *string              `gorm:"type:text"`
	ScheduledAt       *time.Time           `gorm:"index"`
	SentAt            *time.Time
	ErrorMessage      *string   `gorm:"type:text"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
