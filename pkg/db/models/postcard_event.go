package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/kanghyki/badang-post-office/pkg/enums"
)

// PostcardEvent is one append-only entry in a postcard's progress history.
// Rows double as the replay source for subscribers that join late or miss a
// live pub/sub message.
type PostcardEvent struct {
	ID         uuid.UUID               `gorm:"type:uuid;primaryKey"`
	PostcardID uuid.UUID               `gorm:"type:uuid;not null;index"`
	EventType  enums.PostcardEventType `gorm:"type:text;not null"`
	ErrorText  *string                 `gorm:"type:text"`
	CreatedAt  time.Time               `gorm:"column:created_at;autoCreateTime"`
}
