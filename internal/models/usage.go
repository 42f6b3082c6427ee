package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UsageLog is one analytics row per model call. Only the usage worker writes it.
type UsageLog struct {
	ID               uint64          `gorm:"primaryKey;autoIncrement"`
	UserID           uint64          `gorm:"index;not null"`
	ChatID           string          `gorm:"type:varchar(64);index"`
	Model            string          `gorm:"type:varchar(32);not null"`
	Kind             string          `gorm:"type:varchar(16);not null"`
	PromptTokens     int             `gorm:"not null"`
	CompletionTokens int             `gorm:"not null"`
	TotalTokens      int             `gorm:"not null"`
	Credits          decimal.Decimal `gorm:"type:decimal(20,6);not null"`
	CreatedAt        time.Time
}
