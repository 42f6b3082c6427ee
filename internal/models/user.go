package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Email        string          `gorm:"type:varchar(255);uniqueIndex;not null" json:"email"`
	Username     string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"username"`
	PasswordHash string          `gorm:"type:varchar(255);not null" json:"-"`
	Credits      decimal.Decimal `gorm:"type:decimal(20,6);not null;default:0" json:"credits"`
	Plan         string          `gorm:"type:varchar(32);not null;default:'Free'" json:"plan"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
