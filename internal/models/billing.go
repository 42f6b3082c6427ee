package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Plan struct {
	ID            uint64          `gorm:"primaryKey;autoIncrement" json:"-"`
	Name          string          `gorm:"type:varchar(32);uniqueIndex;not null" json:"name"`
	Rank          int             `gorm:"column:plan_rank;not null;default:0" json:"rank"`
	MonthlyCredit decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"monthly_credits"`
	StripePriceID string          `gorm:"type:varchar(128)" json:"-"`
	CreatedAt     time.Time       `json:"-"`
	UpdatedAt     time.Time       `json:"-"`
}

type SubscriptionStatus string

const (
	SubscriptionActive           SubscriptionStatus = "Active"
	SubscriptionPendingDowngrade SubscriptionStatus = "Pending Downgrade"
	SubscriptionCanceled         SubscriptionStatus = "Canceled"
)

// Live reports whether the row still counts as the user's current subscription.
func (s SubscriptionStatus) Live() bool {
	return s == SubscriptionActive || s == SubscriptionPendingDowngrade
}

type Subscription struct {
	ID          uint64             `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID      uint64             `gorm:"index;not null" json:"user_id"`
	Plan        string             `gorm:"type:varchar(32);not null" json:"plan"`
	PendingPlan *string            `gorm:"type:varchar(32)" json:"pending_plan,omitempty"`
	Status      SubscriptionStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	StartDate   time.Time          `gorm:"not null" json:"start_date"`
	EndDate     time.Time          `gorm:"not null" json:"end_date"`
	ProviderRef *string            `gorm:"type:varchar(128);index" json:"-"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}
