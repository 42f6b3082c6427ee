package billing

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/suPer8Hu/multichat/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	PlanFree    = "Free"
	PlanPro     = "Pro"
	PlanPremium = "Premium"
)

// DefaultPlans is the static plan table. Rank orders upgrades and downgrades.
func DefaultPlans(proPriceID, premiumPriceID string) []models.Plan {
	return []models.Plan{
		{Name: PlanFree, Rank: 0, MonthlyCredit: decimal.NewFromInt(5)},
		{Name: PlanPro, Rank: 1, MonthlyCredit: decimal.NewFromInt(100), StripePriceID: proPriceID},
		{Name: PlanPremium, Rank: 2, MonthlyCredit: decimal.NewFromInt(300), StripePriceID: premiumPriceID},
	}
}

// SeedPlans upserts the plan table by name.
func SeedPlans(ctx context.Context, db *gorm.DB, plans []models.Plan) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"plan_rank", "monthly_credit", "stripe_price_id", "updated_at"}),
	}).Create(&plans).Error
}
