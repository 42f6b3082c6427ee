package credits

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/suPer8Hu/multichat/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInsufficientCredits = errors.New("insufficient credits")

// Ledger owns every write to users.credits.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) Balance(ctx context.Context, userID uint64) (decimal.Decimal, error) {
	var u models.User
	if err := l.db.WithContext(ctx).Select("id", "credits").First(&u, userID).Error; err != nil {
		return decimal.Zero, err
	}
	return u.Credits, nil
}

func (l *Ledger) HasAtLeast(ctx context.Context, userID uint64, threshold decimal.Decimal) (bool, error) {
	bal, err := l.Balance(ctx, userID)
	if err != nil {
		return false, err
	}
	return bal.GreaterThanOrEqual(threshold), nil
}

// Debit subtracts amount under a row lock and returns the new balance.
// The balance floors at zero.
func (l *Ledger) Debit(ctx context.Context, userID uint64, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return l.Balance(ctx, userID)
	}
	return l.apply(ctx, userID, func(cur decimal.Decimal) decimal.Decimal {
		next := cur.Sub(amount)
		if next.IsNegative() {
			return decimal.Zero
		}
		return next
	})
}

// Grant tops the balance up by amount.
func (l *Ledger) Grant(ctx context.Context, userID uint64, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.apply(ctx, userID, func(cur decimal.Decimal) decimal.Decimal {
		return cur.Add(amount)
	})
}

// Reset sets the balance to amount, used when a plan period starts.
func (l *Ledger) Reset(ctx context.Context, userID uint64, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.apply(ctx, userID, func(decimal.Decimal) decimal.Decimal {
		return amount
	})
}

func (l *Ledger) apply(ctx context.Context, userID uint64, fn func(decimal.Decimal) decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var u models.User
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id", "credits").
			First(&u, userID).Error; err != nil {
			return err
		}
		next := fn(u.Credits)
		if err := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Update("credits", next).Error; err != nil {
			return err
		}
		balance = next
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}
