package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v79"
	"github.com/suPer8Hu/multichat/internal/credits"
	"github.com/suPer8Hu/multichat/internal/models"
	"gorm.io/gorm"
)

var (
	ErrUnknownPlan          = errors.New("unknown plan")
	ErrNoActiveSubscription = errors.New("no active subscription")
	ErrInvalidTransition    = errors.New("invalid subscription transition")
	ErrAlreadySubscribed    = errors.New("already subscribed to this plan")
)

// CreditsCache is a balance cache that must forget a user whose credits
// were reset.
type CreditsCache interface {
	InvalidateCredits(ctx context.Context, userID uint64) error
}

type Service struct {
	db      *gorm.DB
	ledger  *credits.Ledger
	gateway Gateway
	cache   CreditsCache
	now     func() time.Time
}

func NewService(db *gorm.DB, ledger *credits.Ledger, gateway Gateway) *Service {
	if gateway == nil {
		gateway = OfflineGateway{}
	}
	return &Service{db: db, ledger: ledger, gateway: gateway, now: time.Now}
}

// SetCreditsCache registers the cache invalidated after every credit reset.
func (s *Service) SetCreditsCache(c CreditsCache) {
	s.cache = c
}

// resetCredits sets the plan grant and drops the cached balance.
func (s *Service) resetCredits(ctx context.Context, userID uint64, amount decimal.Decimal) error {
	if _, err := s.ledger.Reset(ctx, userID, amount); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.InvalidateCredits(ctx, userID); err != nil {
			log.Printf("[Billing] invalidate credits failed user=%d err=%v", userID, err)
		}
	}
	return nil
}

func (s *Service) Plans(ctx context.Context) ([]models.Plan, error) {
	var plans []models.Plan
	if err := s.db.WithContext(ctx).Order("plan_rank ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}

func (s *Service) plan(ctx context.Context, name string) (*models.Plan, error) {
	var p models.Plan
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, name)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Current returns the user's Active or Pending Downgrade subscription.
func (s *Service) Current(ctx context.Context, userID uint64) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status IN ?", userID,
			[]models.SubscriptionStatus{models.SubscriptionActive, models.SubscriptionPendingDowngrade}).
		Order("id DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoActiveSubscription
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Subscribe replaces any live subscription with a new Active one and resets
// the balance to the plan grant.
func (s *Service) Subscribe(ctx context.Context, userID uint64, planName string) (*models.Subscription, error) {
	plan, err := s.plan(ctx, planName)
	if err != nil {
		return nil, err
	}
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, err
	}

	prev, err := s.Current(ctx, userID)
	if err != nil && !errors.Is(err, ErrNoActiveSubscription) {
		return nil, err
	}
	if prev != nil && prev.Plan == plan.Name && prev.Status == models.SubscriptionActive {
		return nil, ErrAlreadySubscribed
	}

	now := s.now()
	sub := &models.Subscription{
		UserID:    userID,
		Plan:      plan.Name,
		Status:    models.SubscriptionActive,
		StartDate: now,
		EndDate:   now.AddDate(0, 1, 0),
	}
	if plan.StripePriceID != "" {
		ref, end, err := s.gateway.CreateSubscription(ctx, userID, user.Email, plan.StripePriceID)
		if err != nil {
			return nil, err
		}
		sub.ProviderRef = &ref
		sub.EndDate = end
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Subscription{}).
			Where("user_id = ? AND status IN ?", userID,
				[]models.SubscriptionStatus{models.SubscriptionActive, models.SubscriptionPendingDowngrade}).
			Updates(map[string]any{"status": models.SubscriptionCanceled, "pending_plan": nil}).Error; err != nil {
			return err
		}
		if err := tx.Create(sub).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).Update("plan", plan.Name).Error
	})
	if err != nil {
		return nil, err
	}

	// the replaced paid subscription stops billing now; a pending downgrade
	// is already set to end at its period end
	if prev != nil && prev.ProviderRef != nil && prev.Status == models.SubscriptionActive {
		if err := s.gateway.Cancel(ctx, *prev.ProviderRef); err != nil {
			log.Printf("[Billing] cancel replaced subscription failed user=%d ref=%s err=%v", userID, *prev.ProviderRef, err)
		}
	}

	if err := s.resetCredits(ctx, userID, plan.MonthlyCredit); err != nil {
		return nil, err
	}
	log.Printf("[Billing] subscribed user=%d plan=%s end=%s", userID, plan.Name, sub.EndDate.Format(time.RFC3339))
	return sub, nil
}

// Downgrade schedules a move to a lower plan at the end of the current period.
func (s *Service) Downgrade(ctx context.Context, userID uint64, planName string) (*models.Subscription, error) {
	target, err := s.plan(ctx, planName)
	if err != nil {
		return nil, err
	}
	sub, err := s.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionActive {
		return nil, fmt.Errorf("%w: subscription is %s", ErrInvalidTransition, sub.Status)
	}
	cur, err := s.plan(ctx, sub.Plan)
	if err != nil {
		return nil, err
	}
	if target.Rank >= cur.Rank {
		return nil, fmt.Errorf("%w: %s is not below %s", ErrInvalidTransition, target.Name, cur.Name)
	}

	if sub.ProviderRef != nil {
		if err := s.gateway.CancelAtPeriodEnd(ctx, *sub.ProviderRef); err != nil {
			return nil, err
		}
	}

	sub.Status = models.SubscriptionPendingDowngrade
	sub.PendingPlan = &target.Name
	if err := s.db.WithContext(ctx).Model(sub).Updates(map[string]any{
		"status":       sub.Status,
		"pending_plan": target.Name,
	}).Error; err != nil {
		return nil, err
	}
	return sub, nil
}

// Restore undoes a pending downgrade before it takes effect.
func (s *Service) Restore(ctx context.Context, userID uint64) (*models.Subscription, error) {
	sub, err := s.Current(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionPendingDowngrade || !s.now().Before(sub.EndDate) {
		return nil, fmt.Errorf("%w: nothing to restore", ErrInvalidTransition)
	}
	if sub.ProviderRef != nil {
		if err := s.gateway.Resume(ctx, *sub.ProviderRef); err != nil {
			return nil, err
		}
	}

	sub.Status = models.SubscriptionActive
	sub.PendingPlan = nil
	if err := s.db.WithContext(ctx).Model(sub).Updates(map[string]any{
		"status":       sub.Status,
		"pending_plan": nil,
	}).Error; err != nil {
		return nil, err
	}
	return sub, nil
}

// Cancel ends the live subscription immediately. Canceled is terminal.
func (s *Service) Cancel(ctx context.Context, userID uint64) error {
	sub, err := s.Current(ctx, userID)
	if err != nil {
		return err
	}
	if sub.ProviderRef != nil {
		if err := s.gateway.Cancel(ctx, *sub.ProviderRef); err != nil {
			return err
		}
	}
	return s.markCanceled(ctx, sub)
}

func (s *Service) markCanceled(ctx context.Context, sub *models.Subscription) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Subscription{}).
			Where("id = ?", sub.ID).
			Updates(map[string]any{"status": models.SubscriptionCanceled, "pending_plan": nil}).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", sub.UserID).Update("plan", PlanFree).Error
	})
}

// ApplyDueDowngrades moves every pending downgrade whose period has ended
// onto its pending plan. Returns how many were applied. Failed moves stay
// pending and are retried on the next call.
func (s *Service) ApplyDueDowngrades(ctx context.Context, now time.Time) (int, error) {
	var due []models.Subscription
	if err := s.db.WithContext(ctx).
		Where("status = ? AND end_date <= ?", models.SubscriptionPendingDowngrade, now).
		Find(&due).Error; err != nil {
		return 0, err
	}

	applied := 0
	for i := range due {
		sub := &due[i]
		target := PlanFree
		if sub.PendingPlan != nil {
			target = *sub.PendingPlan
		}
		// Subscribe cancels the pending row in the same transaction that
		// creates the new one, so a failure leaves it pending for the next run.
		if _, err := s.Subscribe(ctx, sub.UserID, target); err != nil {
			log.Printf("[Billing] apply downgrade subscribe failed user=%d plan=%s err=%v", sub.UserID, target, err)
			continue
		}
		applied++
	}
	return applied, nil
}

// HandleWebhookEvent applies provider-side changes. Signature checks happen
// before this, if at all.
func (s *Service) HandleWebhookEvent(ctx context.Context, ev stripe.Event) error {
	if ev.Data == nil {
		return fmt.Errorf("webhook event %s has no data", ev.ID)
	}
	switch ev.Type {
	case "customer.subscription.deleted":
		var ss stripe.Subscription
		if err := json.Unmarshal(ev.Data.Raw, &ss); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		sub, err := s.byProviderRef(ctx, ss.ID)
		if err != nil {
			return err
		}
		if sub.Status == models.SubscriptionCanceled {
			return nil
		}
		return s.markCanceled(ctx, sub)

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		if inv.Subscription == nil || inv.Subscription.ID == "" {
			return nil
		}
		sub, err := s.byProviderRef(ctx, inv.Subscription.ID)
		if err != nil {
			return err
		}
		if !sub.Status.Live() {
			return nil
		}
		plan, err := s.plan(ctx, sub.Plan)
		if err != nil {
			return err
		}
		end := sub.EndDate.AddDate(0, 1, 0)
		if inv.PeriodEnd > 0 {
			end = time.Unix(inv.PeriodEnd, 0)
		}
		if err := s.db.WithContext(ctx).Model(sub).Update("end_date", end).Error; err != nil {
			return err
		}
		return s.resetCredits(ctx, sub.UserID, plan.MonthlyCredit)

	default:
		log.Printf("[Billing] ignoring webhook event type=%s id=%s", ev.Type, ev.ID)
		return nil
	}
}

func (s *Service) byProviderRef(ctx context.Context, ref string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := s.db.WithContext(ctx).
		Where("provider_ref = ?", ref).
		Order("id DESC").
		First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}
