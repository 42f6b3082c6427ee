package billing

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/suPer8Hu/multichat/internal/common"
)

// Gateway is the payment provider surface billing needs.
type Gateway interface {
	CreateSubscription(ctx context.Context, userID uint64, email, priceID string) (ref string, periodEnd time.Time, err error)
	CancelAtPeriodEnd(ctx context.Context, ref string) error
	Resume(ctx context.Context, ref string) error
	Cancel(ctx context.Context, ref string) error
}

type StripeGateway struct{}

// NewStripeGateway sets the process-wide stripe key.
func NewStripeGateway(secretKey string) *StripeGateway {
	stripe.Key = secretKey
	return &StripeGateway{}
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, userID uint64, email, priceID string) (string, time.Time, error) {
	cust, err := customer.New(&stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(email),
		Metadata: map[string]string{
			"user_id": strconv.FormatUint(userID, 10),
		},
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create stripe customer: %w", err)
	}

	sub, err := subscription.New(&stripe.SubscriptionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(cust.ID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create stripe subscription: %w", err)
	}

	end := time.Now().AddDate(0, 1, 0)
	if sub.CurrentPeriodEnd > 0 {
		end = time.Unix(sub.CurrentPeriodEnd, 0)
	}
	return sub.ID, end, nil
}

func (g *StripeGateway) CancelAtPeriodEnd(ctx context.Context, ref string) error {
	_, err := subscription.Update(ref, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	return err
}

func (g *StripeGateway) Resume(ctx context.Context, ref string) error {
	_, err := subscription.Update(ref, &stripe.SubscriptionParams{
		Params:            stripe.Params{Context: ctx},
		CancelAtPeriodEnd: stripe.Bool(false),
	})
	return err
}

func (g *StripeGateway) Cancel(ctx context.Context, ref string) error {
	_, err := subscription.Cancel(ref, &stripe.SubscriptionCancelParams{
		Params: stripe.Params{Context: ctx},
	})
	return err
}

// OfflineGateway stands in when no stripe key is configured. It issues
// local references and month-long periods.
type OfflineGateway struct{}

func (OfflineGateway) CreateSubscription(ctx context.Context, userID uint64, email, priceID string) (string, time.Time, error) {
	id, err := common.NewULID()
	if err != nil {
		return "", time.Time{}, err
	}
	log.Printf("[Billing] offline subscription user=%d price=%s", userID, priceID)
	return "offline_" + id, time.Now().AddDate(0, 1, 0), nil
}

func (OfflineGateway) CancelAtPeriodEnd(context.Context, string) error { return nil }
func (OfflineGateway) Resume(context.Context, string) error            { return nil }
func (OfflineGateway) Cancel(context.Context, string) error            { return nil }
