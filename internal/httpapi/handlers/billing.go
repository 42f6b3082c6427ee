package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	"github.com/suPer8Hu/multichat/internal/billing"
	"github.com/suPer8Hu/multichat/internal/common"
	"github.com/suPer8Hu/multichat/internal/models"
	"gorm.io/gorm"
)

// webhook payloads above this size are rejected
const maxWebhookBody = 1 << 16

type planReq struct {
	Plan string `json:"plan"`
}

func billingError(c *gin.Context, op string, uid uint64, err error) {
	switch {
	case errors.Is(err, billing.ErrUnknownPlan):
		common.Fail(c, http.StatusBadRequest, 10006, err.Error())
	case errors.Is(err, billing.ErrNoActiveSubscription):
		common.Fail(c, http.StatusNotFound, 40403, "no active subscription")
	case errors.Is(err, billing.ErrInvalidTransition), errors.Is(err, billing.ErrAlreadySubscribed):
		common.Fail(c, http.StatusConflict, 40901, err.Error())
	case errors.Is(err, gorm.ErrRecordNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "user not found")
	default:
		log.Printf("[Billing] %s failed uid=%d err=%v", op, uid, err)
		common.Fail(c, http.StatusInternalServerError, 50010, "billing error")
	}
}

func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.BillingSvc.Plans(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "db error")
		return
	}
	common.OK(c, gin.H{"plans": plans})
}

func (h *Handler) GetSubscription(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sub, err := h.BillingSvc.Current(c.Request.Context(), uid)
	if err != nil {
		billingError(c, "current", uid, err)
		return
	}
	common.OK(c, gin.H{"subscription": sub})
}

func (h *Handler) Subscribe(c *gin.Context) {
	h.planChange(c, "subscribe", h.BillingSvc.Subscribe)
}

func (h *Handler) Downgrade(c *gin.Context) {
	h.planChange(c, "downgrade", h.BillingSvc.Downgrade)
}

func (h *Handler) planChange(c *gin.Context, op string, fn func(ctx context.Context, userID uint64, plan string) (*models.Subscription, error)) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	var req planReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Plan == "" {
		common.Fail(c, http.StatusBadRequest, 10001, "plan required")
		return
	}

	sub, err := fn(c.Request.Context(), uid, req.Plan)
	if err != nil {
		billingError(c, op, uid, err)
		return
	}
	common.OK(c, gin.H{"subscription": sub})
}

func (h *Handler) RestoreSubscription(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	sub, err := h.BillingSvc.Restore(c.Request.Context(), uid)
	if err != nil {
		billingError(c, "restore", uid, err)
		return
	}
	common.OK(c, gin.H{"subscription": sub})
}

func (h *Handler) CancelSubscription(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	if err := h.BillingSvc.Cancel(c.Request.Context(), uid); err != nil {
		billingError(c, "cancel", uid, err)
		return
	}
	common.OK(c, gin.H{"canceled": true})
}

// StripeWebhook accepts provider events. Signatures are not verified.
func (h *Handler) StripeWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid body")
		return
	}
	var ev stripe.Event
	if err := json.Unmarshal(body, &ev); err != nil || ev.Type == "" {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid event")
		return
	}

	if err := h.BillingSvc.HandleWebhookEvent(c.Request.Context(), ev); err != nil {
		// unknown subscriptions are acknowledged so the provider stops retrying
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("[StripeWebhook] no local subscription event_id=%s type=%s", ev.ID, ev.Type)
			common.OK(c, gin.H{"received": true})
			return
		}
		log.Printf("[StripeWebhook] handle failed event_id=%s type=%s err=%v", ev.ID, ev.Type, err)
		common.Fail(c, http.StatusInternalServerError, 50011, "webhook handling failed")
		return
	}
	common.OK(c, gin.H{"received": true})
}
