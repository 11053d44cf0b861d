package handlers

import (
	"database/sql"
	"net/http"
	"time"

	"airvend/internal/pricing"
	tellerapi "airvend/pkg/api/teller"
	"airvend/pkg/logging"
	"airvend/pkg/middleware"
	"airvend/pkg/models"
)

func loadSubscription(org string) (*models.Subscription, error) {
	var s models.Subscription
	err := db.QueryRow(`
		SELECT id, org_id, tier_name, status, billing_email, custom_fee_percent,
		       period_started_at, period_transactions, created_at, updated_at
		FROM teller.subscriptions
		WHERE org_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, org).Scan(&s.ID, &s.OrgID, &s.TierName, &s.Status, &s.BillingEmail, &s.CustomFeePercent,
		&s.PeriodStartedAt, &s.PeriodTransactions, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func tierInfo(t *pricing.Tier) tellerapi.TierInfo {
	return tellerapi.TierInfo{
		Name:              t.Name,
		DisplayName:       t.DisplayName,
		FeePercent:        t.FeePercent,
		MonthlyTxLimit:    t.MonthlyTxLimit,
		CustomerLimit:     t.CustomerLimit,
		Features:          t.Features(),
		MonthlyPriceCents: t.MonthlyPriceCents,
		IsEnterprise:      t.IsEnterprise,
	}
}

// GetSubscription returns the org's subscription with its tier configuration
// and effective platform fee.
func GetSubscription(c middleware.Context) {
	org := orgID(c)

	sub, err := loadSubscription(org)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "No subscription found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to get subscription")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get subscription"})
		return
	}

	tier := pricing.GetTier(sub.TierName)
	if tier == nil {
		tier = pricing.GetTier("starter")
	}

	c.JSON(http.StatusOK, tellerapi.SubscriptionStatusResponse{
		Subscription: *sub,
		Tier:         tierInfo(tier),
		FeePercent:   pricing.EffectiveFeePercent(sub.TierName, sub.CustomFeePercent),
	})
}

// ChangeTier moves the subscription to another pricing tier. Downgrades take
// effect immediately; the current period's counters carry over.
func ChangeTier(c middleware.Context) {
	org := orgID(c)

	var req tellerapi.ChangeTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	if _, ok := pricing.Tiers[req.TierName]; !ok {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Unknown tier: " + req.TierName, Code: "invalid_tier"})
		return
	}

	sub, err := loadSubscription(org)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "No subscription found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to get subscription")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to change tier"})
		return
	}
	if sub.Status != models.SubscriptionActive {
		c.JSON(http.StatusConflict, tellerapi.ErrorResponse{
			Error: "Subscription is not active",
			Code:  "subscription_" + sub.Status,
		})
		return
	}
	if sub.TierName == req.TierName {
		c.JSON(http.StatusOK, tellerapi.SuccessResponse{Success: true, Message: "Already on tier " + req.TierName})
		return
	}

	// Custom fee overrides only make sense on enterprise arrangements; they
	// are cleared on any move to a standard tier.
	_, err = db.Exec(`
		UPDATE teller.subscriptions
		SET tier_name = $1,
		    custom_fee_percent = CASE WHEN $1 = 'enterprise' THEN custom_fee_percent ELSE NULL END,
		    updated_at = NOW()
		WHERE id = $2
	`, req.TierName, sub.ID)
	if err != nil {
		logger.WithError(err).Error("Failed to change tier")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to change tier"})
		return
	}

	logger.WithFields(logging.Fields{
		"org_id":   org,
		"old_tier": sub.TierName,
		"new_tier": req.TierName,
	}).Info("Subscription tier changed")

	c.JSON(http.StatusOK, tellerapi.SuccessResponse{Success: true, Message: "Tier changed to " + req.TierName})
}

// SetSubscriptionStatus suspends or reactivates the org's subscription.
// Admin only. Suspension requires a reason and notifies the billing contact;
// cancelled subscriptions cannot change status.
func SetSubscriptionStatus(c middleware.Context) {
	org := orgID(c)

	var req tellerapi.ChangeSubscriptionStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}
	if req.Status == models.SubscriptionSuspended && req.Reason == "" {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{
			Error: "Reason is required when suspending",
			Code:  "reason_required",
		})
		return
	}

	sub, err := loadSubscription(org)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "No subscription found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to get subscription")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to change subscription status"})
		return
	}
	if sub.Status == models.SubscriptionCancelled {
		c.JSON(http.StatusConflict, tellerapi.ErrorResponse{
			Error: "Subscription is cancelled",
			Code:  "subscription_cancelled",
		})
		return
	}
	if sub.Status == req.Status {
		c.JSON(http.StatusOK, tellerapi.SuccessResponse{Success: true, Message: "Subscription already " + req.Status})
		return
	}

	if _, err := db.Exec(`
		UPDATE teller.subscriptions SET status = $1, updated_at = NOW() WHERE id = $2
	`, req.Status, sub.ID); err != nil {
		logger.WithError(err).Error("Failed to change subscription status")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to change subscription status"})
		return
	}

	logger.WithFields(logging.Fields{
		"org_id":     org,
		"old_status": sub.Status,
		"new_status": req.Status,
		"reason":     req.Reason,
	}).Warn("Subscription status changed")

	if req.Status == models.SubscriptionSuspended {
		notifySuspension(sub, req.Reason)
	}

	c.JSON(http.StatusOK, tellerapi.SuccessResponse{Success: true, Message: "Subscription " + req.Status})
}

// notifySuspension emails the billing contact. Failures are logged, never
// surfaced to the API caller.
func notifySuspension(sub *models.Subscription, reason string) {
	if sub.BillingEmail == "" || !emailService.IsConfigured() {
		return
	}
	if err := emailService.SendSuspensionNotification(sub.BillingEmail, reason); err != nil {
		logger.WithError(err).Warn("Failed to send suspension notification")
	}
}

// GetUsage reports current-period usage against the tier limits.
func GetUsage(c middleware.Context) {
	org := orgID(c)

	sub, err := loadSubscription(org)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "No subscription found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to get subscription")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get usage"})
		return
	}

	var customerCount int
	if err := db.QueryRow(`SELECT COUNT(*) FROM teller.customers WHERE org_id = $1`, org).Scan(&customerCount); err != nil {
		logger.WithError(err).Error("Failed to count customers")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get usage"})
		return
	}

	tier := pricing.GetTier(sub.TierName)
	if tier == nil {
		tier = pricing.GetTier("starter")
	}

	c.JSON(http.StatusOK, tellerapi.UsageResponse{
		PeriodStartedAt:    sub.PeriodStartedAt.Format(time.RFC3339),
		PeriodTransactions: sub.PeriodTransactions,
		MonthlyTxLimit:     tier.MonthlyTxLimit,
		Customers:          customerCount,
		CustomerLimit:      tier.CustomerLimit,
	})
}

// GetTiers lists the public pricing table. No auth required.
func GetTiers(c middleware.Context) {
	tiers := pricing.ListTiers()
	infos := make([]tellerapi.TierInfo, 0, len(tiers))
	for _, t := range tiers {
		infos = append(infos, tierInfo(t))
	}
	c.JSON(http.StatusOK, tellerapi.ListTiersResponse{Tiers: infos, Count: len(infos)})
}
