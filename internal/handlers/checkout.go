package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"airvend/internal/ledger"
	"airvend/internal/pricing"
	"airvend/internal/provider"
	tellerapi "airvend/pkg/api/teller"
	"airvend/pkg/countries"
	"airvend/pkg/logging"
	"airvend/pkg/middleware"
	"airvend/pkg/models"
	"airvend/pkg/validation"
)

func loadPricingRules(org string) ([]models.PricingRule, error) {
	rows, err := db.Query(`
		SELECT id, org_id, rule_type, value_cents, percent, country, operator,
		       priority, is_active, created_at, updated_at
		FROM teller.pricing_rules
		WHERE org_id = $1 AND is_active
		ORDER BY priority DESC
	`, org)
	if err != nil {
		return nil, fmt.Errorf("failed to query pricing rules: %w", err)
	}
	defer rows.Close()

	var rules []models.PricingRule
	for rows.Next() {
		var r models.PricingRule
		if err := rows.Scan(&r.ID, &r.OrgID, &r.RuleType, &r.ValueCents, &r.Percent,
			&r.Country, &r.Operator, &r.Priority, &r.IsActive, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pricing rule: %w", err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

func loadActiveDiscount(org string) (*models.Discount, error) {
	var d models.Discount
	err := db.QueryRow(`
		SELECT id, org_id, discount_type, value_cents, percent, min_purchase_cents,
		       is_active, created_at, updated_at
		FROM teller.discounts
		WHERE org_id = $1 AND is_active
		ORDER BY created_at DESC
		LIMIT 1
	`, org).Scan(&d.ID, &d.OrgID, &d.DiscountType, &d.ValueCents, &d.Percent,
		&d.MinPurchaseCents, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query discount: %w", err)
	}
	return &d, nil
}

// loadCatalog fetches the provider catalog for a country/operator pair
// through the shared cache.
func loadCatalog(ctx context.Context, country, operator string) ([]provider.Product, error) {
	key := "catalog:" + country + ":" + operator
	val, ok, err := catalogCache.Get(ctx, key, func(ctx context.Context, _ string) (interface{}, bool, error) {
		products, err := topupClient.Catalog(ctx, country, operator)
		if err != nil {
			countProviderCall("catalog", "error")
			return nil, false, err
		}
		countProviderCall("catalog", "success")
		return products, true, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return val.([]provider.Product), nil
}

func findProduct(products []provider.Product, sku string) *provider.Product {
	for i := range products {
		if strings.EqualFold(products[i].SKU, sku) {
			return &products[i]
		}
	}
	return nil
}

// Checkout creates a top-up transaction. Balance payments debit the customer
// up front and go straight to the provider; gateway payments stay pending
// until the payment webhook confirms them.
func Checkout(c middleware.Context) {
	org := orgID(c)
	if org == "" {
		c.JSON(http.StatusUnauthorized, tellerapi.ErrorResponse{Error: "Organization context required"})
		return
	}

	var req tellerapi.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	country := countries.Normalize(req.Country)
	if !countries.IsValid(country) {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid country code", Code: "invalid_country"})
		return
	}
	if req.PaymentType == models.PaymentTypeBalance && req.CustomerID == "" {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{
			Error: "customer_id is required for balance payments",
			Code:  "customer_required",
		})
		return
	}

	sub, err := loadSubscription(org)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusForbidden, tellerapi.ErrorResponse{Error: "No subscription found", Code: "no_subscription"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to load subscription")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Checkout failed"})
		return
	}
	if sub.Status != models.SubscriptionActive {
		countCheckout("subscription_blocked")
		c.JSON(http.StatusForbidden, tellerapi.ErrorResponse{
			Error: "Subscription is " + sub.Status,
			Code:  "subscription_" + sub.Status,
		})
		return
	}

	tier := pricing.GetTier(sub.TierName)
	if tier == nil {
		tier = pricing.GetTier("starter")
	}
	if tier.MonthlyTxLimit > 0 && sub.PeriodTransactions >= tier.MonthlyTxLimit {
		countCheckout("limit_reached")
		c.JSON(http.StatusForbidden, tellerapi.ErrorResponse{
			Error: "Monthly transaction limit reached for current tier",
			Code:  "tx_limit_reached",
		})
		return
	}

	products, err := loadCatalog(c.Request.Context(), country, req.Operator)
	if err != nil {
		countCheckout("catalog_error")
		logger.WithError(err).Error("Failed to load provider catalog")
		c.JSON(http.StatusBadGateway, tellerapi.ErrorResponse{Error: "Provider catalog unavailable", Code: "provider_unavailable"})
		return
	}
	product := findProduct(products, req.SKUCode)
	if product == nil {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Unknown product: " + req.SKUCode, Code: "unknown_sku"})
		return
	}

	rules, err := loadPricingRules(org)
	if err != nil {
		logger.WithError(err).Error("Failed to load pricing rules")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Checkout failed"})
		return
	}
	discount, err := loadActiveDiscount(org)
	if err != nil {
		logger.WithError(err).Error("Failed to load discount")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Checkout failed"})
		return
	}

	quote := pricing.Evaluate(product.CostCents, rules, discount, country, req.Operator)
	if quote.RequiresReview {
		countCheckout("price_review")
		logger.WithFields(logging.Fields{
			"org_id":  org,
			"sku":     req.SKUCode,
			"rule_id": quote.AppliedRuleID,
		}).Warn("Pricing produced a clamped quote, checkout blocked")
		c.JSON(http.StatusConflict, tellerapi.ErrorResponse{
			Error: "Pricing configuration needs review for this product",
			Code:  "pricing_review",
		})
		return
	}

	orderID := "ord_" + uuid.New().String()
	meta := models.TransactionMetadata{
		Kind: models.MetadataKindTopup,
		Topup: &models.TopupMetadata{
			SKU:      product.SKU,
			Operator: req.Operator,
		},
	}
	metaJSON, _ := json.Marshal(meta)

	var customerID interface{}
	if req.CustomerID != "" {
		customerID = req.CustomerID
	}

	t := &models.Transaction{}
	err = db.QueryRow(`
		INSERT INTO teller.transactions
			(org_id, customer_id, order_id, status, amount_cents, cost_cents, currency,
			 recipient_phone, operator, sku_code, payment_type, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING `+transactionColumns+`
	`, org, customerID, orderID, models.StatusPending, quote.FinalPriceCents, product.CostCents,
		product.Currency, req.RecipientPhone, req.Operator, product.SKU, req.PaymentType, metaJSON).Scan(
		&t.ID, &t.OrgID, &t.CustomerID, &t.OrderID, &t.Status,
		&t.AmountCents, &t.CostCents, &t.Currency, &t.RecipientPhone, &t.Operator, &t.SKUCode,
		&t.PaymentType, &t.StatusReason, &t.Metadata, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		logger.WithError(err).Error("Failed to create transaction")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Checkout failed"})
		return
	}

	if _, err := db.Exec(`
		UPDATE teller.subscriptions SET period_transactions = period_transactions + 1, updated_at = NOW()
		WHERE id = $1
	`, sub.ID); err != nil {
		logger.WithError(err).Warn("Failed to bump period transaction counter")
	}

	if req.PaymentType == models.PaymentTypeGateway {
		// Gateway orders sit pending until the payment webhook confirms
		// them; provider submission happens there.
		countCheckout("pending_gateway")
		c.JSON(http.StatusCreated, tellerapi.CheckoutResponse{
			Transaction:              *t,
			PriceBeforeDiscountCents: quote.PriceBeforeDiscountCents,
			DiscountApplied:          quote.DiscountApplied,
		})
		return
	}

	// Balance payment: debit up front, then submit to the provider.
	_, err = ledgerSvc.Withdraw(c.Request.Context(), org, req.CustomerID, quote.FinalPriceCents,
		fmt.Sprintf("Top-up order %s", orderID))
	if err != nil {
		if _, terr := transitionStatus(c.Request.Context(), t.ID, models.StatusPending, models.StatusFailed, "balance debit failed"); terr != nil {
			logger.WithError(terr).Error("Failed to fail transaction after debit error")
		}
		switch {
		case errors.Is(err, ledger.ErrInsufficientBalance):
			countCheckout("insufficient_balance")
			c.JSON(http.StatusUnprocessableEntity, tellerapi.ErrorResponse{
				Error: "Insufficient balance",
				Code:  "insufficient_balance",
			})
		case errors.Is(err, ledger.ErrCustomerNotFound):
			c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Customer not found"})
		default:
			logger.WithError(err).Error("Balance debit failed")
			c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Checkout failed"})
		}
		return
	}

	if _, err := transitionStatus(c.Request.Context(), t.ID, models.StatusPending, models.StatusPaid, ""); err != nil {
		logger.WithError(err).Error("Failed to mark transaction paid")
	}

	submitTopup(c.Request.Context(), t, meta)
	countCheckout("created")

	t, err = getTransactionByID(org, t.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to reload transaction"})
		return
	}
	c.JSON(http.StatusCreated, tellerapi.CheckoutResponse{
		Transaction:              *t,
		PriceBeforeDiscountCents: quote.PriceBeforeDiscountCents,
		DiscountApplied:          quote.DiscountApplied,
	})
}

// submitTopup sends a paid transaction to the top-up provider and advances it
// to processing, or to failed when the provider rejects it. Used by both the
// balance checkout path and the payment webhook.
func submitTopup(ctx context.Context, t *models.Transaction, meta models.TransactionMetadata) {
	if meta.Topup == nil {
		// Fill in the topup payload without losing a gateway reference the
		// metadata may already carry.
		meta.Kind = models.MetadataKindTopup
		meta.Topup = &models.TopupMetadata{
			SKU:      t.SKUCode,
			Operator: t.Operator,
		}
	}

	resp, err := topupClient.Submit(ctx, provider.SubmitRequest{
		OrderID:        t.OrderID,
		SKU:            t.SKUCode,
		RecipientPhone: t.RecipientPhone,
		AmountCents:    t.AmountCents,
	})
	if err != nil {
		countProviderCall("submit", "error")
		reason := "provider submission failed"
		if perr, ok := provider.AsError(err); ok {
			reason = fmt.Sprintf("provider rejected: %s", perr.Message)
		}
		logger.WithError(err).WithField("order_id", t.OrderID).Error("Provider submission failed")
		if _, terr := transitionStatus(ctx, t.ID, models.StatusPaid, models.StatusFailed, reason); terr != nil {
			logger.WithError(terr).Error("Failed to fail transaction after provider error")
		}
		return
	}

	countProviderCall("submit", "success")
	meta.Topup.ProviderID = resp.ProviderID
	if err := validation.ValidateMetadata(&meta); err != nil {
		logger.WithError(err).WithField("order_id", t.OrderID).Warn("Refusing to store invalid topup metadata")
	} else if metaJSON, err := json.Marshal(meta); err == nil {
		if _, err := db.ExecContext(ctx, `
			UPDATE teller.transactions SET metadata = $1, updated_at = NOW() WHERE id = $2
		`, metaJSON, t.ID); err != nil {
			logger.WithError(err).Warn("Failed to store provider reference")
		}
	}

	target := models.StatusProcessing
	if resp.Status == provider.SubmitDelivered {
		target = models.StatusCompleted
	}
	if _, err := transitionStatus(ctx, t.ID, models.StatusPaid, target, ""); err != nil {
		logger.WithError(err).Error("Failed to advance transaction after submission")
	}
}
