package teller

import "airvend/pkg/models"

// CreateCustomerRequest creates a customer under the caller's organization.
type CreateCustomerRequest struct {
	Phone   string `json:"phone" binding:"required"`
	Email   string `json:"email" binding:"omitempty,email"`
	Name    string `json:"name"`
	Country string `json:"country"`
	// Currency defaults to the platform ledger currency when empty.
	Currency string `json:"currency"`
}

// UpdateCustomerRequest updates customer identity fields. Balance fields are
// not updatable here; the ledger owns them.
type UpdateCustomerRequest struct {
	Email   *string `json:"email,omitempty" binding:"omitempty,email"`
	Name    *string `json:"name,omitempty"`
	Country *string `json:"country,omitempty"`
}

// BalanceOpRequest is the body for assign/withdraw ledger operations.
type BalanceOpRequest struct {
	AmountCents int64  `json:"amount_cents" binding:"required,gt=0"`
	Description string `json:"description" binding:"required"`
}

// BalanceAdjustRequest carries a signed correction amount.
type BalanceAdjustRequest struct {
	AmountCents int64  `json:"amount_cents" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// BalanceResetRequest sets the balance to an absolute value.
type BalanceResetRequest struct {
	NewBalanceCents int64  `json:"new_balance_cents" binding:"min=0"`
	Description     string `json:"description" binding:"required"`
}

// CheckoutRequest creates a pending transaction for a top-up purchase.
type CheckoutRequest struct {
	CustomerID     string `json:"customer_id"`
	RecipientPhone string `json:"recipient_phone" binding:"required"`
	Country        string `json:"country" binding:"required"`
	Operator       string `json:"operator" binding:"required"`
	SKUCode        string `json:"sku_code" binding:"required"`
	PaymentType    string `json:"payment_type" binding:"required,oneof=balance gateway"`
}

// RetryTransactionRequest resubmits a failed transaction, optionally with
// edited parameters.
type RetryTransactionRequest struct {
	RecipientPhone string `json:"recipient_phone"`
	SKUCode        string `json:"sku_code"`
	AmountCents    int64  `json:"amount_cents"`
}

// RefundTransactionRequest refunds a failed transaction to the customer's
// balance.
type RefundTransactionRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// OverrideStatusRequest force-sets a transaction status. Refunded is not a
// valid target, refunds go through the refund endpoint. Reason is mandatory
// when the target status is failed.
type OverrideStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason"`
}

// ChangeTierRequest moves the organization's subscription to another tier.
type ChangeTierRequest struct {
	TierName string `json:"tier_name" binding:"required"`
}

// ChangeSubscriptionStatusRequest suspends or reactivates a subscription.
// Reason is mandatory when suspending.
type ChangeSubscriptionStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=active suspended"`
	Reason string `json:"reason"`
}

// CreateIntegrationRequest registers third-party credentials for the org.
type CreateIntegrationRequest struct {
	Provider    string       `json:"provider" binding:"required"`
	DisplayName string       `json:"display_name"`
	Credentials models.JSONB `json:"credentials"`
}

// UpdateIntegrationRequest updates mutable integration fields.
type UpdateIntegrationRequest struct {
	DisplayName *string      `json:"display_name,omitempty"`
	Credentials models.JSONB `json:"credentials,omitempty"`
	IsActive    *bool        `json:"is_active,omitempty"`
}

// UpdateStorefrontSettingsRequest updates storefront presentation config.
type UpdateStorefrontSettingsRequest struct {
	DisplayName      *string  `json:"display_name,omitempty"`
	AccentColor      *string  `json:"accent_color,omitempty"`
	VisibleOperators []string `json:"visible_operators,omitempty"`
}
