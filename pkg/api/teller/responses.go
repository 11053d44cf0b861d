package teller

import (
	"airvend/pkg/api/common"
	"airvend/pkg/models"
)

// ErrorResponse is a type alias to the common error response
type ErrorResponse = common.ErrorResponse

// SuccessResponse is a type alias to the common success response
type SuccessResponse = common.SuccessResponse

// ListCustomersResponse wraps a customer page.
type ListCustomersResponse struct {
	Customers []models.Customer `json:"customers"`
	Total     int               `json:"total"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
}

// BalanceResponse reports a customer's current balance and totals.
type BalanceResponse struct {
	CustomerID          string `json:"customer_id"`
	CurrentBalanceCents int64  `json:"current_balance_cents"`
	BalanceCurrency     string `json:"balance_currency"`
	TotalAssignedCents  int64  `json:"total_assigned_cents"`
	TotalUsedCents      int64  `json:"total_used_cents"`
}

// BalanceHistoryResponse wraps a balance history page.
type BalanceHistoryResponse struct {
	Entries []models.BalanceHistoryEntry `json:"entries"`
	Total   int                          `json:"total"`
	Limit   int                          `json:"limit"`
	Offset  int                          `json:"offset"`
}

// BalanceOpResponse reports the outcome of a ledger mutation.
type BalanceOpResponse struct {
	CustomerID           string `json:"customer_id"`
	PreviousBalanceCents int64  `json:"previous_balance_cents"`
	NewBalanceCents      int64  `json:"new_balance_cents"`
	AmountCents          int64  `json:"amount_cents"`
	EntryType            string `json:"entry_type"`
}

// ListTransactionsResponse wraps a transaction page.
type ListTransactionsResponse struct {
	Transactions []models.Transaction `json:"transactions"`
	Total        int                  `json:"total"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

// CheckoutResponse reports the created transaction.
type CheckoutResponse struct {
	Transaction models.Transaction `json:"transaction"`
	// PriceBeforeDiscountCents and DiscountApplied expose the pricing
	// breakdown to the storefront.
	PriceBeforeDiscountCents int64 `json:"price_before_discount_cents"`
	DiscountApplied          bool  `json:"discount_applied"`
}

// StorefrontProduct is one catalog entry priced for the storefront.
type StorefrontProduct struct {
	SKUCode                  string `json:"sku_code"`
	Operator                 string `json:"operator"`
	Country                  string `json:"country"`
	DisplayName              string `json:"display_name"`
	CostCents                int64  `json:"-"` // provider cost, never exposed
	PriceBeforeDiscountCents int64  `json:"price_before_discount_cents"`
	FinalPriceCents          int64  `json:"final_price_cents"`
	DiscountApplied          bool   `json:"discount_applied"`
	Currency                 string `json:"currency"`
}

// StorefrontProductsResponse wraps a priced catalog listing.
type StorefrontProductsResponse struct {
	Products []StorefrontProduct `json:"products"`
	Count    int                 `json:"count"`
}

// SubscriptionStatusResponse reports the org's subscription, tier config and
// current period usage.
type SubscriptionStatusResponse struct {
	Subscription models.Subscription `json:"subscription"`
	Tier         TierInfo            `json:"tier"`
	FeePercent   float64             `json:"fee_percent"`
}

// TierInfo is the static pricing-table entry echoed on API responses.
type TierInfo struct {
	Name              string   `json:"name"`
	DisplayName       string   `json:"display_name"`
	FeePercent        float64  `json:"fee_percent"`
	MonthlyTxLimit    int      `json:"monthly_tx_limit"`
	CustomerLimit     int      `json:"customer_limit"`
	Features          []string `json:"features"`
	MonthlyPriceCents int64    `json:"monthly_price_cents"`
	IsEnterprise      bool     `json:"is_enterprise"`
}

// UsageResponse reports current-period subscription usage against limits.
type UsageResponse struct {
	PeriodStartedAt    string `json:"period_started_at"`
	PeriodTransactions int    `json:"period_transactions"`
	MonthlyTxLimit     int    `json:"monthly_tx_limit"`
	Customers          int    `json:"customers"`
	CustomerLimit      int    `json:"customer_limit"`
}

// ListIntegrationsResponse wraps the org's integrations.
type ListIntegrationsResponse struct {
	Integrations []models.Integration `json:"integrations"`
	Count        int                  `json:"count"`
}

// ListTiersResponse lists the public pricing table.
type ListTiersResponse struct {
	Tiers []TierInfo `json:"tiers"`
	Count int        `json:"count"`
}
