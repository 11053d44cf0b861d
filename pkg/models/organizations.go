package models

import (
	"time"

	"github.com/lib/pq"
)

// Organization represents a reselling tenant on the platform.
type Organization struct {
	ID           string    `json:"id" db:"id"`
	Name         string    `json:"name" db:"name"`
	Slug         string    `json:"slug" db:"slug"`
	ContactEmail string    `json:"contact_email" db:"contact_email"`
	Country      string    `json:"country,omitempty" db:"country"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// Subscription represents an organization's plan subscription. Fee percentage
// and limits come from the static pricing table keyed by TierName;
// CustomFeePercent overrides the tier fee for enterprise arrangements.
type Subscription struct {
	ID               string    `json:"id" db:"id"`
	OrgID            string    `json:"org_id" db:"org_id"`
	TierName         string    `json:"tier_name" db:"tier_name"`
	Status           string    `json:"status" db:"status"`
	BillingEmail     string    `json:"billing_email" db:"billing_email"`
	CustomFeePercent *float64  `json:"custom_fee_percent,omitempty" db:"custom_fee_percent"`
	PeriodStartedAt  time.Time `json:"period_started_at" db:"period_started_at"`

	// Usage counters, reset per billing period
	PeriodTransactions int `json:"period_transactions" db:"period_transactions"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Subscription statuses
const (
	SubscriptionActive    = "active"
	SubscriptionSuspended = "suspended"
	SubscriptionCancelled = "cancelled"
)

// PricingRule is a markup rule applied to provider base cost. Country and
// operator narrow the scope; empty means any. Higher priority wins, ties
// broken by most-specific scope.
type PricingRule struct {
	ID         string    `json:"id" db:"id"`
	OrgID      string    `json:"org_id" db:"org_id"`
	RuleType   string    `json:"rule_type" db:"rule_type"`
	ValueCents int64     `json:"value_cents" db:"value_cents"`
	Percent    float64   `json:"percent" db:"percent"`
	Country    string    `json:"country,omitempty" db:"country"`
	Operator   string    `json:"operator,omitempty" db:"operator"`
	Priority   int       `json:"priority" db:"priority"`
	IsActive   bool      `json:"is_active" db:"is_active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// Rule and discount types
const (
	RuleTypePercentage = "percentage"
	RuleTypeFixed      = "fixed"
)

// Discount is an optional storefront discount gated by a minimum purchase.
type Discount struct {
	ID               string    `json:"id" db:"id"`
	OrgID            string    `json:"org_id" db:"org_id"`
	DiscountType     string    `json:"discount_type" db:"discount_type"`
	ValueCents       int64     `json:"value_cents" db:"value_cents"`
	Percent          float64   `json:"percent" db:"percent"`
	MinPurchaseCents int64     `json:"min_purchase_cents" db:"min_purchase_cents"`
	IsActive         bool      `json:"is_active" db:"is_active"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Integration is a third-party credential record owned by an organization.
// At most one integration per organization carries IsPrimaryEmail.
type Integration struct {
	ID             string    `json:"id" db:"id"`
	OrgID          string    `json:"org_id" db:"org_id"`
	Provider       string    `json:"provider" db:"provider"`
	DisplayName    string    `json:"display_name,omitempty" db:"display_name"`
	Credentials    JSONB     `json:"credentials,omitempty" db:"credentials"`
	IsPrimaryEmail bool      `json:"is_primary_email" db:"is_primary_email"`
	IsActive       bool      `json:"is_active" db:"is_active"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}

// StorefrontSettings holds per-organization storefront presentation config.
type StorefrontSettings struct {
	OrgID            string         `json:"org_id" db:"org_id"`
	DisplayName      string         `json:"display_name" db:"display_name"`
	AccentColor      string         `json:"accent_color" db:"accent_color"`
	VisibleOperators pq.StringArray `json:"visible_operators" db:"visible_operators"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// WebhookEvent records a processed provider event for idempotency.
type WebhookEvent struct {
	ID          string    `json:"id" db:"id"`
	Provider    string    `json:"provider" db:"provider"`
	EventID     string    `json:"event_id" db:"event_id"`
	EventType   string    `json:"event_type" db:"event_type"`
	ProcessedAt time.Time `json:"processed_at" db:"processed_at"`
}
