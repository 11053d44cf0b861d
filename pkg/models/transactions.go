package models

import (
	"time"
)

// Transaction statuses. The pending → paid → processing → completed path is
// the happy path; failed is reachable from any non-terminal state, refunded
// only from failed. completed and refunded are terminal.
const (
	StatusPending    = "pending"
	StatusPaid       = "paid"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRefunded   = "refunded"
)

// Payment types
const (
	PaymentTypeBalance = "balance"
	PaymentTypeGateway = "gateway"
)

// Transaction represents one top-up purchase.
type Transaction struct {
	ID         string  `json:"id" db:"id"`
	OrgID      string  `json:"org_id" db:"org_id"`
	CustomerID *string `json:"customer_id,omitempty" db:"customer_id"`
	OrderID    string  `json:"order_id" db:"order_id"`
	Status     string  `json:"status" db:"status"`

	// AmountCents is the customer price, CostCents the provider cost.
	AmountCents int64  `json:"amount_cents" db:"amount_cents"`
	CostCents   int64  `json:"cost_cents" db:"cost_cents"`
	Currency    string `json:"currency" db:"currency"`

	RecipientPhone string `json:"recipient_phone" db:"recipient_phone"`
	Operator       string `json:"operator,omitempty" db:"operator"`
	SKUCode        string `json:"sku_code,omitempty" db:"sku_code"`
	PaymentType    string `json:"payment_type" db:"payment_type"`
	StatusReason   string `json:"status_reason,omitempty" db:"status_reason"`

	Metadata JSONB `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TransactionMetadata is the tagged union of known metadata shapes. Kind
// names the primary payload, which must be set. Gateway may additionally
// accompany a topup payload so gateway-paid orders keep their payment
// reference; everything else is rejected at the boundary.
type TransactionMetadata struct {
	Kind    string           `json:"kind"`
	Topup   *TopupMetadata   `json:"topup,omitempty"`
	Refund  *RefundMetadata  `json:"refund,omitempty"`
	Gateway *GatewayMetadata `json:"gateway,omitempty"`
}

// Metadata kinds
const (
	MetadataKindTopup   = "topup"
	MetadataKindRefund  = "refund"
	MetadataKindGateway = "gateway"
)

// TopupMetadata carries provider submission details for a top-up.
type TopupMetadata struct {
	SKU        string `json:"sku"`
	Operator   string `json:"operator"`
	ProviderID string `json:"provider_id,omitempty"`
	RetryCount int    `json:"retry_count"`
}

// RefundMetadata links a ledger refund credit back to its transaction.
type RefundMetadata struct {
	OriginalTransactionID string `json:"original_transaction_id"`
	Reason                string `json:"reason"`
}

// GatewayMetadata carries payment-gateway references.
type GatewayMetadata struct {
	Provider   string `json:"provider"`
	ExternalID string `json:"external_id"`
}
