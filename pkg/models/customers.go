package models

import (
	"time"
)

// Customer represents a storefront customer of a reselling organization.
// Balance fields are only ever mutated through ledger operations, never by
// direct writes from handlers.
type Customer struct {
	ID      string `json:"id" db:"id"`
	OrgID   string `json:"org_id" db:"org_id"`
	Phone   string `json:"phone" db:"phone"`
	Email   string `json:"email,omitempty" db:"email"`
	Name    string `json:"name,omitempty" db:"name"`
	Country string `json:"country,omitempty" db:"country"`

	// Prepaid balance, in minor units
	CurrentBalanceCents int64  `json:"current_balance_cents" db:"current_balance_cents"`
	BalanceCurrency     string `json:"balance_currency" db:"balance_currency"`
	TotalAssignedCents  int64  `json:"total_assigned_cents" db:"total_assigned_cents"`
	TotalUsedCents      int64  `json:"total_used_cents" db:"total_used_cents"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BalanceHistoryEntry is one immutable row of the customer balance audit
// trail. new_balance = previous_balance + amount always holds; amount is
// signed.
type BalanceHistoryEntry struct {
	ID                   string    `json:"id" db:"id"`
	CustomerID           string    `json:"customer_id" db:"customer_id"`
	EntryType            string    `json:"entry_type" db:"entry_type"`
	PreviousBalanceCents int64     `json:"previous_balance_cents" db:"previous_balance_cents"`
	NewBalanceCents      int64     `json:"new_balance_cents" db:"new_balance_cents"`
	AmountCents          int64     `json:"amount_cents" db:"amount_cents"`
	Description          string    `json:"description" db:"description"`
	Metadata             JSONB     `json:"metadata,omitempty" db:"metadata"`
	CreatedAt            time.Time `json:"created_at" db:"created_at"`
}

// Ledger entry types
const (
	EntryTypeAssign       = "assign"
	EntryTypeWithdraw     = "withdraw"
	EntryTypeAdjust       = "adjust"
	EntryTypeReset        = "reset"
	EntryTypeRefundCredit = "refund_credit"
)
