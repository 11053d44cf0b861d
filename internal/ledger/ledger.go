// Package ledger owns every mutation of customer prepaid balances. All
// writes happen inside one SQL transaction holding a row lock, and each
// one appends exactly one immutable balance_history entry.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"airvend/pkg/logging"
	"airvend/pkg/models"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCustomerNotFound    = errors.New("customer not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrNegativeBalance     = errors.New("balance may not go negative")
)

type Ledger struct {
	db     *sql.DB
	logger logging.Logger
}

func New(db *sql.DB, logger logging.Logger) *Ledger {
	return &Ledger{db: db, logger: logger}
}

// Entry is the result of one ledger mutation.
type Entry struct {
	CustomerID           string
	EntryType            string
	PreviousBalanceCents int64
	NewBalanceCents      int64
	AmountCents          int64
	Description          string
}

// Assign credits a customer balance and bumps total_assigned_cents.
func (l *Ledger) Assign(ctx context.Context, orgID, customerID string, amountCents int64, description string) (*Entry, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.mutate(ctx, orgID, customerID, models.EntryTypeAssign, amountCents, description, nil)
}

// Withdraw debits a customer balance and bumps total_used_cents. The debit
// fails with ErrInsufficientBalance when the locked balance is too low, and
// in that case nothing is written.
func (l *Ledger) Withdraw(ctx context.Context, orgID, customerID string, amountCents int64, description string) (*Entry, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.mutate(ctx, orgID, customerID, models.EntryTypeWithdraw, -amountCents, description, nil)
}

// Adjust applies a signed correction. Negative adjustments may not take the
// balance below zero.
func (l *Ledger) Adjust(ctx context.Context, orgID, customerID string, amountCents int64, description string) (*Entry, error) {
	if amountCents == 0 {
		return nil, ErrInvalidAmount
	}
	return l.mutate(ctx, orgID, customerID, models.EntryTypeAdjust, amountCents, description, nil)
}

// RefundCredit credits back a failed transaction's amount. The metadata links
// the history entry to the refunded transaction.
func (l *Ledger) RefundCredit(ctx context.Context, orgID, customerID string, amountCents int64, transactionID, reason string) (*Entry, error) {
	if amountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	meta := map[string]interface{}{"transaction_id": transactionID, "reason": reason}
	return l.mutate(ctx, orgID, customerID, models.EntryTypeRefundCredit,
		amountCents, fmt.Sprintf("Refund for transaction %s", transactionID), meta)
}

// Reset forces the balance to an exact non-negative value. The history
// amount is the signed difference so the invariant still holds.
func (l *Ledger) Reset(ctx context.Context, orgID, customerID string, newBalanceCents int64, description string) (*Entry, error) {
	if newBalanceCents < 0 {
		return nil, ErrNegativeBalance
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	current, err := l.lockBalance(ctx, tx, orgID, customerID)
	if err != nil {
		return nil, err
	}

	entry := &Entry{
		CustomerID:           customerID,
		EntryType:            models.EntryTypeReset,
		PreviousBalanceCents: current,
		NewBalanceCents:      newBalanceCents,
		AmountCents:          newBalanceCents - current,
		Description:          description,
	}

	if err := l.writeEntry(ctx, tx, orgID, entry, nil); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE teller.customers
		SET current_balance_cents = $1, updated_at = NOW()
		WHERE id = $2 AND org_id = $3
	`, newBalanceCents, customerID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	l.logEntry(entry)
	return entry, nil
}

// mutate is the shared mutation path for assign/withdraw/adjust/refund.
// amountCents is signed: positive credits, negative debits.
func (l *Ledger) mutate(ctx context.Context, orgID, customerID, entryType string, amountCents int64, description string, meta map[string]interface{}) (*Entry, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback is best-effort

	current, err := l.lockBalance(ctx, tx, orgID, customerID)
	if err != nil {
		return nil, err
	}

	newBalance := current + amountCents
	if newBalance < 0 {
		if entryType == models.EntryTypeWithdraw {
			return nil, ErrInsufficientBalance
		}
		return nil, ErrNegativeBalance
	}

	entry := &Entry{
		CustomerID:           customerID,
		EntryType:            entryType,
		PreviousBalanceCents: current,
		NewBalanceCents:      newBalance,
		AmountCents:          amountCents,
		Description:          description,
	}

	if err := l.writeEntry(ctx, tx, orgID, entry, meta); err != nil {
		return nil, err
	}

	update := `
		UPDATE teller.customers
		SET current_balance_cents = $1, updated_at = NOW()
		WHERE id = $2 AND org_id = $3
	`
	switch entryType {
	case models.EntryTypeAssign:
		update = `
			UPDATE teller.customers
			SET current_balance_cents = $1, total_assigned_cents = total_assigned_cents + $4, updated_at = NOW()
			WHERE id = $2 AND org_id = $3
		`
	case models.EntryTypeWithdraw:
		update = `
			UPDATE teller.customers
			SET current_balance_cents = $1, total_used_cents = total_used_cents + $4, updated_at = NOW()
			WHERE id = $2 AND org_id = $3
		`
	}

	if entryType == models.EntryTypeAssign || entryType == models.EntryTypeWithdraw {
		delta := amountCents
		if delta < 0 {
			delta = -delta
		}
		_, err = tx.ExecContext(ctx, update, newBalance, customerID, orgID, delta)
	} else {
		_, err = tx.ExecContext(ctx, update, newBalance, customerID, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}

	l.logEntry(entry)
	return entry, nil
}

// lockBalance reads the customer balance with a row lock held for the rest
// of the transaction.
func (l *Ledger) lockBalance(ctx context.Context, tx *sql.Tx, orgID, customerID string) (int64, error) {
	var balance int64
	err := tx.QueryRowContext(ctx, `
		SELECT current_balance_cents FROM teller.customers
		WHERE id = $1 AND org_id = $2
		FOR UPDATE
	`, customerID, orgID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, ErrCustomerNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock balance: %w", err)
	}
	return balance, nil
}

func (l *Ledger) writeEntry(ctx context.Context, tx *sql.Tx, orgID string, entry *Entry, meta map[string]interface{}) error {
	var metaJSON interface{}
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}
		metaJSON = b
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO teller.balance_history
			(org_id, customer_id, entry_type, previous_balance_cents, new_balance_cents, amount_cents, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, orgID, entry.CustomerID, entry.EntryType,
		entry.PreviousBalanceCents, entry.NewBalanceCents, entry.AmountCents,
		entry.Description, metaJSON)
	if err != nil {
		return fmt.Errorf("failed to write history entry: %w", err)
	}
	return nil
}

func (l *Ledger) logEntry(entry *Entry) {
	l.logger.WithFields(logging.Fields{
		"customer_id":  entry.CustomerID,
		"entry_type":   entry.EntryType,
		"amount_cents": entry.AmountCents,
		"new_balance":  entry.NewBalanceCents,
	}).Info("Balance mutation applied")
}

// GetBalance returns the current balance fields for a customer.
func (l *Ledger) GetBalance(ctx context.Context, orgID, customerID string) (current, assigned, used int64, currency string, err error) {
	err = l.db.QueryRowContext(ctx, `
		SELECT current_balance_cents, total_assigned_cents, total_used_cents, balance_currency
		FROM teller.customers
		WHERE id = $1 AND org_id = $2
	`, customerID, orgID).Scan(&current, &assigned, &used, &currency)
	if err == sql.ErrNoRows {
		err = ErrCustomerNotFound
	}
	return
}

// History lists balance_history entries for a customer, newest first.
func (l *Ledger) History(ctx context.Context, orgID, customerID string, limit, offset int) ([]models.BalanceHistoryEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := l.db.QueryContext(ctx, `
		SELECT id, customer_id, entry_type, previous_balance_cents, new_balance_cents,
		       amount_cents, description, created_at
		FROM teller.balance_history
		WHERE customer_id = $1 AND org_id = $2
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, customerID, orgID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []models.BalanceHistoryEntry
	for rows.Next() {
		var e models.BalanceHistoryEntry
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.EntryType, &e.PreviousBalanceCents,
			&e.NewBalanceCents, &e.AmountCents, &e.Description, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
