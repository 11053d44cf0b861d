package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"airvend/internal/ledger"
	tellerapi "airvend/pkg/api/teller"
	"airvend/pkg/middleware"
)

// GetBalance returns a customer's current balance and lifetime totals.
func GetBalance(c middleware.Context) {
	org := orgID(c)
	customerID := c.Param("id")

	current, assigned, used, currency, err := ledgerSvc.GetBalance(c.Request.Context(), org, customerID)
	if errors.Is(err, ledger.ErrCustomerNotFound) {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Customer not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to get balance")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get balance"})
		return
	}

	c.JSON(http.StatusOK, tellerapi.BalanceResponse{
		CustomerID:          customerID,
		CurrentBalanceCents: current,
		BalanceCurrency:     currency,
		TotalAssignedCents:  assigned,
		TotalUsedCents:      used,
	})
}

// GetBalanceHistory returns the customer's balance audit trail, newest first.
func GetBalanceHistory(c middleware.Context) {
	org := orgID(c)
	customerID := c.Param("id")

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	entries, err := ledgerSvc.History(c.Request.Context(), org, customerID, limit, offset)
	if err != nil {
		logger.WithError(err).Error("Failed to get balance history")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get balance history"})
		return
	}

	var total int
	if err := db.QueryRow(`
		SELECT COUNT(*) FROM teller.balance_history WHERE customer_id = $1 AND org_id = $2
	`, customerID, org).Scan(&total); err != nil {
		logger.WithError(err).Error("Failed to count balance history")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to get balance history"})
		return
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	c.JSON(http.StatusOK, tellerapi.BalanceHistoryResponse{
		Entries: entries,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	})
}

// AssignBalance credits a customer's prepaid balance.
func AssignBalance(c middleware.Context) {
	var req tellerapi.BalanceOpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	entry, err := ledgerSvc.Assign(c.Request.Context(), orgID(c), c.Param("id"), req.AmountCents, req.Description)
	respondLedger(c, "assign", entry, err)
}

// WithdrawBalance debits a customer's prepaid balance.
func WithdrawBalance(c middleware.Context) {
	var req tellerapi.BalanceOpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	entry, err := ledgerSvc.Withdraw(c.Request.Context(), orgID(c), c.Param("id"), req.AmountCents, req.Description)
	respondLedger(c, "withdraw", entry, err)
}

// AdjustBalance applies a signed balance correction.
func AdjustBalance(c middleware.Context) {
	var req tellerapi.BalanceAdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	entry, err := ledgerSvc.Adjust(c.Request.Context(), orgID(c), c.Param("id"), req.AmountCents, req.Description)
	respondLedger(c, "adjust", entry, err)
}

// ResetBalance force-sets a customer balance to an absolute value. Admin only.
func ResetBalance(c middleware.Context) {
	var req tellerapi.BalanceResetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	entry, err := ledgerSvc.Reset(c.Request.Context(), orgID(c), c.Param("id"), req.NewBalanceCents, req.Description)
	respondLedger(c, "reset", entry, err)
}

// respondLedger maps ledger results and sentinel errors to HTTP responses.
func respondLedger(c middleware.Context, operation string, entry *ledger.Entry, err error) {
	switch {
	case err == nil:
		countLedgerOp(operation, "success")
		c.JSON(http.StatusOK, tellerapi.BalanceOpResponse{
			CustomerID:           entry.CustomerID,
			PreviousBalanceCents: entry.PreviousBalanceCents,
			NewBalanceCents:      entry.NewBalanceCents,
			AmountCents:          entry.AmountCents,
			EntryType:            entry.EntryType,
		})
	case errors.Is(err, ledger.ErrCustomerNotFound):
		countLedgerOp(operation, "not_found")
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Customer not found"})
	case errors.Is(err, ledger.ErrInsufficientBalance):
		countLedgerOp(operation, "insufficient")
		c.JSON(http.StatusUnprocessableEntity, tellerapi.ErrorResponse{
			Error: "Insufficient balance",
			Code:  "insufficient_balance",
		})
	case errors.Is(err, ledger.ErrNegativeBalance):
		countLedgerOp(operation, "rejected")
		c.JSON(http.StatusUnprocessableEntity, tellerapi.ErrorResponse{
			Error: "Balance may not go negative",
			Code:  "negative_balance",
		})
	case errors.Is(err, ledger.ErrInvalidAmount):
		countLedgerOp(operation, "rejected")
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid amount", Code: "invalid_amount"})
	default:
		countLedgerOp(operation, "error")
		logger.WithError(err).Error("Ledger operation failed")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Ledger operation failed"})
	}
}
