package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"

	"airvend/internal/provider"
	tellerapi "airvend/pkg/api/teller"
	"airvend/pkg/logging"
	"airvend/pkg/middleware"
	"airvend/pkg/models"
	"airvend/pkg/validation"
)

// transitions is the allowed status graph. completed and refunded have no
// outgoing edges and are terminal.
var transitions = map[string][]string{
	models.StatusPending:    {models.StatusPaid, models.StatusFailed},
	models.StatusPaid:       {models.StatusProcessing, models.StatusFailed},
	models.StatusProcessing: {models.StatusCompleted, models.StatusFailed},
	models.StatusFailed:     {models.StatusRefunded},
}

func isValidStatus(status string) bool {
	switch status {
	case models.StatusPending, models.StatusPaid, models.StatusProcessing,
		models.StatusCompleted, models.StatusFailed, models.StatusRefunded:
		return true
	}
	return false
}

func isTerminalStatus(status string) bool {
	return status == models.StatusCompleted || status == models.StatusRefunded
}

func canTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// transitionStatus moves a transaction from one exact status to another with
// a compare-and-set update. It returns false when the row was not in the
// expected status, which makes concurrent webhook deliveries race-safe.
func transitionStatus(ctx context.Context, txID, from, to, reason string) (bool, error) {
	result, err := db.ExecContext(ctx, `
		UPDATE teller.transactions
		SET status = $1, status_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, to, reason, txID, from)
	if err != nil {
		return false, fmt.Errorf("failed to update transaction status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		logger.WithFields(logging.Fields{
			"transaction_id": txID,
			"from":           from,
			"to":             to,
		}).Info("Transaction status changed")
	}
	return n > 0, nil
}

// OverrideTransactionStatus force-sets a transaction status. Admin only.
// Terminal states stay immutable even under override, refunded is never a
// valid override target (refunds go through RefundTransaction so the ledger
// credit is issued), and forcing failed requires a reason for the audit
// trail.
func OverrideTransactionStatus(c middleware.Context) {
	org := orgID(c)
	txID := c.Param("id")

	var req tellerapi.OverrideStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}
	if !isValidStatus(req.Status) {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Unknown status: " + req.Status, Code: "invalid_status"})
		return
	}
	if req.Status == models.StatusRefunded {
		// A refund must credit the ledger; the override writes status only.
		c.JSON(http.StatusUnprocessableEntity, tellerapi.ErrorResponse{
			Error: "Use the refund endpoint to refund a transaction",
			Code:  "use_refund_endpoint",
		})
		return
	}
	if req.Status == models.StatusFailed && req.Reason == "" {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{
			Error: "Reason is required when forcing failed",
			Code:  "reason_required",
		})
		return
	}

	t, err := getTransactionByID(org, txID)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Transaction not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to get transaction")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to override status"})
		return
	}

	if isTerminalStatus(t.Status) {
		c.JSON(http.StatusConflict, tellerapi.ErrorResponse{
			Error: fmt.Sprintf("Transaction is %s and cannot change status", t.Status),
			Code:  "terminal_status",
		})
		return
	}
	if t.Status == req.Status {
		c.JSON(http.StatusOK, t)
		return
	}

	ok, err := transitionStatus(c.Request.Context(), txID, t.Status, req.Status, req.Reason)
	if err != nil {
		logger.WithError(err).Error("Failed to override transaction status")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to override status"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, tellerapi.ErrorResponse{
			Error: "Transaction status changed concurrently",
			Code:  "status_conflict",
		})
		return
	}

	logger.WithFields(logging.Fields{
		"transaction_id": txID,
		"org_id":         org,
		"forced_status":  req.Status,
		"reason":         req.Reason,
	}).Warn("Transaction status overridden")

	t, err = getTransactionByID(org, txID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to reload transaction"})
		return
	}
	c.JSON(http.StatusOK, t)
}

// RetryTransaction resubmits a failed top-up to the provider, optionally with
// edited parameters. Acceptance moves the transaction back to processing; a
// provider rejection leaves it failed with an incremented retry count.
func RetryTransaction(c middleware.Context) {
	org := orgID(c)
	txID := c.Param("id")

	var req tellerapi.RetryTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	t, err := getTransactionByID(org, txID)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Transaction not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to get transaction")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to retry transaction"})
		return
	}

	if t.Status != models.StatusFailed {
		c.JSON(http.StatusConflict, tellerapi.ErrorResponse{
			Error: "Only failed transactions can be retried",
			Code:  "not_retryable",
		})
		return
	}

	meta := transactionMetadata(t)
	if meta.Topup == nil {
		meta.Kind = models.MetadataKindTopup
		meta.Topup = &models.TopupMetadata{
			SKU:      t.SKUCode,
			Operator: t.Operator,
		}
	}

	recipient := t.RecipientPhone
	if req.RecipientPhone != "" {
		recipient = req.RecipientPhone
	}
	sku := t.SKUCode
	if req.SKUCode != "" {
		sku = req.SKUCode
	}
	amount := t.AmountCents
	if req.AmountCents > 0 {
		amount = req.AmountCents
	}

	meta.Topup.RetryCount++
	meta.Topup.SKU = sku

	resp, submitErr := topupClient.Submit(c.Request.Context(), provider.SubmitRequest{
		OrderID:        t.OrderID,
		SKU:            sku,
		RecipientPhone: recipient,
		AmountCents:    amount,
	})

	if submitErr != nil {
		countProviderCall("submit", "error")
		if err := updateTransactionForRetry(c.Request.Context(), txID, recipient, sku, amount, meta, t.Status, "provider submission failed"); err != nil {
			logger.WithError(err).Error("Failed to record retry attempt")
		}
		if perr, ok := provider.AsError(submitErr); ok {
			c.JSON(http.StatusBadGateway, tellerapi.ErrorResponse{
				Error:   "Provider rejected the retry",
				Code:    "provider_error",
				Details: map[string]interface{}{"provider_status": perr.StatusCode, "provider_message": perr.Message},
			})
			return
		}
		logger.WithError(submitErr).Error("Provider submission failed on retry")
		c.JSON(http.StatusBadGateway, tellerapi.ErrorResponse{Error: "Provider unavailable", Code: "provider_unavailable"})
		return
	}

	countProviderCall("submit", "success")
	meta.Topup.ProviderID = resp.ProviderID
	newStatus := models.StatusProcessing
	if resp.Status == provider.SubmitDelivered {
		newStatus = models.StatusCompleted
	}

	if err := updateTransactionForRetry(c.Request.Context(), txID, recipient, sku, amount, meta, newStatus, ""); err != nil {
		logger.WithError(err).Error("Failed to update retried transaction")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to retry transaction"})
		return
	}

	logger.WithFields(logging.Fields{
		"transaction_id": txID,
		"provider_id":    resp.ProviderID,
		"retry_count":    meta.Topup.RetryCount,
		"status":         newStatus,
	}).Info("Transaction retried")

	t, err = getTransactionByID(org, txID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to reload transaction"})
		return
	}
	c.JSON(http.StatusOK, t)
}

// RefundTransaction refunds a failed transaction. The status move to
// refunded is the idempotency guard: the ledger credit happens exactly once,
// after the compare-and-set transition succeeds.
func RefundTransaction(c middleware.Context) {
	org := orgID(c)
	txID := c.Param("id")

	var req tellerapi.RefundTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid request: " + err.Error()})
		return
	}

	t, err := getTransactionByID(org, txID)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, tellerapi.ErrorResponse{Error: "Transaction not found"})
		return
	}
	if err != nil {
		logger.WithError(err).Error("Failed to get transaction")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to refund transaction"})
		return
	}

	if t.Status != models.StatusFailed {
		c.JSON(http.StatusConflict, tellerapi.ErrorResponse{
			Error: "Only failed transactions can be refunded",
			Code:  "not_refundable",
		})
		return
	}
	if t.CustomerID == nil {
		c.JSON(http.StatusUnprocessableEntity, tellerapi.ErrorResponse{
			Error: "Transaction has no customer to refund",
			Code:  "no_customer",
		})
		return
	}

	ok, err := transitionStatus(c.Request.Context(), txID, models.StatusFailed, models.StatusRefunded, req.Reason)
	if err != nil {
		logger.WithError(err).Error("Failed to mark transaction refunded")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Failed to refund transaction"})
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, tellerapi.ErrorResponse{
			Error: "Transaction status changed concurrently",
			Code:  "status_conflict",
		})
		return
	}

	entry, err := ledgerSvc.RefundCredit(c.Request.Context(), org, *t.CustomerID, t.AmountCents, t.ID, req.Reason)
	if err != nil {
		// Status already moved; surface the credit failure loudly so it
		// can be reconciled manually.
		countLedgerOp("refund_credit", "error")
		logger.WithError(err).WithFields(logging.Fields{
			"transaction_id": txID,
			"customer_id":    *t.CustomerID,
		}).Error("Refund credit failed after status transition")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{
			Error: "Transaction marked refunded but credit failed",
			Code:  "refund_credit_failed",
		})
		return
	}
	countLedgerOp("refund_credit", "success")

	notifyRefund(t, req.Reason)

	c.JSON(http.StatusOK, tellerapi.SuccessResponse{
		Success: true,
		Message: "Transaction refunded",
		Data: tellerapi.BalanceOpResponse{
			CustomerID:           entry.CustomerID,
			PreviousBalanceCents: entry.PreviousBalanceCents,
			NewBalanceCents:      entry.NewBalanceCents,
			AmountCents:          entry.AmountCents,
			EntryType:            entry.EntryType,
		},
	})
}

// notifyRefund emails the customer about the refund when they have an email
// on file. Failures are logged, never surfaced to the API caller.
func notifyRefund(t *models.Transaction, reason string) {
	if t.CustomerID == nil || !emailService.IsConfigured() {
		return
	}
	var customerEmail, customerName string
	err := db.QueryRow(`SELECT email, name FROM teller.customers WHERE id = $1`, *t.CustomerID).
		Scan(&customerEmail, &customerName)
	if err != nil || customerEmail == "" {
		return
	}
	if err := emailService.SendRefundNotification(customerEmail, customerName, t.OrderID,
		formatCents(t.AmountCents, t.Currency), reason); err != nil {
		logger.WithError(err).Warn("Failed to send refund notification")
	}
}

// transactionMetadata decodes the stored JSONB metadata into the typed union,
// validating it against the known shapes. Absent or invalid metadata yields
// the zero value; invalid documents are logged, never propagated.
func transactionMetadata(t *models.Transaction) models.TransactionMetadata {
	var zero models.TransactionMetadata
	if t.Metadata == nil {
		return zero
	}
	raw, err := json.Marshal(t.Metadata)
	if err != nil {
		return zero
	}
	meta, err := validation.ParseMetadata(raw)
	if err != nil {
		logger.WithError(err).WithField("transaction_id", t.ID).Warn("Stored transaction metadata failed validation")
		return zero
	}
	if meta == nil {
		return zero
	}
	return *meta
}

func updateTransactionForRetry(ctx context.Context, txID, recipient, sku string, amount int64, meta models.TransactionMetadata, status, reason string) error {
	if err := validation.ValidateMetadata(&meta); err != nil {
		return fmt.Errorf("invalid transaction metadata: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		UPDATE teller.transactions
		SET recipient_phone = $1, sku_code = $2, amount_cents = $3, metadata = $4,
		    status = $5, status_reason = $6, updated_at = NOW()
		WHERE id = $7
	`, recipient, sku, amount, metaJSON, status, reason, txID)
	return err
}
