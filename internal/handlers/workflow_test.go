package handlers

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"airvend/pkg/models"
)

func transactionRows(id, org, customerID, orderID, status string, amountCents int64) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "org_id", "customer_id", "order_id", "status",
		"amount_cents", "cost_cents", "currency", "recipient_phone", "operator", "sku_code",
		"payment_type", "status_reason", "metadata", "created_at", "updated_at",
	})
	var cust interface{}
	if customerID != "" {
		cust = customerID
	}
	return rows.AddRow(id, org, cust, orderID, status,
		amountCents, 1000, "USD", "+31612345678", "KPN", "NL-KPN-10",
		"balance", "", nil, time.Now(), time.Now())
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to string
		allowed  bool
	}{
		{models.StatusPending, models.StatusPaid, true},
		{models.StatusPending, models.StatusFailed, true},
		{models.StatusPaid, models.StatusProcessing, true},
		{models.StatusPaid, models.StatusFailed, true},
		{models.StatusProcessing, models.StatusCompleted, true},
		{models.StatusProcessing, models.StatusFailed, true},
		{models.StatusFailed, models.StatusRefunded, true},

		{models.StatusPending, models.StatusProcessing, false},
		{models.StatusPending, models.StatusCompleted, false},
		{models.StatusPaid, models.StatusCompleted, false},
		{models.StatusProcessing, models.StatusRefunded, false},
		{models.StatusCompleted, models.StatusPending, false},
		{models.StatusCompleted, models.StatusFailed, false},
		{models.StatusRefunded, models.StatusPending, false},
		{models.StatusRefunded, models.StatusFailed, false},
	}

	for _, tc := range cases {
		if got := canTransition(tc.from, tc.to); got != tc.allowed {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, status := range []string{models.StatusCompleted, models.StatusRefunded} {
		if !isTerminalStatus(status) {
			t.Errorf("expected %s to be terminal", status)
		}
		if edges := transitions[status]; len(edges) != 0 {
			t.Errorf("terminal status %s has outgoing transitions: %v", status, edges)
		}
	}
	for _, status := range []string{models.StatusPending, models.StatusPaid, models.StatusProcessing, models.StatusFailed} {
		if isTerminalStatus(status) {
			t.Errorf("did not expect %s to be terminal", status)
		}
	}
}

func TestTransitionStatusCompareAndSet(t *testing.T) {
	mock := setupTestDB(t)

	mock.ExpectExec("UPDATE teller.transactions").
		WithArgs(models.StatusPaid, "", "tx-1", models.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := transitionStatus(context.Background(), "tx-1", models.StatusPending, models.StatusPaid, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected transition to apply")
	}

	// Second delivery hits a row that already moved on.
	mock.ExpectExec("UPDATE teller.transactions").
		WithArgs(models.StatusPaid, "", "tx-1", models.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = transitionStatus(context.Background(), "tx-1", models.StatusPending, models.StatusPaid, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected stale transition to be a no-op")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOverrideStatusRejectsTerminal(t *testing.T) {
	mock := setupTestDB(t)

	mock.ExpectQuery("SELECT id, org_id, customer_id").
		WithArgs("tx-done", "org-1").
		WillReturnRows(transactionRows("tx-done", "org-1", "cust-1", "ord_1", models.StatusCompleted, 2500))

	c, w := newTestContext(t, http.MethodPost, "/transactions/tx-done/override-status", "org-1",
		[]byte(`{"status":"pending"}`))
	c.Params = gin.Params{{Key: "id", Value: "tx-done"}}

	OverrideTransactionStatus(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for forced transition out of completed, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestOverrideStatusRequiresReason(t *testing.T) {
	setupTestDB(t)

	c, w := newTestContext(t, http.MethodPost, "/transactions/tx-1/override-status", "org-1",
		[]byte(`{"status":"failed"}`))
	c.Params = gin.Params{{Key: "id", Value: "tx-1"}}

	OverrideTransactionStatus(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reason, got %d: %s", w.Code, w.Body.String())
	}
}

func TestOverrideStatusRejectsRefundedTarget(t *testing.T) {
	mock := setupTestDB(t)

	c, w := newTestContext(t, http.MethodPost, "/transactions/tx-5/override-status", "org-1",
		[]byte(`{"status":"refunded","reason":"manual refund"}`))
	c.Params = gin.Params{{Key: "id", Value: "tx-5"}}

	OverrideTransactionStatus(c)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for refunded override target, got %d: %s", w.Code, w.Body.String())
	}
	// The override must not write a refunded status without a ledger credit,
	// so no SQL may run at all.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefundTransactionOnlyFromFailed(t *testing.T) {
	mock := setupTestDB(t)

	mock.ExpectQuery("SELECT id, org_id, customer_id").
		WithArgs("tx-2", "org-1").
		WillReturnRows(transactionRows("tx-2", "org-1", "cust-1", "ord_2", models.StatusProcessing, 2500))

	c, w := newTestContext(t, http.MethodPost, "/transactions/tx-2/refund", "org-1",
		[]byte(`{"reason":"customer request"}`))
	c.Params = gin.Params{{Key: "id", Value: "tx-2"}}

	RefundTransaction(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for refund of processing transaction, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRefundTransactionCreditsLedgerOnce(t *testing.T) {
	t.Setenv("SMTP_HOST", "")
	mock := setupTestDB(t)

	mock.ExpectQuery("SELECT id, org_id, customer_id").
		WithArgs("tx-3", "org-1").
		WillReturnRows(transactionRows("tx-3", "org-1", "cust-1", "ord_3", models.StatusFailed, 2500))

	mock.ExpectExec("UPDATE teller.transactions").
		WithArgs(models.StatusRefunded, "delivery failed", "tx-3", models.StatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT current_balance_cents FROM teller.customers").
		WithArgs("cust-1", "org-1").
		WillReturnRows(sqlmock.NewRows([]string{"current_balance_cents"}).AddRow(1000))
	mock.ExpectExec("INSERT INTO teller.balance_history").
		WithArgs("org-1", "cust-1", models.EntryTypeRefundCredit, int64(1000), int64(3500), int64(2500),
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE teller.customers").
		WithArgs(int64(3500), "cust-1", "org-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	c, w := newTestContext(t, http.MethodPost, "/transactions/tx-3/refund", "org-1",
		[]byte(`{"reason":"delivery failed"}`))
	c.Params = gin.Params{{Key: "id", Value: "tx-3"}}

	RefundTransaction(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTransactionMetadataValidatesStoredShape(t *testing.T) {
	setupTestDB(t)

	valid := &models.Transaction{ID: "tx-1", Metadata: models.JSONB{
		"kind":  "topup",
		"topup": map[string]interface{}{"sku": "NL-KPN-10", "operator": "KPN"},
	}}
	meta := transactionMetadata(valid)
	if meta.Topup == nil || meta.Topup.SKU != "NL-KPN-10" {
		t.Fatalf("expected decoded topup metadata, got %+v", meta)
	}

	invalid := &models.Transaction{ID: "tx-2", Metadata: models.JSONB{"kind": "mystery"}}
	if meta := transactionMetadata(invalid); meta.Kind != "" || meta.Topup != nil {
		t.Fatalf("expected zero value for invalid stored metadata, got %+v", meta)
	}
}

func TestUpdateTransactionForRetryValidatesMetadata(t *testing.T) {
	mock := setupTestDB(t)

	err := updateTransactionForRetry(context.Background(), "tx-1", "+31612345678", "NL-KPN-10", 1000,
		models.TransactionMetadata{Kind: models.MetadataKindTopup, Topup: &models.TopupMetadata{}},
		models.StatusFailed, "provider submission failed")
	if err == nil {
		t.Fatal("expected error for topup metadata without sku")
	}
	// Invalid metadata must never reach the database.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRetryTransactionOnlyFromFailed(t *testing.T) {
	mock := setupTestDB(t)

	mock.ExpectQuery("SELECT id, org_id, customer_id").
		WithArgs("tx-4", "org-1").
		WillReturnRows(transactionRows("tx-4", "org-1", "cust-1", "ord_4", models.StatusProcessing, 2500))

	c, w := newTestContext(t, http.MethodPost, "/transactions/tx-4/retry", "org-1", []byte(`{}`))
	c.Params = gin.Params{{Key: "id", Value: "tx-4"}}

	RetryTransaction(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for retry of processing transaction, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
