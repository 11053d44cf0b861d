package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"airvend/internal/provider"
	"airvend/pkg/models"
)

func signatureHeader(payload []byte, secret string, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestVerifyWebhookSignature(t *testing.T) {
	payload := []byte(`{"event_id":"evt_1"}`)
	secret := "unit-test-secret"

	if err := verifyWebhookSignature(payload, signatureHeader(payload, secret, time.Now().Unix()), secret); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}

	cases := []struct {
		name   string
		header string
	}{
		{"empty header", ""},
		{"malformed header", "garbage"},
		{"wrong secret", signatureHeader(payload, "other-secret", time.Now().Unix())},
		{"stale timestamp", signatureHeader(payload, secret, time.Now().Add(-10*time.Minute).Unix())},
		{"future timestamp", signatureHeader(payload, secret, time.Now().Add(10*time.Minute).Unix())},
		{"tampered payload", signatureHeader([]byte(`{"event_id":"evt_2"}`), secret, time.Now().Unix())},
	}
	for _, tc := range cases {
		if err := verifyWebhookSignature(payload, tc.header, secret); err == nil {
			t.Errorf("%s: expected verification failure", tc.name)
		}
	}
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	setupTestDB(t)
	paymentWebhookSecret = "unit-test-secret"

	body := []byte(`{"event_id":"evt_1","event_type":"payment.succeeded","order_id":"ord_1","amount_cents":1000}`)
	c, w := newTestContext(t, http.MethodPost, "/webhooks/payment", "", body)
	c.Request.Header.Set("X-Payment-Signature", "t=123,v1=deadbeef")

	HandlePaymentWebhook(c)

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPaymentWebhookRequiresConfiguredSecret(t *testing.T) {
	setupTestDB(t)

	body := []byte(`{"event_id":"evt_1","event_type":"payment.succeeded","order_id":"ord_1","amount_cents":1000}`)
	c, w := newTestContext(t, http.MethodPost, "/webhooks/payment", "", body)
	c.Request.Header.Set("X-Payment-Signature", signatureHeader(body, "any-secret", time.Now().Unix()))

	HandlePaymentWebhook(c)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 when no webhook secret is wired, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPaymentWebhookIdempotent(t *testing.T) {
	mock := setupTestDB(t)
	paymentWebhookSecret = "unit-test-secret"

	body := []byte(`{"event_id":"evt_dup","event_type":"payment.succeeded","order_id":"ord_1","amount_cents":1000}`)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM teller.webhook_events`).
		WithArgs("payment", "evt_dup").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	c, w := newTestContext(t, http.MethodPost, "/webhooks/payment", "", body)
	c.Request.Header.Set("X-Payment-Signature", signatureHeader(body, "unit-test-secret", time.Now().Unix()))

	HandlePaymentWebhook(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 for duplicate event, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPaymentWebhookFailsPendingTransaction(t *testing.T) {
	mock := setupTestDB(t)
	paymentWebhookSecret = "unit-test-secret"

	body := []byte(`{"event_id":"evt_fail","event_type":"payment.failed","order_id":"ord_9","reason":"card declined"}`)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM teller.webhook_events`).
		WithArgs("payment", "evt_fail").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT id, org_id, customer_id").
		WithArgs("ord_9").
		WillReturnRows(transactionRows("tx-9", "org-1", "cust-1", "ord_9", models.StatusPending, 1000))
	mock.ExpectExec("UPDATE teller.transactions").
		WithArgs(models.StatusFailed, "card declined", "tx-9", models.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO teller.webhook_events").
		WithArgs("payment", "evt_fail", "payment.failed").
		WillReturnResult(sqlmock.NewResult(1, 1))

	c, w := newTestContext(t, http.MethodPost, "/webhooks/payment", "", body)
	c.Request.Header.Set("X-Payment-Signature", signatureHeader(body, "unit-test-secret", time.Now().Unix()))

	HandlePaymentWebhook(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPaymentWebhookKeepsGatewayReference(t *testing.T) {
	t.Setenv("SMTP_HOST", "")
	mock := setupTestDB(t)
	paymentWebhookSecret = "unit-test-secret"

	providerSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(provider.SubmitResponse{ProviderID: "prov_7", Status: provider.SubmitAccepted})
	}))
	t.Cleanup(providerSrv.Close)
	topupClient = provider.NewClient(provider.Config{BaseURL: providerSrv.URL, APIKey: "test-key"}, logrus.New())
	t.Cleanup(func() { topupClient = nil })

	body := []byte(`{"event_id":"evt_9","event_type":"payment.succeeded","order_id":"ord_7","provider":"stripe","amount_cents":1200}`)

	storedMeta := []byte(`{"kind":"topup","topup":{"sku":"NL-KPN-10","operator":"KPN","retry_count":0}}`)
	txRow := sqlmock.NewRows([]string{
		"id", "org_id", "customer_id", "order_id", "status",
		"amount_cents", "cost_cents", "currency", "recipient_phone", "operator", "sku_code",
		"payment_type", "status_reason", "metadata", "created_at", "updated_at",
	}).AddRow("tx-7", "org-1", "cust-1", "ord_7", models.StatusPending,
		1200, 1000, "USD", "+31612345678", "KPN", "NL-KPN-10",
		"gateway", "", storedMeta, time.Now(), time.Now())

	withGateway, _ := json.Marshal(models.TransactionMetadata{
		Kind:    models.MetadataKindTopup,
		Topup:   &models.TopupMetadata{SKU: "NL-KPN-10", Operator: "KPN"},
		Gateway: &models.GatewayMetadata{Provider: "stripe", ExternalID: "evt_9"},
	})
	withProviderID, _ := json.Marshal(models.TransactionMetadata{
		Kind:    models.MetadataKindTopup,
		Topup:   &models.TopupMetadata{SKU: "NL-KPN-10", Operator: "KPN", ProviderID: "prov_7"},
		Gateway: &models.GatewayMetadata{Provider: "stripe", ExternalID: "evt_9"},
	})

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM teller.webhook_events`).
		WithArgs("payment", "evt_9").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT id, org_id, customer_id").
		WithArgs("ord_7").
		WillReturnRows(txRow)
	mock.ExpectExec("UPDATE teller.transactions").
		WithArgs(models.StatusPaid, "", "tx-7", models.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Gateway reference merged into the existing topup metadata.
	mock.ExpectExec("UPDATE teller.transactions SET metadata").
		WithArgs(withGateway, "tx-7").
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Provider submission rewrites the metadata and keeps the gateway member.
	mock.ExpectExec("UPDATE teller.transactions SET metadata").
		WithArgs(withProviderID, "tx-7").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE teller.transactions").
		WithArgs(models.StatusProcessing, "", "tx-7", models.StatusPaid).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO teller.webhook_events").
		WithArgs("payment", "evt_9", "payment.succeeded").
		WillReturnResult(sqlmock.NewResult(1, 1))

	c, w := newTestContext(t, http.MethodPost, "/webhooks/payment", "", body)
	c.Request.Header.Set("X-Payment-Signature", signatureHeader(body, "unit-test-secret", time.Now().Unix()))

	HandlePaymentWebhook(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTopupWebhookCompletesProcessing(t *testing.T) {
	t.Setenv("SMTP_HOST", "")
	mock := setupTestDB(t)

	body := []byte(`{"event_id":"evt_done","order_id":"ord_5","provider_id":"prov_5","status":"delivered"}`)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM teller.webhook_events`).
		WithArgs("topup", "evt_done").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT id, org_id, customer_id").
		WithArgs("ord_5").
		WillReturnRows(transactionRows("tx-5", "org-1", "cust-1", "ord_5", models.StatusProcessing, 1500))
	mock.ExpectExec("UPDATE teller.transactions").
		WithArgs(models.StatusCompleted, "", "tx-5", models.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO teller.webhook_events").
		WithArgs("topup", "evt_done", "delivered").
		WillReturnResult(sqlmock.NewResult(1, 1))

	c, w := newTestContext(t, http.MethodPost, "/webhooks/topup", "", body)

	HandleTopupWebhook(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestTopupWebhookRejectsUnknownStatus(t *testing.T) {
	setupTestDB(t)

	body := []byte(`{"event_id":"evt_x","order_id":"ord_x","status":"lost"}`)
	c, w := newTestContext(t, http.MethodPost, "/webhooks/topup", "", body)

	HandleTopupWebhook(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d: %s", w.Code, w.Body.String())
	}
}

func TestTopupWebhookIgnoresSettledTransaction(t *testing.T) {
	t.Setenv("SMTP_HOST", "")
	mock := setupTestDB(t)

	body := []byte(`{"event_id":"evt_late","order_id":"ord_6","status":"failed","reason":"operator timeout"}`)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM teller.webhook_events`).
		WithArgs("topup", "evt_late").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("SELECT id, org_id, customer_id").
		WithArgs("ord_6").
		WillReturnRows(transactionRows("tx-6", "org-1", "cust-1", "ord_6", models.StatusCompleted, 1500))
	mock.ExpectExec("UPDATE teller.transactions").
		WithArgs(models.StatusFailed, "operator timeout", "tx-6", models.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO teller.webhook_events").
		WithArgs("topup", "evt_late", "failed").
		WillReturnResult(sqlmock.NewResult(1, 1))

	c, w := newTestContext(t, http.MethodPost, "/webhooks/topup", "", body)

	HandleTopupWebhook(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
