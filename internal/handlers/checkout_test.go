package handlers

import (
	"net/http"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"airvend/internal/provider"
)

func subscriptionRows(id, org, tierName, status string, periodTransactions int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "org_id", "tier_name", "status", "billing_email", "custom_fee_percent",
		"period_started_at", "period_transactions", "created_at", "updated_at",
	}).AddRow(id, org, tierName, status, "billing@example.com", nil,
		time.Now().AddDate(0, 0, -10), periodTransactions, time.Now(), time.Now())
}

func TestCheckoutRejectsInvalidCountry(t *testing.T) {
	setupTestDB(t)

	body := []byte(`{"recipient_phone":"+31612345678","country":"XX","operator":"KPN","sku_code":"NL-KPN-10","payment_type":"gateway"}`)
	c, w := newTestContext(t, http.MethodPost, "/checkout", "org-1", body)

	Checkout(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid country, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCheckoutRequiresCustomerForBalancePayment(t *testing.T) {
	setupTestDB(t)

	body := []byte(`{"recipient_phone":"+31612345678","country":"NL","operator":"KPN","sku_code":"NL-KPN-10","payment_type":"balance"}`)
	c, w := newTestContext(t, http.MethodPost, "/checkout", "org-1", body)

	Checkout(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without customer_id, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCheckoutBlocksSuspendedSubscription(t *testing.T) {
	mock := setupTestDB(t)

	mock.ExpectQuery("SELECT id, org_id, tier_name").
		WithArgs("org-1").
		WillReturnRows(subscriptionRows("sub-1", "org-1", "growth", "suspended", 5))

	body := []byte(`{"recipient_phone":"+31612345678","country":"NL","operator":"KPN","sku_code":"NL-KPN-10","payment_type":"gateway"}`)
	c, w := newTestContext(t, http.MethodPost, "/checkout", "org-1", body)

	Checkout(c)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for suspended subscription, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCheckoutEnforcesTierTransactionLimit(t *testing.T) {
	mock := setupTestDB(t)

	// Starter caps at 100 transactions per period.
	mock.ExpectQuery("SELECT id, org_id, tier_name").
		WithArgs("org-1").
		WillReturnRows(subscriptionRows("sub-1", "org-1", "starter", "active", 100))

	body := []byte(`{"recipient_phone":"+31612345678","country":"NL","operator":"KPN","sku_code":"NL-KPN-10","payment_type":"gateway"}`)
	c, w := newTestContext(t, http.MethodPost, "/checkout", "org-1", body)

	Checkout(c)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 at tier limit, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindProductMatchesCaseInsensitive(t *testing.T) {
	products := []provider.Product{
		{SKU: "NL-KPN-10", Operator: "KPN", CostCents: 1000},
		{SKU: "NL-KPN-20", Operator: "KPN", CostCents: 2000},
	}

	if p := findProduct(products, "nl-kpn-20"); p == nil || p.CostCents != 2000 {
		t.Fatalf("expected case-insensitive SKU match, got %+v", p)
	}
	if p := findProduct(products, "NL-VOD-10"); p != nil {
		t.Fatalf("expected nil for unknown SKU, got %+v", p)
	}
}
