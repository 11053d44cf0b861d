package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	tellerapi "airvend/pkg/api/teller"
)

func TestGetTiersListsPricingTable(t *testing.T) {
	setupTestDB(t)

	c, w := newTestContext(t, http.MethodGet, "/tiers", "", nil)
	GetTiers(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp tellerapi.ListTiersResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Count != 4 {
		t.Fatalf("expected 4 tiers, got %d", resp.Count)
	}
	if resp.Tiers[0].Name != "starter" || resp.Tiers[3].Name != "enterprise" {
		t.Fatalf("unexpected tier order: %s .. %s", resp.Tiers[0].Name, resp.Tiers[3].Name)
	}
	if !resp.Tiers[3].IsEnterprise {
		t.Fatal("expected enterprise tier to be flagged")
	}
}

func TestGetSubscriptionIncludesEffectiveFee(t *testing.T) {
	mock := setupTestDB(t)

	mock.ExpectQuery("SELECT id, org_id, tier_name").
		WithArgs("org-1").
		WillReturnRows(subscriptionRows("sub-1", "org-1", "enterprise", "active", 12))

	c, w := newTestContext(t, http.MethodGet, "/subscription", "org-1", nil)
	GetSubscription(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp tellerapi.SubscriptionStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Tier.Name != "enterprise" {
		t.Fatalf("expected enterprise tier info, got %s", resp.Tier.Name)
	}
	// No custom override on the row, so the tier default applies.
	if resp.FeePercent != 1.5 {
		t.Fatalf("expected fee 1.5, got %v", resp.FeePercent)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetSubscriptionStatusSuspends(t *testing.T) {
	t.Setenv("SMTP_HOST", "")
	mock := setupTestDB(t)

	mock.ExpectQuery("SELECT id, org_id, tier_name").
		WithArgs("org-1").
		WillReturnRows(subscriptionRows("sub-1", "org-1", "growth", "active", 3))
	mock.ExpectExec("UPDATE teller.subscriptions").
		WithArgs("suspended", "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	c, w := newTestContext(t, http.MethodPut, "/subscription/status", "org-1",
		[]byte(`{"status":"suspended","reason":"payment overdue"}`))
	SetSubscriptionStatus(c)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSetSubscriptionStatusRequiresSuspensionReason(t *testing.T) {
	setupTestDB(t)

	c, w := newTestContext(t, http.MethodPut, "/subscription/status", "org-1",
		[]byte(`{"status":"suspended"}`))
	SetSubscriptionStatus(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without reason, got %d: %s", w.Code, w.Body.String())
	}
}

func TestSetSubscriptionStatusRejectsCancelled(t *testing.T) {
	mock := setupTestDB(t)

	mock.ExpectQuery("SELECT id, org_id, tier_name").
		WithArgs("org-1").
		WillReturnRows(subscriptionRows("sub-1", "org-1", "growth", "cancelled", 0))

	c, w := newTestContext(t, http.MethodPut, "/subscription/status", "org-1",
		[]byte(`{"status":"active"}`))
	SetSubscriptionStatus(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for cancelled subscription, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestChangeTierRejectsUnknownTier(t *testing.T) {
	setupTestDB(t)

	c, w := newTestContext(t, http.MethodPut, "/subscription/tier", "org-1", []byte(`{"tier_name":"platinum"}`))
	ChangeTier(c)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown tier, got %d: %s", w.Code, w.Body.String())
	}
}

func TestChangeTierRejectsSuspendedSubscription(t *testing.T) {
	mock := setupTestDB(t)

	mock.ExpectQuery("SELECT id, org_id, tier_name").
		WithArgs("org-1").
		WillReturnRows(subscriptionRows("sub-1", "org-1", "growth", "suspended", 0))

	c, w := newTestContext(t, http.MethodPut, "/subscription/tier", "org-1", []byte(`{"tier_name":"scale"}`))
	ChangeTier(c)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for suspended subscription, got %d: %s", w.Code, w.Body.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
