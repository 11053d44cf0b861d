package handlers

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/sirupsen/logrus"

	"airvend/pkg/models"
)

func newTestJobManager(t *testing.T) (*JobManager, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })
	return NewJobManager(mockDB, logrus.New(), nil), mock
}

func TestRolloverExpiredPeriods(t *testing.T) {
	jm, mock := newTestJobManager(t)

	mock.ExpectExec("UPDATE teller.subscriptions").
		WithArgs(models.SubscriptionActive).
		WillReturnResult(sqlmock.NewResult(0, 3))

	jm.rolloverExpiredPeriods(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExpireStalePending(t *testing.T) {
	jm, mock := newTestJobManager(t)

	mock.ExpectExec("UPDATE teller.transactions").
		WithArgs(models.StatusFailed, models.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 2))

	jm.expireStalePending(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSettleOnlyTouchesProcessing(t *testing.T) {
	jm, mock := newTestJobManager(t)

	mock.ExpectExec("UPDATE teller.transactions").
		WithArgs(models.StatusCompleted, "", "tx-1", models.StatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 0))

	jm.settle(context.Background(), "tx-1", "ord_1", models.StatusCompleted, "")

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProviderIDFromMetadata(t *testing.T) {
	cases := []struct {
		name string
		meta models.JSONB
		want string
	}{
		{"nil metadata", nil, ""},
		{"no topup", models.JSONB{"kind": "gateway"}, ""},
		{"topup without provider id", models.JSONB{"topup": map[string]interface{}{"sku": "NL-KPN-10"}}, ""},
		{"topup with provider id", models.JSONB{"topup": map[string]interface{}{"provider_id": "prov_1"}}, "prov_1"},
	}
	for _, tc := range cases {
		if got := providerIDFromMetadata(tc.meta); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}
