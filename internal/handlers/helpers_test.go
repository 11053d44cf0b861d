package handlers

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"airvend/internal/ledger"
	"airvend/pkg/cache"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupTestDB swaps the package database for a sqlmock and restores the
// dependent services around it.
func setupTestDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	db = mockDB
	logger = logrus.New()
	metrics = nil
	emailService = NewEmailService(logger)
	ledgerSvc = ledger.New(mockDB, logger)
	catalogCache = cache.New(cache.Options{}, cache.Hooks{})
	paymentWebhookSecret = ""

	t.Cleanup(func() {
		mockDB.Close()
		db = nil
	})
	return mock
}

// newTestContext builds a gin context carrying an authenticated org.
func newTestContext(t *testing.T, method, target, org string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	c.Request = httptest.NewRequest(method, target, bodyReader)
	c.Request.Header.Set("Content-Type", "application/json")
	if org != "" {
		c.Set("org_id", org)
	}
	return c, w
}
