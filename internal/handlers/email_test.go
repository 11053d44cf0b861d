package handlers

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestEmailServiceUnconfiguredIsNoop(t *testing.T) {
	t.Setenv("SMTP_HOST", "")
	es := NewEmailService(logrus.New())

	if es.IsConfigured() {
		t.Fatal("expected service to be unconfigured without SMTP_HOST")
	}
	if err := es.SendRefundNotification("user@example.com", "Ada", "ord_1", "25.00 USD", "delivery failed"); err != nil {
		t.Fatalf("expected unconfigured send to be a silent no-op, got %v", err)
	}
}

func TestRenderTemplate(t *testing.T) {
	es := &EmailService{logger: logrus.New()}

	body, err := es.renderTemplate("refund_processed", map[string]string{
		"CustomerName": "Ada",
		"OrderID":      "ord_42",
		"Amount":       "25.00 USD",
		"Reason":       "operator timeout",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Ada", "ord_42", "25.00 USD", "operator timeout"} {
		if !strings.Contains(body, want) {
			t.Errorf("rendered body missing %q", want)
		}
	}

	if _, err := es.renderTemplate("no_such_template", nil); err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestFormatCents(t *testing.T) {
	if got := formatCents(2550, "EUR"); got != "25.50 EUR" {
		t.Fatalf("got %q", got)
	}
	if got := formatCents(5, "USD"); got != "0.05 USD" {
		t.Fatalf("got %q", got)
	}
}
