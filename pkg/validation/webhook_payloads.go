package validation

import (
	"fmt"
	"time"

	"airvend/pkg/models"
)

// PaymentWebhookEvent is the body of a payment gateway webhook delivery.
// The gateway reports the outcome of an external checkout session.
type PaymentWebhookEvent struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"` // "payment.succeeded" or "payment.failed"
	OrderID   string `json:"order_id"`
	Provider  string `json:"provider"`
	// AmountCents echoes the charged amount for reconciliation.
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency,omitempty"`
	Reason      string `json:"reason,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

// Payment webhook event types
const (
	PaymentEventSucceeded = "payment.succeeded"
	PaymentEventFailed    = "payment.failed"
)

// TopupWebhookEvent is the body of a provider delivery callback reporting
// the final state of a submitted top-up.
type TopupWebhookEvent struct {
	EventID    string `json:"event_id"`
	OrderID    string `json:"order_id"`
	ProviderID string `json:"provider_id"`
	Status     string `json:"status"` // "delivered" or "failed"
	Reason     string `json:"reason,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

// Topup webhook statuses
const (
	TopupStatusDelivered = "delivered"
	TopupStatusFailed    = "failed"
)

// MaxWebhookAge is the oldest event timestamp accepted; anything older is
// treated as a replay.
const MaxWebhookAge = 5 * time.Minute

// ValidatePaymentEvent checks required fields and the event type.
func ValidatePaymentEvent(ev *PaymentWebhookEvent) error {
	if ev.EventID == "" {
		return fmt.Errorf("payment webhook: missing event_id")
	}
	if ev.OrderID == "" {
		return fmt.Errorf("payment webhook: missing order_id")
	}
	switch ev.EventType {
	case PaymentEventSucceeded, PaymentEventFailed:
	default:
		return fmt.Errorf("payment webhook: unknown event_type %q", ev.EventType)
	}
	if ev.EventType == PaymentEventSucceeded && ev.AmountCents <= 0 {
		return fmt.Errorf("payment webhook: amount_cents must be positive for %s", PaymentEventSucceeded)
	}
	return nil
}

// ValidateTopupEvent checks required fields and maps the provider status to
// an internal transaction status.
func ValidateTopupEvent(ev *TopupWebhookEvent) (string, error) {
	if ev.EventID == "" {
		return "", fmt.Errorf("topup webhook: missing event_id")
	}
	if ev.OrderID == "" {
		return "", fmt.Errorf("topup webhook: missing order_id")
	}
	switch ev.Status {
	case TopupStatusDelivered:
		return models.StatusCompleted, nil
	case TopupStatusFailed:
		return models.StatusFailed, nil
	default:
		return "", fmt.Errorf("topup webhook: unknown status %q", ev.Status)
	}
}
