package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tellerapi "airvend/pkg/api/teller"
	"airvend/pkg/logging"
	"airvend/pkg/middleware"
	"airvend/pkg/models"
	"airvend/pkg/validation"
)

// signatureTolerance bounds how old a signed webhook timestamp may be.
const signatureTolerance = 300 * time.Second

// verifyWebhookSignature checks a `t=<unix>,v1=<hex hmac>` signature header
// over `<timestamp>.<payload>` with the shared secret.
func verifyWebhookSignature(payload []byte, header, secret string) error {
	if header == "" {
		return fmt.Errorf("missing signature header")
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return fmt.Errorf("malformed signature header")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid signature timestamp")
	}
	if d := time.Since(time.Unix(ts, 0)); d > signatureTolerance || d < -signatureTolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return fmt.Errorf("signature mismatch")
}

// isWebhookAlreadyProcessed reports whether an event was already handled.
func isWebhookAlreadyProcessed(providerName, eventID string) (bool, error) {
	var exists bool
	err := db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM teller.webhook_events WHERE provider = $1 AND event_id = $2)
	`, providerName, eventID).Scan(&exists)
	return exists, err
}

// markWebhookProcessed records an event id. The unique constraint makes
// concurrent duplicate deliveries a no-op.
func markWebhookProcessed(providerName, eventID, eventType string) error {
	_, err := db.Exec(`
		INSERT INTO teller.webhook_events (provider, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, providerName, eventID, eventType)
	return err
}

// HandlePaymentWebhook processes payment-gateway notifications. A succeeded
// payment moves the transaction to paid and submits the top-up to the
// provider; a failed payment fails the transaction.
func HandlePaymentWebhook(c middleware.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Failed to read payload"})
		return
	}

	if paymentWebhookSecret == "" {
		logger.Error("PAYMENT_WEBHOOK_SECRET not configured")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Webhook not configured"})
		return
	}
	if err := verifyWebhookSignature(payload, c.GetHeader("X-Payment-Signature"), paymentWebhookSecret); err != nil {
		countWebhook("payment", "bad_signature")
		logger.WithError(err).Warn("Payment webhook signature verification failed")
		c.JSON(http.StatusUnauthorized, tellerapi.ErrorResponse{Error: "Invalid signature"})
		return
	}

	var event validation.PaymentWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid payload"})
		return
	}
	if err := validation.ValidatePaymentEvent(&event); err != nil {
		countWebhook("payment", "invalid")
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: err.Error(), Code: "invalid_event"})
		return
	}

	processed, err := isWebhookAlreadyProcessed("payment", event.EventID)
	if err != nil {
		logger.WithError(err).Error("Failed to check webhook idempotency")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Webhook processing failed"})
		return
	}
	if processed {
		countWebhook("payment", "duplicate")
		c.JSON(http.StatusOK, tellerapi.SuccessResponse{Success: true, Message: "Event already processed"})
		return
	}

	t, err := getTransactionByOrderID(event.OrderID)
	if err != nil {
		countWebhook("payment", "unknown_order")
		logger.WithFields(logging.Fields{
			"event_id": event.EventID,
			"order_id": event.OrderID,
		}).Warn("Payment webhook for unknown order")
		// Acknowledge so the gateway stops retrying; nothing to do here.
		c.JSON(http.StatusOK, tellerapi.SuccessResponse{Success: true, Message: "Unknown order acknowledged"})
		return
	}

	switch event.EventType {
	case validation.PaymentEventSucceeded:
		ok, err := transitionStatus(c.Request.Context(), t.ID, models.StatusPending, models.StatusPaid, "")
		if err != nil {
			logger.WithError(err).Error("Failed to mark transaction paid")
			c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Webhook processing failed"})
			return
		}
		if ok {
			meta := transactionMetadata(t)
			if meta.Gateway == nil {
				meta.Gateway = &models.GatewayMetadata{Provider: event.Provider, ExternalID: event.EventID}
				storeGatewayReference(t.ID, meta)
			}
			// submitTopup rewrites the metadata on success and keeps the
			// gateway reference it was handed.
			submitTopup(c.Request.Context(), t, meta)
		}
	case validation.PaymentEventFailed:
		reason := event.Reason
		if reason == "" {
			reason = "payment failed"
		}
		if _, err := transitionStatus(c.Request.Context(), t.ID, models.StatusPending, models.StatusFailed, reason); err != nil {
			logger.WithError(err).Error("Failed to fail transaction")
			c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Webhook processing failed"})
			return
		}
	}

	if err := markWebhookProcessed("payment", event.EventID, event.EventType); err != nil {
		logger.WithError(err).Error("Failed to record webhook event")
	}
	countWebhook("payment", "processed")

	c.JSON(http.StatusOK, tellerapi.SuccessResponse{Success: true, Message: "Event processed"})
}

// HandleTopupWebhook processes top-up provider delivery notifications. The
// route is protected by service-token auth; there is no payload signature.
func HandleTopupWebhook(c middleware.Context) {
	var event validation.TopupWebhookEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: "Invalid payload"})
		return
	}

	target, err := validation.ValidateTopupEvent(&event)
	if err != nil {
		countWebhook("topup", "invalid")
		c.JSON(http.StatusBadRequest, tellerapi.ErrorResponse{Error: err.Error(), Code: "invalid_event"})
		return
	}

	processed, err := isWebhookAlreadyProcessed("topup", event.EventID)
	if err != nil {
		logger.WithError(err).Error("Failed to check webhook idempotency")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Webhook processing failed"})
		return
	}
	if processed {
		countWebhook("topup", "duplicate")
		c.JSON(http.StatusOK, tellerapi.SuccessResponse{Success: true, Message: "Event already processed"})
		return
	}

	t, err := getTransactionByOrderID(event.OrderID)
	if err != nil {
		countWebhook("topup", "unknown_order")
		logger.WithFields(logging.Fields{
			"event_id": event.EventID,
			"order_id": event.OrderID,
		}).Warn("Top-up webhook for unknown order")
		c.JSON(http.StatusOK, tellerapi.SuccessResponse{Success: true, Message: "Unknown order acknowledged"})
		return
	}

	reason := ""
	if target == models.StatusFailed {
		reason = event.Reason
		if reason == "" {
			reason = "delivery failed"
		}
	}

	ok, err := transitionStatus(c.Request.Context(), t.ID, models.StatusProcessing, target, reason)
	if err != nil {
		logger.WithError(err).Error("Failed to update transaction from webhook")
		c.JSON(http.StatusInternalServerError, tellerapi.ErrorResponse{Error: "Webhook processing failed"})
		return
	}
	if !ok {
		logger.WithFields(logging.Fields{
			"order_id": event.OrderID,
			"status":   t.Status,
			"target":   target,
		}).Warn("Top-up webhook ignored, transaction not in processing")
	} else if target == models.StatusCompleted {
		notifyDelivery(t)
	}

	if err := markWebhookProcessed("topup", event.EventID, event.Status); err != nil {
		logger.WithError(err).Error("Failed to record webhook event")
	}
	countWebhook("topup", "processed")

	c.JSON(http.StatusOK, tellerapi.SuccessResponse{Success: true, Message: "Event processed"})
}

// storeGatewayReference persists transaction metadata carrying the payment
// gateway reference. It writes the whole document so the topup payload the
// transaction already has stays in place.
func storeGatewayReference(txID string, meta models.TransactionMetadata) {
	if meta.Kind == "" {
		meta.Kind = models.MetadataKindGateway
	}
	if err := validation.ValidateMetadata(&meta); err != nil {
		logger.WithError(err).WithField("transaction_id", txID).Warn("Refusing to store invalid gateway metadata")
		return
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return
	}
	if _, err := db.Exec(`
		UPDATE teller.transactions SET metadata = $1, updated_at = NOW() WHERE id = $2
	`, metaJSON, txID); err != nil {
		logger.WithError(err).Warn("Failed to store gateway reference")
	}
}

func notifyDelivery(t *models.Transaction) {
	if t.CustomerID == nil || !emailService.IsConfigured() {
		return
	}
	var customerEmail, customerName string
	err := db.QueryRow(`SELECT email, name FROM teller.customers WHERE id = $1`, *t.CustomerID).
		Scan(&customerEmail, &customerName)
	if err != nil || customerEmail == "" {
		return
	}
	if err := emailService.SendDeliveryNotification(customerEmail, customerName, t.OrderID,
		t.RecipientPhone, formatCents(t.AmountCents, t.Currency)); err != nil {
		logger.WithError(err).Warn("Failed to send delivery notification")
	}
}
