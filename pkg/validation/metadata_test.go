package validation

import (
	"testing"

	"airvend/pkg/models"
)

func TestValidateMetadata_TableDriven(t *testing.T) {
	tests := []struct {
		name    string
		meta    *models.TransactionMetadata
		wantErr bool
	}{
		{
			name: "valid topup",
			meta: &models.TransactionMetadata{
				Kind:  models.MetadataKindTopup,
				Topup: &models.TopupMetadata{SKU: "TOPUP-10", Operator: "vodafone"},
			},
		},
		{
			name: "valid refund",
			meta: &models.TransactionMetadata{
				Kind:   models.MetadataKindRefund,
				Refund: &models.RefundMetadata{OriginalTransactionID: "tx-1", Reason: "provider failure"},
			},
		},
		{
			name: "valid gateway",
			meta: &models.TransactionMetadata{
				Kind:    models.MetadataKindGateway,
				Gateway: &models.GatewayMetadata{Provider: "stripe", ExternalID: "pi_123"},
			},
		},
		{
			name: "nil metadata allowed",
			meta: nil,
		},
		{
			name:    "missing kind",
			meta:    &models.TransactionMetadata{},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			meta:    &models.TransactionMetadata{Kind: "mystery"},
			wantErr: true,
		},
		{
			name:    "kind without payload",
			meta:    &models.TransactionMetadata{Kind: models.MetadataKindTopup},
			wantErr: true,
		},
		{
			name: "payload mismatch",
			meta: &models.TransactionMetadata{
				Kind:   models.MetadataKindTopup,
				Refund: &models.RefundMetadata{OriginalTransactionID: "tx-1", Reason: "r"},
			},
			wantErr: true,
		},
		{
			name: "topup and refund together",
			meta: &models.TransactionMetadata{
				Kind:   models.MetadataKindTopup,
				Topup:  &models.TopupMetadata{SKU: "TOPUP-10"},
				Refund: &models.RefundMetadata{OriginalTransactionID: "tx-1", Reason: "r"},
			},
			wantErr: true,
		},
		{
			name: "topup with gateway reference",
			meta: &models.TransactionMetadata{
				Kind:    models.MetadataKindTopup,
				Topup:   &models.TopupMetadata{SKU: "TOPUP-10", Operator: "vodafone"},
				Gateway: &models.GatewayMetadata{Provider: "stripe", ExternalID: "pi_123"},
			},
		},
		{
			name: "refund with gateway reference",
			meta: &models.TransactionMetadata{
				Kind:    models.MetadataKindRefund,
				Refund:  &models.RefundMetadata{OriginalTransactionID: "tx-1", Reason: "r"},
				Gateway: &models.GatewayMetadata{Provider: "stripe", ExternalID: "pi_123"},
			},
			wantErr: true,
		},
		{
			name: "gateway kind with topup payload",
			meta: &models.TransactionMetadata{
				Kind:    models.MetadataKindGateway,
				Topup:   &models.TopupMetadata{SKU: "TOPUP-10"},
				Gateway: &models.GatewayMetadata{Provider: "stripe", ExternalID: "pi_123"},
			},
			wantErr: true,
		},
		{
			name: "topup missing sku",
			meta: &models.TransactionMetadata{
				Kind:  models.MetadataKindTopup,
				Topup: &models.TopupMetadata{Operator: "vodafone"},
			},
			wantErr: true,
		},
		{
			name: "refund missing reason",
			meta: &models.TransactionMetadata{
				Kind:   models.MetadataKindRefund,
				Refund: &models.RefundMetadata{OriginalTransactionID: "tx-1"},
			},
			wantErr: true,
		},
		{
			name: "negative retry count",
			meta: &models.TransactionMetadata{
				Kind:  models.MetadataKindTopup,
				Topup: &models.TopupMetadata{SKU: "TOPUP-10", RetryCount: -1},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMetadata(tt.meta)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestParseMetadata(t *testing.T) {
	raw := []byte(`{"kind":"topup","topup":{"sku":"TOPUP-10","operator":"orange"}}`)
	meta, err := ParseMetadata(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Kind != models.MetadataKindTopup || meta.Topup.SKU != "TOPUP-10" {
		t.Fatalf("unexpected metadata: %+v", meta)
	}

	if _, err := ParseMetadata([]byte(`{"kind":"nope"}`)); err == nil {
		t.Fatalf("expected error for unknown kind")
	}

	meta, err = ParseMetadata(nil)
	if err != nil || meta != nil {
		t.Fatalf("expected nil metadata for empty input, got %+v, %v", meta, err)
	}
}

func TestValidatePaymentEvent(t *testing.T) {
	ev := &PaymentWebhookEvent{EventID: "ev-1", EventType: PaymentEventSucceeded, OrderID: "ord-1", AmountCents: 1200}
	if err := ValidatePaymentEvent(ev); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ValidatePaymentEvent(&PaymentWebhookEvent{EventType: PaymentEventSucceeded, OrderID: "o"}); err == nil {
		t.Fatalf("expected error for missing event_id")
	}
	if err := ValidatePaymentEvent(&PaymentWebhookEvent{EventID: "e", EventType: "payment.exploded", OrderID: "o"}); err == nil {
		t.Fatalf("expected error for unknown event type")
	}
	if err := ValidatePaymentEvent(&PaymentWebhookEvent{EventID: "e", EventType: PaymentEventSucceeded, OrderID: "o", AmountCents: 0}); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestValidateTopupEvent(t *testing.T) {
	status, err := ValidateTopupEvent(&TopupWebhookEvent{EventID: "e", OrderID: "o", Status: TopupStatusDelivered})
	if err != nil || status != models.StatusCompleted {
		t.Fatalf("expected completed, got %q, %v", status, err)
	}

	status, err = ValidateTopupEvent(&TopupWebhookEvent{EventID: "e", OrderID: "o", Status: TopupStatusFailed})
	if err != nil || status != models.StatusFailed {
		t.Fatalf("expected failed, got %q, %v", status, err)
	}

	if _, err := ValidateTopupEvent(&TopupWebhookEvent{EventID: "e", OrderID: "o", Status: "lost"}); err == nil {
		t.Fatalf("expected error for unknown status")
	}
}
