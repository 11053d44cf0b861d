// Package validation holds boundary checks for payloads that arrive as
// loosely typed JSON: transaction metadata and webhook event bodies.
package validation

import (
	"encoding/json"
	"fmt"

	"airvend/pkg/models"
)

// ValidateMetadata checks a transaction metadata document against the known
// tagged shapes. Kind names the primary payload, which must be present. A
// gateway reference may accompany a topup payload (gateway-paid orders carry
// both); all other combinations and unknown kinds are rejected.
func ValidateMetadata(meta *models.TransactionMetadata) error {
	if meta == nil {
		return nil
	}

	if meta.Topup != nil && meta.Refund != nil {
		return fmt.Errorf("metadata: topup and refund payloads are mutually exclusive")
	}
	if meta.Gateway != nil && (meta.Gateway.Provider == "" || meta.Gateway.ExternalID == "") {
		return fmt.Errorf("metadata: gateway payload missing provider or external_id")
	}

	switch meta.Kind {
	case models.MetadataKindTopup:
		if meta.Topup == nil {
			return fmt.Errorf("metadata: kind %q requires topup payload", meta.Kind)
		}
		if meta.Topup.SKU == "" {
			return fmt.Errorf("metadata: topup payload missing sku")
		}
		if meta.Topup.RetryCount < 0 {
			return fmt.Errorf("metadata: topup retry_count must not be negative")
		}
	case models.MetadataKindRefund:
		if meta.Refund == nil {
			return fmt.Errorf("metadata: kind %q requires refund payload", meta.Kind)
		}
		if meta.Refund.OriginalTransactionID == "" {
			return fmt.Errorf("metadata: refund payload missing original_transaction_id")
		}
		if meta.Refund.Reason == "" {
			return fmt.Errorf("metadata: refund payload missing reason")
		}
		if meta.Gateway != nil {
			return fmt.Errorf("metadata: refund payload does not take a gateway reference")
		}
	case models.MetadataKindGateway:
		if meta.Gateway == nil {
			return fmt.Errorf("metadata: kind %q requires gateway payload", meta.Kind)
		}
		if meta.Topup != nil {
			return fmt.Errorf("metadata: kind %q allows only the gateway payload", meta.Kind)
		}
	case "":
		return fmt.Errorf("metadata: missing kind")
	default:
		return fmt.Errorf("metadata: unknown kind %q", meta.Kind)
	}

	return nil
}

// ParseMetadata decodes a raw metadata document and validates it. Used when
// metadata comes back out of the transactions table as JSONB.
func ParseMetadata(raw []byte) (*models.TransactionMetadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta models.TransactionMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("metadata: decode: %w", err)
	}
	if err := ValidateMetadata(&meta); err != nil {
		return nil, err
	}
	return &meta, nil
}
