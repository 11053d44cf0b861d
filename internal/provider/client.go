// Package provider implements the REST client for the upstream top-up
// provider: product catalog, top-up submission, and status polling.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/failsafe-go/failsafe-go"
	"github.com/go-resty/resty/v2"

	"airvend/pkg/clients"
	"airvend/pkg/logging"
)

// Error is a typed upstream failure. Handlers map it to 502 with the
// provider's own message attached.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Message)
}

// AsError unwraps a provider error from err when present.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Product is one catalog entry offered by the provider.
type Product struct {
	SKU         string `json:"sku"`
	Operator    string `json:"operator"`
	Country     string `json:"country"`
	DisplayName string `json:"display_name"`
	// CostCents is the wholesale cost billed to the platform.
	CostCents int64  `json:"cost_cents"`
	FaceCents int64  `json:"face_cents"`
	Currency  string `json:"currency"`
}

// SubmitRequest asks the provider to deliver a top-up.
type SubmitRequest struct {
	OrderID        string `json:"order_id"`
	SKU            string `json:"sku"`
	RecipientPhone string `json:"recipient_phone"`
	AmountCents    int64  `json:"amount_cents"`
}

// SubmitResponse is the provider's acknowledgment of a submission.
type SubmitResponse struct {
	ProviderID string `json:"provider_id"`
	Status     string `json:"status"`
}

// StatusResponse reports the current delivery state of a submission.
type StatusResponse struct {
	ProviderID string `json:"provider_id"`
	Status     string `json:"status"` // "accepted", "delivered", "failed"
	Reason     string `json:"reason,omitempty"`
}

// Provider-reported statuses
const (
	SubmitAccepted  = "accepted"
	SubmitDelivered = "delivered"
	SubmitFailed    = "failed"
)

type Client struct {
	http     *resty.Client
	executor failsafe.Executor[*resty.Response]
	logger   logging.Logger
}

type Config struct {
	BaseURL string
	APIKey  string
	Retry   clients.RetryConfig
}

func NewClient(cfg Config, logger logging.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetHeader("Authorization", "Bearer "+cfg.APIKey).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:     httpClient,
		executor: clients.NewExecutor(cfg.Retry, "topup-provider", logger),
		logger:   logger,
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// toError turns a non-2xx response into a typed provider error, preferring
// the provider's own message text.
func toError(resp *resty.Response) *Error {
	msg := resp.Status()
	var body errorBody
	if err := json.Unmarshal(resp.Body(), &body); err == nil {
		if body.Message != "" {
			msg = body.Message
		} else if body.Error != "" {
			msg = body.Error
		}
	}
	return &Error{StatusCode: resp.StatusCode(), Message: msg}
}

// Catalog fetches products, optionally narrowed by country and operator.
func (c *Client) Catalog(ctx context.Context, country, operator string) ([]Product, error) {
	var products []Product

	resp, err := clients.Execute(ctx, c.executor, func() (*resty.Response, error) {
		req := c.http.R().SetContext(ctx).SetResult(&products)
		if country != "" {
			req.SetQueryParam("country", country)
		}
		if operator != "" {
			req.SetQueryParam("operator", operator)
		}
		return req.Get("/v1/products")
	})
	if err != nil {
		return nil, fmt.Errorf("provider catalog request failed: %w", err)
	}
	if resp.IsError() {
		return nil, toError(resp)
	}
	return products, nil
}

// Submit sends a top-up for delivery.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	var result SubmitResponse

	resp, err := clients.Execute(ctx, c.executor, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetBody(req).
			SetResult(&result).
			Post("/v1/topups")
	})
	if err != nil {
		return nil, fmt.Errorf("provider submit request failed: %w", err)
	}
	if resp.IsError() {
		return nil, toError(resp)
	}

	c.logger.WithFields(logging.Fields{
		"order_id":    req.OrderID,
		"provider_id": result.ProviderID,
		"status":      result.Status,
	}).Info("Top-up submitted to provider")

	return &result, nil
}

// Status polls the delivery state of a prior submission.
func (c *Client) Status(ctx context.Context, providerID string) (*StatusResponse, error) {
	var result StatusResponse

	resp, err := clients.Execute(ctx, c.executor, func() (*resty.Response, error) {
		return c.http.R().
			SetContext(ctx).
			SetResult(&result).
			Get("/v1/topups/" + providerID)
	})
	if err != nil {
		return nil, fmt.Errorf("provider status request failed: %w", err)
	}
	if resp.IsError() {
		return nil, toError(resp)
	}
	return &result, nil
}
