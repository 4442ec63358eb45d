// Package remote is the HTTP client for the back-office endpoints the POS
// core talks to: sale submission, catalog pull, and the health probe.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"resty.dev/v3"
)

// ErrValidation marks a sale the server rejected as invalid (HTTP 400).
// Retrying such a sale can never succeed, so callers dead-letter it
// immediately instead of burning retry budget on it.
var ErrValidation = errors.New("sale rejected as invalid")

// StatusError is a non-2xx response that is not a validation rejection.
// Treated as transient by the sync path.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote returned status %d", e.Code)
	}
	return fmt.Sprintf("remote returned status %d: %s", e.Code, e.Message)
}

// SubmissionItem is one sale line in the submission payload.
type SubmissionItem struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	SKU       string          `json:"sku"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int64           `json:"quantity"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// SaleSubmission is the wire shape the sale endpoint accepts.
type SaleSubmission struct {
	Items         []SubmissionItem `json:"items"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	Discount      decimal.Decimal  `json:"discount"`
	Total         decimal.Decimal  `json:"total"`
	AmountPaid    decimal.Decimal  `json:"amount_paid"`
	PaymentMethod string           `json:"payment_method"`
	CustomerName  string           `json:"customer_name,omitempty"`
	CustomerPhone string           `json:"customer_phone,omitempty"`
	CustomerEmail string           `json:"customer_email,omitempty"`
	Notes         string           `json:"notes"`
}

// Product is one entry of the remote catalog listing.
type Product struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	SKU         string          `json:"sku"`
	Barcode     string          `json:"barcode"`
	Price       decimal.Decimal `json:"price"`
	Stock       int64           `json:"stock"`
	Category    string          `json:"category"`
	Brand       string          `json:"brand"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
}

type saleResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client calls the remote back office. Every call takes a context; the
// configured timeout bounds each request so a hung submission cannot starve
// the sync sweep.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger, _ = zap.NewProduction()
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{http: c, logger: logger}
}

// Close releases the underlying HTTP client resources.
func (c *Client) Close() error {
	return c.http.Close()
}

// SubmitSale posts a sale and returns the server-assigned sale id. A 400
// response comes back wrapping ErrValidation; any other failure is transient
// from the caller's point of view.
func (c *Client) SubmitSale(ctx context.Context, sub SaleSubmission) (string, error) {
	var out saleResponse
	var apiErr errorResponse

	res, err := c.http.R().
		SetContext(ctx).
		SetBody(sub).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/sales")
	if err != nil {
		return "", fmt.Errorf("submit sale: %w", err)
	}
	if res.StatusCode() == http.StatusBadRequest {
		return "", fmt.Errorf("%w: %s", ErrValidation, apiErr.Error)
	}
	if !res.IsSuccess() {
		return "", &StatusError{Code: res.StatusCode(), Message: apiErr.Error}
	}
	if out.ID == "" {
		// A 2xx without an id is not an acknowledgment we can trust.
		return "", &StatusError{Code: res.StatusCode(), Message: "missing sale id in response"}
	}
	c.logger.Debug("sale submitted", zap.String("server_sale_id", out.ID))
	return out.ID, nil
}

// FetchCatalog pulls the full active product list.
func (c *Client) FetchCatalog(ctx context.Context) ([]Product, error) {
	var out []Product
	var apiErr errorResponse

	res, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get("/api/products")
	if err != nil {
		return nil, fmt.Errorf("fetch catalog: %w", err)
	}
	if !res.IsSuccess() {
		return nil, &StatusError{Code: res.StatusCode(), Message: apiErr.Error}
	}
	return out, nil
}

// Probe measures round-trip latency to the health endpoint. The response
// body is ignored; only the elapsed time and the error matter.
func (c *Client) Probe(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	res, err := c.http.R().SetContext(ctx).Get("/api/health")
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, fmt.Errorf("health probe: %w", err)
	}
	if !res.IsSuccess() {
		return elapsed, &StatusError{Code: res.StatusCode()}
	}
	return elapsed, nil
}
