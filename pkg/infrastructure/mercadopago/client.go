package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"storefront/pkg/domain/model"
)

const (
	DefaultBaseURL    = "https://api.mercadopago.com"
	DefaultPayerEmail = "cliente@exemplo.com"

	expirationLayout = "2006-01-02T15:04:05.000-07:00"
	maxTries         = 3
)

type Config struct {
	BaseURL     string
	AccessToken string
	PayerEmail  string
	Timeout     time.Duration
	// MaxRetryInterval caps the wait between attempts.
	MaxRetryInterval time.Duration
}

// Client is a model.PaymentGateway backed by the Mercado Pago payments API.
type Client struct {
	config Config
	http   *http.Client
}

func NewClient(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.PayerEmail == "" {
		config.PayerEmail = DefaultPayerEmail
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxRetryInterval <= 0 {
		config.MaxRetryInterval = 2 * time.Second
	}
	return &Client{
		config: config,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   config.Timeout,
		},
	}
}

type payer struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

type paymentRequest struct {
	TransactionAmount json.Number `json:"transaction_amount"`
	Description       string      `json:"description"`
	PaymentMethodID   string      `json:"payment_method_id"`
	ExternalReference string      `json:"external_reference"`
	DateOfExpiration  string      `json:"date_of_expiration,omitempty"`
	Payer             payer       `json:"payer"`
}

type paymentResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	ExternalReference  string      `json:"external_reference"`
	DateOfExpiration   string      `json:"date_of_expiration"`
	PointOfInteraction struct {
		TransactionData *struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (r paymentResponse) toCharge() *model.Charge {
	charge := &model.Charge{
		ID:                r.ID.String(),
		ExternalReference: r.ExternalReference,
		Status:            model.ProviderStatus(r.Status),
	}
	if data := r.PointOfInteraction.TransactionData; data != nil {
		charge.QRCode = data.QRCode
		charge.QRCodeBase64 = data.QRCodeBase64
		charge.TicketURL = data.TicketURL
	}
	if expires, err := time.Parse(expirationLayout, r.DateOfExpiration); err == nil {
		charge.ExpiresAt = expires
	}
	return charge
}

// CreateCharge creates a PIX payment. The order id is sent as the
// idempotency key, so retries and repeated calls yield the same charge.
func (c *Client) CreateCharge(ctx context.Context, request model.ChargeRequest) (*model.Charge, error) {
	body := paymentRequest{
		TransactionAmount: json.Number(request.Amount.StringFixed(2)),
		Description:       request.Description,
		PaymentMethodID:   "pix",
		ExternalReference: request.OrderID.String(),
		Payer: payer{
			Email:     c.config.PayerEmail,
			FirstName: request.PayerFirstName,
			LastName:  request.PayerLastName,
		},
	}
	if !request.ExpiresAt.IsZero() {
		body.DateOfExpiration = request.ExpiresAt.Format(expirationLayout)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errors.Wrap(err, "encode payment request")
	}

	response, err := c.do(ctx, http.MethodPost, "/v1/payments", payload, request.OrderID.String())
	if err != nil {
		return nil, err
	}
	if response.ID.String() == "" || response.PointOfInteraction.TransactionData == nil {
		return nil, errors.Wrap(model.ErrProviderResponse, "payment without pix transaction data")
	}

	charge := response.toCharge()
	log.WithFields(log.Fields{
		"orderId":  request.OrderID,
		"chargeId": charge.ID,
		"status":   charge.Status,
	}).Info("pix charge created")
	return charge, nil
}

func (c *Client) GetCharge(ctx context.Context, chargeID string) (*model.Charge, error) {
	response, err := c.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(chargeID), nil, "")
	if err != nil {
		return nil, err
	}
	return response.toCharge(), nil
}

// CancelCharge cancels a charge that has not been paid yet.
func (c *Client) CancelCharge(ctx context.Context, chargeID string) (*model.Charge, error) {
	payload, err := json.Marshal(map[string]string{"status": string(model.ProviderCancelled)})
	if err != nil {
		return nil, errors.Wrap(err, "encode cancel request")
	}
	response, err := c.do(ctx, http.MethodPut, "/v1/payments/"+url.PathEscape(chargeID), payload, "")
	if err != nil {
		return nil, err
	}
	charge := response.toCharge()
	log.WithFields(log.Fields{"chargeId": chargeID, "status": charge.Status}).Info("pix charge cancelled")
	return charge, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte, idempotencyKey string) (paymentResponse, error) {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = c.config.MaxRetryInterval
	if policy.InitialInterval > policy.MaxInterval {
		policy.InitialInterval = policy.MaxInterval
	}

	return backoff.Retry[paymentResponse](ctx, func() (paymentResponse, error) {
		return c.attempt(ctx, method, path, payload, idempotencyKey)
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(maxTries))
}

// attempt performs one request. Errors that another attempt cannot fix are
// marked permanent.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, idempotencyKey string) (paymentResponse, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return paymentResponse{}, backoff.Permanent(errors.Wrap(err, "build provider request"))
	}
	req.Header.Set("Authorization", "Bearer "+c.config.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return paymentResponse{}, backoff.Permanent(errors.Wrap(model.ErrProviderUnavailable, err.Error()))
		}
		return paymentResponse{}, errors.Wrap(model.ErrProviderUnavailable, err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return paymentResponse{}, errors.Wrap(model.ErrProviderUnavailable, err.Error())
	}

	switch {
	case resp.StatusCode == http.StatusNotFound && method != http.MethodPost:
		return paymentResponse{}, backoff.Permanent(model.ErrChargeNotFound)
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		log.WithFields(log.Fields{"status": resp.StatusCode, "path": path}).Warn("payment provider unavailable")
		return paymentResponse{}, errors.Wrapf(model.ErrProviderUnavailable, "status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return paymentResponse{}, backoff.Permanent(
			errors.Wrapf(model.ErrProviderRejected, "status %d: %s", resp.StatusCode, snippet(raw)))
	}

	var decoded paymentResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return paymentResponse{}, backoff.Permanent(errors.Wrap(model.ErrProviderResponse, err.Error()))
	}
	return decoded, nil
}

func snippet(raw []byte) string {
	const max = 200
	s := strings.TrimSpace(string(raw))
	if len(s) > max {
		return fmt.Sprintf("%s...", s[:max])
	}
	return s
}
