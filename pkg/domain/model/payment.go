package model

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderAlreadyPaid    = NewError(ErrConflict, "order has already been paid")
	ErrOrderNotPayable     = NewError(ErrConflict, "order can no longer be paid, check out again")
	ErrAmountMismatch      = NewValidationError("amount", "does not match the order total")
	ErrChargeNotFound      = NewError(ErrNotFound, "payment charge not found")
	ErrProviderRejected    = NewError(ErrProvider, "payment provider rejected the request")
	ErrProviderResponse    = NewError(ErrProvider, "payment provider returned an invalid response")
	ErrProviderUnavailable = NewError(ErrProvider, "payment provider is unavailable")
)

// ProviderStatus is the charge status reported by the payment provider.
type ProviderStatus string

const (
	ProviderPending   ProviderStatus = "pending"
	ProviderInProcess ProviderStatus = "in_process"
	ProviderApproved  ProviderStatus = "approved"
	ProviderRejected  ProviderStatus = "rejected"
	ProviderCancelled ProviderStatus = "cancelled"
)

// Charge is a PIX charge as returned by the provider.
type Charge struct {
	ID                string         `json:"id"`
	ExternalReference string         `json:"-"`
	Status            ProviderStatus `json:"status"`
	QRCode            string         `json:"qrCode"`
	QRCodeBase64      string         `json:"qrCodeBase64"`
	TicketURL         string         `json:"ticketUrl"`
	ExpiresAt         time.Time      `json:"expiresAt,omitempty"`
}

// Open reports whether the charge can still be paid.
func (c *Charge) Open() bool {
	return c.Status == ProviderPending || c.Status == ProviderInProcess
}

type ChargeRequest struct {
	OrderID        uuid.UUID
	Amount         decimal.Decimal
	Description    string
	PayerFirstName string
	PayerLastName  string
	ExpiresAt      time.Time
}

// PaymentGateway creates PIX charges, looks them up by id and cancels the
// ones still open.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, request ChargeRequest) (*Charge, error)
	GetCharge(ctx context.Context, chargeID string) (*Charge, error)
	CancelCharge(ctx context.Context, chargeID string) (*Charge, error)
}

// PaymentNotification is the envelope the provider posts to the webhook.
type PaymentNotification struct {
	Type     string
	ChargeID string
}

// PaymentEvent is a charge outcome resolved against the provider.
type PaymentEvent struct {
	OrderRef string
	ChargeID string
	Status   ProviderStatus
}
