package model

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrOrderNotFound  = NewError(ErrNotFound, "order not found")
	ErrOptimisticLock = NewError(ErrConflict, "order has been modified by another transaction")

	ErrOrderIsEmpty          = NewValidationError("items", "cannot create an order without items")
	ErrCustomerNameRequired  = NewValidationError("customerName", "is required")
	ErrCustomerPhoneRequired = NewValidationError("customerPhone", "is required")
	ErrAddressRequired       = NewValidationError("customerAddress", "is required for delivery")
	ErrInvalidDeliveryType   = NewValidationError("deliveryType", "must be RETIRAR or ENTREGAR")
	ErrDeliveryUnavailable   = NewValidationError("deliveryType", "delivery is currently disabled")
	ErrTotalMismatch         = NewValidationError("total", "does not match the order items")
	ErrInvalidOrderStatus    = NewValidationError("status", "unknown order status")
	ErrInvalidPaymentStatus  = NewValidationError("paymentStatus", "unknown payment status")

	ErrInvalidTransition   = NewError(ErrConflict, "order status transition is not allowed")
	ErrPaymentNotApproved  = NewError(ErrConflict, "order payment has not been approved")
	ErrPaymentIDAlreadySet = NewError(ErrConflict, "order already has a payment id")
)

type DeliveryType string

const (
	Pickup   DeliveryType = "RETIRAR"
	Delivery DeliveryType = "ENTREGAR"
)

func ParseDeliveryType(s string) (DeliveryType, error) {
	switch DeliveryType(strings.ToUpper(strings.TrimSpace(s))) {
	case "", Pickup:
		return Pickup, nil
	case Delivery:
		return Delivery, nil
	}
	return "", ErrInvalidDeliveryType
}

// OrderStatus is the fulfillment axis of an order.
type OrderStatus string

const (
	StatusPending        OrderStatus = "PENDENTE"
	StatusConfirmed      OrderStatus = "CONFIRMADO"
	StatusPreparing      OrderStatus = "PREPARANDO"
	StatusReady          OrderStatus = "PRONTO"
	StatusOutForDelivery OrderStatus = "EM_ENTREGA"
	StatusDelivered      OrderStatus = "ENTREGUE"
	StatusPickedUp       OrderStatus = "RETIRADO"
	StatusCancelled      OrderStatus = "CANCELADO"
)

var orderStatuses = []OrderStatus{
	StatusPending, StatusConfirmed, StatusPreparing, StatusReady,
	StatusOutForDelivery, StatusDelivered, StatusPickedUp, StatusCancelled,
}

func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.Valid() {
		return "", ErrInvalidOrderStatus
	}
	return status, nil
}

func (s OrderStatus) Valid() bool {
	for _, status := range orderStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Fulfilled reports whether the order reached the customer.
func (s OrderStatus) Fulfilled() bool {
	return s == StatusDelivered || s == StatusPickedUp
}

func (s OrderStatus) Terminal() bool {
	return s.Fulfilled() || s == StatusCancelled
}

// PaymentStatus is the payment axis of an order, independent of OrderStatus.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentApproved  PaymentStatus = "APPROVED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// ParsePaymentStatus also accepts the PAID and REJECTED spellings.
func ParsePaymentStatus(s string) (PaymentStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PENDING":
		return PaymentPending, nil
	case "APPROVED", "PAID":
		return PaymentApproved, nil
	case "FAILED", "REJECTED":
		return PaymentFailed, nil
	case "CANCELLED", "CANCELED":
		return PaymentCancelled, nil
	}
	return "", ErrInvalidPaymentStatus
}

func (s PaymentStatus) Terminal() bool {
	return s != PaymentPending
}

type Order struct {
	ID               uuid.UUID       `json:"id"`
	CustomerName     string          `json:"customerName"`
	CustomerPhone    string          `json:"customerPhone"`
	CustomerAddress  string          `json:"customerAddress,omitempty"`
	DeliveryType     DeliveryType    `json:"deliveryType"`
	Status           OrderStatus     `json:"status"`
	PaymentStatus    PaymentStatus   `json:"paymentStatus"`
	PaymentID        string          `json:"paymentId,omitempty"`
	// PaymentExpiresAt is when the current charge stops accepting payment.
	PaymentExpiresAt *time.Time      `json:"paymentExpiresAt,omitempty"`
	Total            decimal.Decimal `json:"total"`
	Items            []LineItem      `json:"items"`
	IdempotencyKey   string          `json:"-"`
	Version          int             `json:"version"`
	CreatedAt        time.Time       `json:"utcCreatedOn"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// Payable reports whether a PIX charge may still be created or reused.
func (o *Order) Payable() bool {
	return o.Status != StatusCancelled && o.PaymentStatus == PaymentPending
}

type OrderRepository interface {
	NextID() (uuid.UUID, error)
	Create(ctx context.Context, order *Order) error
	Find(ctx context.Context, id uuid.UUID) (*Order, error)
	// FindPayableByIdempotencyKey returns the newest payable order created
	// with key, or ErrOrderNotFound.
	FindPayableByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	// Update stores order only if the stored version is order.Version-1,
	// otherwise it fails with ErrOptimisticLock. Items are never rewritten.
	Update(ctx context.Context, order *Order) error
	Delete(ctx context.Context, id uuid.UUID) error
	// List returns all orders, newest first.
	List(ctx context.Context) ([]Order, error)
	// ListAwaitingPayment returns PENDENTE orders with a PENDING payment
	// created before cutoff.
	ListAwaitingPayment(ctx context.Context, cutoff time.Time) ([]Order, error)
}
