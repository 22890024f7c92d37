package model

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderCreated struct {
	OrderID      uuid.UUID       `json:"orderId"`
	CustomerName string          `json:"customerName"`
	Total        decimal.Decimal `json:"total"`
}

func (e OrderCreated) Type() string { return "OrderCreated" }

type OrderStatusChanged struct {
	OrderID uuid.UUID   `json:"orderId"`
	From    OrderStatus `json:"from"`
	To      OrderStatus `json:"to"`
	Forced  bool        `json:"forced"`
}

func (e OrderStatusChanged) Type() string { return "OrderStatusChanged" }

type OrderDeleted struct {
	OrderID uuid.UUID `json:"orderId"`
}

func (e OrderDeleted) Type() string { return "OrderDeleted" }

type PaymentChargeCreated struct {
	OrderID  uuid.UUID       `json:"orderId"`
	ChargeID string          `json:"chargeId"`
	Amount   decimal.Decimal `json:"amount"`
}

func (e PaymentChargeCreated) Type() string { return "PaymentChargeCreated" }

type PaymentApprovedEvent struct {
	OrderID  uuid.UUID `json:"orderId"`
	ChargeID string    `json:"chargeId"`
}

func (e PaymentApprovedEvent) Type() string { return "PaymentApproved" }

type PaymentFailedEvent struct {
	OrderID  uuid.UUID `json:"orderId"`
	ChargeID string    `json:"chargeId"`
	Reason   string    `json:"reason"`
}

func (e PaymentFailedEvent) Type() string { return "PaymentFailed" }

type PaymentExpired struct {
	OrderID  uuid.UUID `json:"orderId"`
	ChargeID string    `json:"chargeId"`
}

func (e PaymentExpired) Type() string { return "PaymentExpired" }
