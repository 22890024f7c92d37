package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"storefront/pkg/domain/model"
)

const maxUpdateAttempts = 3

var ErrOrderIDRequired = model.NewValidationError("orderId", "is required")

type CreateOrderInput struct {
	CustomerName    string
	CustomerPhone   string
	CustomerAddress string
	DeliveryType    string
	Items           []model.LineItem
	// Total is the total the client displayed, if it sent one.
	Total          *decimal.Decimal
	IdempotencyKey string
}

type CreateChargeInput struct {
	OrderID     uuid.UUID
	Amount      decimal.Decimal
	Description string
}

// OrderPatch is a partial update of an order. Nil fields are left untouched.
type OrderPatch struct {
	Status        *model.OrderStatus
	PaymentStatus *model.PaymentStatus
	PaymentID     *string
	Force         bool
}

type WebhookResult struct {
	OrderID uuid.UUID
	Applied bool
	Reason  string
}

// LineItemResolver prices a line item from the current catalog.
type LineItemResolver interface {
	ResolveLineItem(ctx context.Context, productID int64, quantity int, extraIDs []int64) (model.LineItem, error)
}

type OrderServiceConfig struct {
	// StrictPricing re-prices submitted items from the catalog instead of
	// trusting the snapshot the client sent.
	StrictPricing bool
	PixExpiration time.Duration
	Now           func() time.Time
}

type OrderService interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*model.Order, error)
	CreateCharge(ctx context.Context, input CreateChargeInput) (*model.Charge, error)

	ProcessPaymentNotification(ctx context.Context, notification model.PaymentNotification) (WebhookResult, error)
	HandlePaymentWebhook(ctx context.Context, event model.PaymentEvent) (WebhookResult, error)

	UpdateOrder(ctx context.Context, orderID uuid.UUID, patch OrderPatch) (*model.Order, error)
	SetStatus(ctx context.Context, orderID uuid.UUID, status model.OrderStatus, force bool) (*model.Order, error)
	UpdatePayment(ctx context.Context, orderID uuid.UUID, status model.PaymentStatus, paymentID string) (*model.Order, error)

	GetOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error)
	ListOrders(ctx context.Context) ([]model.Order, error)
	DeleteOrder(ctx context.Context, orderID uuid.UUID) error

	ExpirePendingPayments(ctx context.Context, cutoff time.Time) (int, error)
}

func NewOrderService(
	repo model.OrderRepository,
	settings model.SettingsRepository,
	catalog LineItemResolver,
	gateway model.PaymentGateway,
	dispatcher EventDispatcher,
	config OrderServiceConfig,
) OrderService {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.PixExpiration <= 0 {
		config.PixExpiration = 30 * time.Minute
	}
	return &orderService{
		repo:       repo,
		settings:   settings,
		catalog:    catalog,
		gateway:    gateway,
		dispatcher: dispatcher,
		config:     config,
	}
}

type orderService struct {
	repo       model.OrderRepository
	settings   model.SettingsRepository
	catalog    LineItemResolver
	gateway    model.PaymentGateway
	dispatcher EventDispatcher
	config     OrderServiceConfig
}

// orderAction mutates order in place and reports whether it changed along
// with the events to dispatch once the change is stored.
type orderAction func(order *model.Order) (bool, []Event, error)

func (s *orderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*model.Order, error) {
	ctx, span := startSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	name := strings.TrimSpace(input.CustomerName)
	if name == "" {
		return nil, model.ErrCustomerNameRequired
	}
	phone := strings.TrimSpace(input.CustomerPhone)
	if phone == "" {
		return nil, model.ErrCustomerPhoneRequired
	}
	if len(input.Items) == 0 {
		return nil, model.ErrOrderIsEmpty
	}

	deliveryType, err := model.ParseDeliveryType(input.DeliveryType)
	if err != nil {
		return nil, err
	}
	address := strings.TrimSpace(input.CustomerAddress)
	if deliveryType == model.Delivery {
		if address == "" {
			return nil, model.ErrAddressRequired
		}
		settings, err := s.settings.Get(ctx)
		if err != nil {
			return nil, err
		}
		if !settings.DeliveryEnabled {
			return nil, model.ErrDeliveryUnavailable
		}
	}

	items, err := s.priceItems(ctx, input.Items)
	if err != nil {
		return nil, err
	}
	total := OrderTotal(items)
	if input.Total != nil && !input.Total.Equal(total) {
		log.WithFields(log.Fields{
			"clientTotal": input.Total.String(),
			"total":       total.String(),
		}).Warn("rejecting order with mismatching total")
		return nil, model.ErrTotalMismatch
	}

	key := strings.TrimSpace(input.IdempotencyKey)
	if key != "" {
		existing, err := s.repo.FindPayableByIdempotencyKey(ctx, key)
		if err == nil {
			log.WithField("orderId", existing.ID).Info("checkout replayed, returning existing order")
			return existing, nil
		}
		if !errors.Is(err, model.ErrOrderNotFound) {
			return nil, err
		}
	}

	orderID, err := s.repo.NextID()
	if err != nil {
		return nil, err
	}
	now := s.config.Now().UTC()
	order := &model.Order{
		ID:              orderID,
		CustomerName:    name,
		CustomerPhone:   phone,
		CustomerAddress: address,
		DeliveryType:    deliveryType,
		Status:          model.StatusPending,
		PaymentStatus:   model.PaymentPending,
		Total:           total,
		Items:           items,
		IdempotencyKey:  key,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.Create(ctx, order); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", orderID.String()))

	dispatchEvents(s.dispatcher, []Event{model.OrderCreated{
		OrderID:      orderID,
		CustomerName: name,
		Total:        total,
	}})
	return order, nil
}

func (s *orderService) CreateCharge(ctx context.Context, input CreateChargeInput) (*model.Charge, error) {
	ctx, span := startSpan(ctx, "OrderService.CreateCharge")
	defer span.End()

	if input.OrderID == uuid.Nil {
		return nil, ErrOrderIDRequired
	}
	span.SetAttributes(attribute.String("order.id", input.OrderID.String()))

	order, err := s.repo.Find(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == model.PaymentApproved {
		return nil, model.ErrOrderAlreadyPaid
	}
	if !order.Payable() {
		return nil, model.ErrOrderNotPayable
	}
	if !input.Amount.Equal(order.Total) {
		return nil, model.ErrAmountMismatch
	}

	if order.PaymentID != "" {
		charge, err := s.reuseCharge(ctx, order)
		if charge != nil || err != nil {
			return charge, err
		}
	}

	description := strings.TrimSpace(input.Description)
	if description == "" {
		description = fmt.Sprintf("Pedido %s", order.ID.String()[:8])
	}
	firstName, lastName := splitName(order.CustomerName)

	requestedExpiry := s.config.Now().Add(s.config.PixExpiration)
	charge, err := s.gateway.CreateCharge(ctx, model.ChargeRequest{
		OrderID:        order.ID,
		Amount:         order.Total,
		Description:    description,
		PayerFirstName: firstName,
		PayerLastName:  lastName,
		ExpiresAt:      requestedExpiry,
	})
	if err != nil {
		log.WithError(err).WithField("orderId", order.ID).Error("failed to create payment charge")
		return nil, err
	}
	expiresAt := charge.ExpiresAt.UTC()
	if charge.ExpiresAt.IsZero() {
		expiresAt = requestedExpiry.UTC()
	}

	_, _, err = s.executeOnOrder(ctx, order.ID, func(o *model.Order) (bool, []Event, error) {
		if o.PaymentID == charge.ID {
			return false, nil, nil
		}
		if o.PaymentID != "" {
			return false, nil, model.ErrPaymentIDAlreadySet
		}
		o.PaymentID = charge.ID
		o.PaymentExpiresAt = &expiresAt
		return true, []Event{model.PaymentChargeCreated{OrderID: o.ID, ChargeID: charge.ID, Amount: o.Total}}, nil
	})
	if err != nil {
		return nil, err
	}
	return charge, nil
}

// reuseCharge returns the order's open charge. A charge the provider already
// resolved is reconciled into the order and reported as not payable. When the
// provider no longer knows the charge, the stale id is dropped and both
// results are nil so the caller creates a fresh charge.
func (s *orderService) reuseCharge(ctx context.Context, order *model.Order) (*model.Charge, error) {
	charge, err := s.gateway.GetCharge(ctx, order.PaymentID)
	if errors.Is(err, model.ErrChargeNotFound) {
		return nil, s.dropStaleCharge(ctx, order.ID, order.PaymentID)
	}
	if err != nil {
		return nil, err
	}
	if charge.Open() {
		return charge, nil
	}

	_, err = s.HandlePaymentWebhook(ctx, model.PaymentEvent{
		OrderRef: order.ID.String(),
		ChargeID: charge.ID,
		Status:   charge.Status,
	})
	if err != nil {
		return nil, err
	}
	if charge.Status == model.ProviderApproved {
		return nil, model.ErrOrderAlreadyPaid
	}
	return nil, model.ErrOrderNotPayable
}

func (s *orderService) ProcessPaymentNotification(ctx context.Context, notification model.PaymentNotification) (WebhookResult, error) {
	if notification.Type != "payment" || strings.TrimSpace(notification.ChargeID) == "" {
		log.WithField("type", notification.Type).Debug("ignoring payment notification")
		return WebhookResult{Reason: "notification ignored"}, nil
	}

	charge, err := s.gateway.GetCharge(ctx, notification.ChargeID)
	if errors.Is(err, model.ErrChargeNotFound) {
		log.WithField("chargeId", notification.ChargeID).Warn("payment notification for unknown charge")
		return WebhookResult{Reason: "charge not found"}, nil
	}
	if err != nil {
		return WebhookResult{}, err
	}

	return s.HandlePaymentWebhook(ctx, model.PaymentEvent{
		OrderRef: charge.ExternalReference,
		ChargeID: charge.ID,
		Status:   charge.Status,
	})
}

func (s *orderService) HandlePaymentWebhook(ctx context.Context, event model.PaymentEvent) (WebhookResult, error) {
	ctx, span := startSpan(ctx, "OrderService.HandlePaymentWebhook")
	defer span.End()

	logger := log.WithFields(log.Fields{
		"orderRef": event.OrderRef,
		"chargeId": event.ChargeID,
		"status":   event.Status,
	})

	orderID, err := uuid.Parse(strings.TrimSpace(event.OrderRef))
	if err != nil {
		logger.Warn("payment event with invalid order reference")
		return WebhookResult{Reason: "unknown order"}, nil
	}

	switch event.Status {
	case model.ProviderApproved, model.ProviderRejected, model.ProviderCancelled:
	default:
		logger.Info("ignoring non-final payment status")
		return WebhookResult{OrderID: orderID, Reason: "status ignored"}, nil
	}

	_, changed, err := s.executeOnOrder(ctx, orderID, func(order *model.Order) (bool, []Event, error) {
		changed, events := applyPaymentOutcome(order, event, logger)
		return changed, events, nil
	})
	if errors.Is(err, model.ErrOrderNotFound) {
		logger.Warn("payment event for unknown order")
		return WebhookResult{OrderID: orderID, Reason: "unknown order"}, nil
	}
	if err != nil {
		return WebhookResult{}, err
	}
	if !changed {
		return WebhookResult{OrderID: orderID, Reason: "already applied"}, nil
	}
	return WebhookResult{OrderID: orderID, Applied: true}, nil
}

// applyPaymentOutcome maps a final provider status onto the order. Outcomes
// the order already reflects change nothing, so replays dispatch no events.
func applyPaymentOutcome(order *model.Order, event model.PaymentEvent, logger *log.Entry) (bool, []Event) {
	if order.PaymentID != "" && event.ChargeID != "" && order.PaymentID != event.ChargeID {
		logger.WithField("paymentId", order.PaymentID).Warn("payment event for a charge the order does not hold")
		return false, nil
	}

	var events []Event
	switch event.Status {
	case model.ProviderApproved:
		if order.PaymentStatus == model.PaymentApproved {
			return false, nil
		}
		if order.PaymentStatus.Terminal() {
			logger.WithField("paymentStatus", order.PaymentStatus).Error("approval received for a closed payment")
			return false, nil
		}
		order.PaymentStatus = model.PaymentApproved
		if order.PaymentID == "" {
			order.PaymentID = event.ChargeID
		}
		events = append(events, model.PaymentApprovedEvent{OrderID: order.ID, ChargeID: event.ChargeID})

		switch order.Status {
		case model.StatusPending:
			events = append(events, changeStatus(order, model.StatusConfirmed, false))
		case model.StatusCancelled:
			logger.Warn("payment approved for a cancelled order")
		}
	default:
		if order.PaymentStatus.Terminal() {
			if order.PaymentStatus == model.PaymentApproved {
				logger.Warn("ignoring failure for an approved payment")
			}
			return false, nil
		}
		order.PaymentStatus = model.PaymentFailed
		if order.PaymentID == "" {
			order.PaymentID = event.ChargeID
		}
		events = append(events, model.PaymentFailedEvent{OrderID: order.ID, ChargeID: event.ChargeID, Reason: string(event.Status)})

		if !order.Status.Terminal() {
			events = append(events, changeStatus(order, model.StatusCancelled, false))
		}
	}
	return true, events
}

func (s *orderService) UpdateOrder(ctx context.Context, orderID uuid.UUID, patch OrderPatch) (*model.Order, error) {
	ctx, span := startSpan(ctx, "OrderService.UpdateOrder")
	defer span.End()

	if err := model.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	if patch.Force {
		if err := model.RequireOverride(ctx); err != nil {
			return nil, err
		}
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, model.ErrInvalidOrderStatus
	}
	if patch.PaymentStatus != nil {
		if _, err := model.ParsePaymentStatus(string(*patch.PaymentStatus)); err != nil {
			return nil, err
		}
	}

	order, _, err := s.executeOnOrder(ctx, orderID, func(order *model.Order) (bool, []Event, error) {
		return applyPatch(order, patch)
	})
	if err != nil {
		return nil, err
	}
	if patch.Force {
		log.WithFields(log.Fields{
			"orderId": orderID,
			"status":  order.Status,
		}).Warn("order updated with status override")
	}
	return order, nil
}

// applyPatch applies the payment fields before the status so a single patch
// can approve a payment and confirm the order.
func applyPatch(order *model.Order, patch OrderPatch) (bool, []Event, error) {
	changed := false
	var events []Event

	if patch.PaymentStatus != nil && *patch.PaymentStatus != order.PaymentStatus {
		to, _ := model.ParsePaymentStatus(string(*patch.PaymentStatus))
		if !patch.Force && !model.CanTransitionPayment(order.PaymentStatus, to) {
			return false, nil, model.ErrInvalidTransition
		}
		order.PaymentStatus = to
		changed = true
		switch to {
		case model.PaymentApproved:
			events = append(events, model.PaymentApprovedEvent{OrderID: order.ID, ChargeID: order.PaymentID})
		case model.PaymentFailed, model.PaymentCancelled:
			events = append(events, model.PaymentFailedEvent{OrderID: order.ID, ChargeID: order.PaymentID, Reason: "set by admin"})
		}
	}

	if patch.PaymentID != nil {
		paymentID := strings.TrimSpace(*patch.PaymentID)
		if paymentID != order.PaymentID {
			if order.PaymentID != "" && !patch.Force {
				return false, nil, model.ErrPaymentIDAlreadySet
			}
			order.PaymentID = paymentID
			order.PaymentExpiresAt = nil
			changed = true
		}
	}

	if patch.Status != nil && *patch.Status != order.Status {
		to := *patch.Status
		if !patch.Force {
			if !model.CanTransition(order.Status, to, order.DeliveryType) {
				return false, nil, model.ErrInvalidTransition
			}
			if model.RequiresPayment(to) && order.PaymentStatus != model.PaymentApproved {
				return false, nil, model.ErrPaymentNotApproved
			}
		}
		events = append(events, changeStatus(order, to, patch.Force))
		changed = true
	}

	return changed, events, nil
}

func (s *orderService) SetStatus(ctx context.Context, orderID uuid.UUID, status model.OrderStatus, force bool) (*model.Order, error) {
	return s.UpdateOrder(ctx, orderID, OrderPatch{Status: &status, Force: force})
}

func (s *orderService) UpdatePayment(ctx context.Context, orderID uuid.UUID, status model.PaymentStatus, paymentID string) (*model.Order, error) {
	patch := OrderPatch{PaymentStatus: &status}
	if paymentID != "" {
		patch.PaymentID = &paymentID
	}
	return s.UpdateOrder(ctx, orderID, patch)
}

func (s *orderService) GetOrder(ctx context.Context, orderID uuid.UUID) (*model.Order, error) {
	return s.repo.Find(ctx, orderID)
}

func (s *orderService) ListOrders(ctx context.Context) ([]model.Order, error) {
	if err := model.RequireAdmin(ctx); err != nil {
		return nil, err
	}
	return s.repo.List(ctx)
}

func (s *orderService) DeleteOrder(ctx context.Context, orderID uuid.UUID) error {
	if err := model.RequireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, orderID); err != nil {
		return err
	}
	log.WithField("orderId", orderID).Info("order deleted")
	dispatchEvents(s.dispatcher, []Event{model.OrderDeleted{OrderID: orderID}})
	return nil
}

// ExpirePendingPayments cancels orders still waiting for payment that were
// created before cutoff. An order holding a charge is only cancelled once that
// charge has expired and the provider has cancelled it. Charges the provider
// already resolved are reconciled instead of expired.
func (s *orderService) ExpirePendingPayments(ctx context.Context, cutoff time.Time) (int, error) {
	ctx, span := startSpan(ctx, "OrderService.ExpirePendingPayments")
	defer span.End()

	orders, err := s.repo.ListAwaitingPayment(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	now := s.config.Now()
	expired := 0
	for _, order := range orders {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		logger := log.WithField("orderId", order.ID)

		if order.PaymentID != "" && !s.closeCharge(ctx, &order, now, logger) {
			continue
		}

		chargeID := order.PaymentID
		_, changed, err := s.executeOnOrder(ctx, order.ID, func(o *model.Order) (bool, []Event, error) {
			if o.Status != model.StatusPending || o.PaymentStatus != model.PaymentPending {
				return false, nil, nil
			}
			if o.PaymentID != chargeID || chargeOpenAt(o, now) {
				return false, nil, nil
			}
			o.PaymentStatus = model.PaymentCancelled
			return true, []Event{
				model.PaymentExpired{OrderID: o.ID, ChargeID: o.PaymentID},
				changeStatus(o, model.StatusCancelled, false),
			}, nil
		})
		if err != nil {
			logger.WithError(err).Error("failed to expire order")
			continue
		}
		if changed {
			logger.Info("pending payment expired")
			expired++
		}
	}
	return expired, nil
}

// closeCharge makes sure the order's charge can no longer be paid. It reports
// whether the order may be cancelled.
func (s *orderService) closeCharge(ctx context.Context, order *model.Order, now time.Time, logger log.FieldLogger) bool {
	charge, err := s.gateway.GetCharge(ctx, order.PaymentID)
	if errors.Is(err, model.ErrChargeNotFound) {
		return true
	}
	if err != nil {
		logger.WithError(err).Warn("skipping expiry, charge lookup failed")
		return false
	}

	if charge.Open() {
		if chargeOpenAt(order, now) || charge.ExpiresAt.After(now) {
			logger.WithField("expiresAt", charge.ExpiresAt).Debug("charge still open, not expiring")
			return false
		}
		cancelled, err := s.gateway.CancelCharge(ctx, charge.ID)
		if err != nil {
			logger.WithError(err).Warn("skipping expiry, charge could not be cancelled")
			return false
		}
		charge = cancelled
	}

	if charge.Status == model.ProviderCancelled {
		return true
	}
	if _, err := s.HandlePaymentWebhook(ctx, model.PaymentEvent{
		OrderRef: order.ID.String(),
		ChargeID: charge.ID,
		Status:   charge.Status,
	}); err != nil {
		logger.WithError(err).Error("failed to reconcile charge")
	}
	return false
}

func chargeOpenAt(order *model.Order, now time.Time) bool {
	return order.PaymentExpiresAt != nil && order.PaymentExpiresAt.After(now)
}

func (s *orderService) dropStaleCharge(ctx context.Context, orderID uuid.UUID, chargeID string) error {
	log.WithFields(log.Fields{"orderId": orderID, "paymentId": chargeID}).
		Warn("payment provider does not know the order's charge, dropping it")
	_, _, err := s.executeOnOrder(ctx, orderID, func(o *model.Order) (bool, []Event, error) {
		if o.PaymentID != chargeID {
			return false, nil, nil
		}
		if !o.Payable() {
			return false, nil, model.ErrOrderNotPayable
		}
		o.PaymentID = ""
		o.PaymentExpiresAt = nil
		return true, nil, nil
	})
	return err
}

func (s *orderService) priceItems(ctx context.Context, submitted []model.LineItem) ([]model.LineItem, error) {
	items := make([]model.LineItem, 0, len(submitted))
	for _, item := range submitted {
		if s.config.StrictPricing {
			resolved, err := s.catalog.ResolveLineItem(ctx, item.Product.ID, item.Quantity, item.ExtraIDs())
			if err != nil {
				return nil, err
			}
			item = resolved
		}
		item.Extras = model.DedupExtras(item.Extras)
		if err := item.Validate(); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// executeOnOrder runs action against the latest stored order and writes the
// result, re-reading and re-applying when another writer got there first.
func (s *orderService) executeOnOrder(ctx context.Context, orderID uuid.UUID, action orderAction) (*model.Order, bool, error) {
	for attempt := 1; ; attempt++ {
		order, err := s.repo.Find(ctx, orderID)
		if err != nil {
			return nil, false, err
		}

		changed, events, err := action(order)
		if err != nil {
			return nil, false, err
		}
		if !changed {
			return order, false, nil
		}

		err = s.updateOrder(ctx, order)
		if errors.Is(err, model.ErrOptimisticLock) && attempt < maxUpdateAttempts && ctx.Err() == nil {
			log.WithFields(log.Fields{"orderId": orderID, "attempt": attempt}).Debug("order changed concurrently, retrying")
			continue
		}
		if err != nil {
			return nil, false, err
		}

		dispatchEvents(s.dispatcher, events)
		return order, true, nil
	}
}

func (s *orderService) updateOrder(ctx context.Context, order *model.Order) error {
	order.Version++
	order.UpdatedAt = s.config.Now().UTC()
	return s.repo.Update(ctx, order)
}

func changeStatus(order *model.Order, to model.OrderStatus, forced bool) Event {
	from := order.Status
	order.Status = to
	return model.OrderStatusChanged{OrderID: order.ID, From: from, To: to, Forced: forced}
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	}
	return parts[0], strings.Join(parts[1:], " ")
}
