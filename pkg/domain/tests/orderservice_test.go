package tests

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/pkg/domain/model"
	"storefront/pkg/domain/service"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type orderFixture struct {
	orders     service.OrderService
	repo       *mockOrderRepository
	settings   *mockSettingsRepository
	gateway    *mockGateway
	dispatcher *mockEventDispatcher
	catalog    *mockResolver
}

func setup(t *testing.T) *orderFixture {
	return setupWithConfig(t, service.OrderServiceConfig{})
}

func setupWithConfig(t *testing.T, config service.OrderServiceConfig) *orderFixture {
	t.Helper()
	f := &orderFixture{
		repo:       &mockOrderRepository{store: make(map[uuid.UUID]*model.Order)},
		settings:   &mockSettingsRepository{settings: model.Settings{DeliveryEnabled: true}},
		gateway:    newMockGateway(),
		dispatcher: &mockEventDispatcher{},
		catalog:    &mockResolver{products: make(map[int64]model.Product)},
	}
	if config.Now == nil {
		config.Now = func() time.Time { return testNow }
	}
	f.orders = service.NewOrderService(f.repo, f.settings, f.catalog, f.gateway, f.dispatcher, config)
	return f
}

func validOrderInput() service.CreateOrderInput {
	total := price("22.50")
	return service.CreateOrderInput{
		CustomerName:  "Maria da Silva",
		CustomerPhone: "11 99999-0000",
		DeliveryType:  string(model.Pickup),
		Items: []model.LineItem{{
			Product:  productA,
			Quantity: 2,
			Extras:   []model.ExtraSnapshot{freeF, paidP},
		}},
		Total: &total,
	}
}

func (f *orderFixture) createPaidFlowOrder(t *testing.T) (*model.Order, *model.Charge) {
	t.Helper()
	order, err := f.orders.CreateOrder(context.Background(), validOrderInput())
	require.NoError(t, err)
	charge, err := f.orders.CreateCharge(context.Background(), service.CreateChargeInput{OrderID: order.ID, Amount: order.Total})
	require.NoError(t, err)
	f.dispatcher.Reset()
	return order, charge
}

func TestCreateOrder(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		f := setup(t)
		order, err := f.orders.CreateOrder(context.Background(), validOrderInput())

		require.NoError(t, err)
		require.NotNil(t, order)
		assert.Equal(t, 1, order.Version)
		assert.Equal(t, model.StatusPending, order.Status)
		assert.Equal(t, model.PaymentPending, order.PaymentStatus)
		assert.True(t, price("22.50").Equal(order.Total))
		assert.Equal(t, testNow, order.CreatedAt)

		saved, ok := f.repo.store[order.ID]
		require.True(t, ok)
		assert.Len(t, saved.Items, 1)

		require.Len(t, f.dispatcher.events, 1)
		created, ok := f.dispatcher.events[0].(model.OrderCreated)
		require.True(t, ok)
		assert.Equal(t, order.ID, created.OrderID)
	})

	t.Run("Fail on empty items", func(t *testing.T) {
		f := setup(t)
		input := validOrderInput()
		input.Items = nil

		_, err := f.orders.CreateOrder(context.Background(), input)
		assert.ErrorIs(t, err, model.ErrOrderIsEmpty)
		assert.ErrorIs(t, err, model.ErrValidation)
		assert.Empty(t, f.repo.store)
		assert.Empty(t, f.dispatcher.events)
	})

	t.Run("Fail on missing customer fields", func(t *testing.T) {
		f := setup(t)
		input := validOrderInput()
		input.CustomerName = " "
		_, err := f.orders.CreateOrder(context.Background(), input)
		assert.ErrorIs(t, err, model.ErrCustomerNameRequired)

		input = validOrderInput()
		input.CustomerPhone = ""
		_, err = f.orders.CreateOrder(context.Background(), input)
		assert.ErrorIs(t, err, model.ErrCustomerPhoneRequired)
		assert.Empty(t, f.repo.store)
	})

	t.Run("Delivery requires an address", func(t *testing.T) {
		f := setup(t)
		input := validOrderInput()
		input.DeliveryType = string(model.Delivery)

		_, err := f.orders.CreateOrder(context.Background(), input)
		assert.ErrorIs(t, err, model.ErrAddressRequired)

		input.CustomerAddress = "Rua das Flores, 10"
		order, err := f.orders.CreateOrder(context.Background(), input)
		require.NoError(t, err)
		assert.Equal(t, model.Delivery, order.DeliveryType)
	})

	t.Run("Fail when delivery is disabled", func(t *testing.T) {
		f := setup(t)
		f.settings.settings.DeliveryEnabled = false
		input := validOrderInput()
		input.DeliveryType = string(model.Delivery)
		input.CustomerAddress = "Rua das Flores, 10"

		_, err := f.orders.CreateOrder(context.Background(), input)
		assert.ErrorIs(t, err, model.ErrDeliveryUnavailable)
	})

	t.Run("Fail on unknown delivery type", func(t *testing.T) {
		f := setup(t)
		input := validOrderInput()
		input.DeliveryType = "DRONE"
		_, err := f.orders.CreateOrder(context.Background(), input)
		assert.ErrorIs(t, err, model.ErrInvalidDeliveryType)
	})

	t.Run("Fail on total mismatch", func(t *testing.T) {
		f := setup(t)
		input := validOrderInput()
		wrong := price("20.00")
		input.Total = &wrong

		_, err := f.orders.CreateOrder(context.Background(), input)
		assert.ErrorIs(t, err, model.ErrTotalMismatch)
		assert.Empty(t, f.repo.store)
	})

	t.Run("Same idempotency key returns the existing order", func(t *testing.T) {
		f := setup(t)
		input := validOrderInput()
		input.IdempotencyKey = "cart-key"

		first, err := f.orders.CreateOrder(context.Background(), input)
		require.NoError(t, err)
		second, err := f.orders.CreateOrder(context.Background(), input)
		require.NoError(t, err)

		assert.Equal(t, first.ID, second.ID)
		assert.Len(t, f.repo.store, 1)
		assert.Len(t, f.dispatcher.events, 1)
	})

	t.Run("Strict pricing uses catalog prices", func(t *testing.T) {
		f := setupWithConfig(t, service.OrderServiceConfig{StrictPricing: true})
		f.catalog.products[productA.ID] = model.Product{
			ID:    productA.ID,
			Name:  productA.Name,
			Price: price("12.00"),
			Extras: []model.Extra{
				{ID: freeF.ID, Name: freeF.Name, Price: freeF.Price, IsFree: true},
				{ID: paidP.ID, Name: paidP.Name, Price: price("3.00")},
			},
		}

		input := validOrderInput()
		input.Total = nil
		order, err := f.orders.CreateOrder(context.Background(), input)
		require.NoError(t, err)
		assert.True(t, price("27.00").Equal(order.Total))

		stale := price("22.50")
		input.Total = &stale
		_, err = f.orders.CreateOrder(context.Background(), input)
		assert.ErrorIs(t, err, model.ErrTotalMismatch)
	})
}

func TestCreateCharge(t *testing.T) {
	t.Run("Success stores the payment id", func(t *testing.T) {
		f := setup(t)
		order, err := f.orders.CreateOrder(context.Background(), validOrderInput())
		require.NoError(t, err)
		f.dispatcher.Reset()

		charge, err := f.orders.CreateCharge(context.Background(), service.CreateChargeInput{OrderID: order.ID, Amount: price("22.5")})
		require.NoError(t, err)
		assert.NotEmpty(t, charge.QRCode)

		stored := f.repo.store[order.ID]
		assert.Equal(t, charge.ID, stored.PaymentID)
		assert.Equal(t, 2, stored.Version)
		assert.Equal(t, model.StatusPending, stored.Status)

		require.Len(t, f.gateway.created, 1)
		request := f.gateway.created[0]
		assert.True(t, order.Total.Equal(request.Amount))
		assert.Equal(t, "Maria", request.PayerFirstName)
		assert.Equal(t, "da Silva", request.PayerLastName)
		assert.Equal(t, testNow.Add(30*time.Minute), request.ExpiresAt)
		require.NotNil(t, stored.PaymentExpiresAt)
		assert.True(t, testNow.Add(30*time.Minute).Equal(*stored.PaymentExpiresAt))

		assert.Equal(t, []string{"PaymentChargeCreated"}, f.dispatcher.Types())
	})

	t.Run("Second call reuses the pending charge", func(t *testing.T) {
		f := setup(t)
		order, first := f.createPaidFlowOrder(t)

		second, err := f.orders.CreateCharge(context.Background(), service.CreateChargeInput{OrderID: order.ID, Amount: order.Total})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Len(t, f.gateway.created, 1)
	})

	t.Run("Resolved charge is reconciled instead of reused", func(t *testing.T) {
		f := setup(t)
		order, charge := f.createPaidFlowOrder(t)
		f.gateway.resolve(charge.ID, model.ProviderApproved)

		_, err := f.orders.CreateCharge(context.Background(), service.CreateChargeInput{OrderID: order.ID, Amount: order.Total})
		assert.ErrorIs(t, err, model.ErrOrderAlreadyPaid)
		assert.Equal(t, model.PaymentApproved, f.repo.store[order.ID].PaymentStatus)
		assert.Equal(t, model.StatusConfirmed, f.repo.store[order.ID].Status)
	})

	t.Run("Charge unknown to the provider is replaced", func(t *testing.T) {
		f := setup(t)
		order, stale := f.createPaidFlowOrder(t)
		delete(f.gateway.charges, stale.ID)

		charge, err := f.orders.CreateCharge(context.Background(), service.CreateChargeInput{OrderID: order.ID, Amount: order.Total})
		require.NoError(t, err)
		assert.NotEqual(t, stale.ID, charge.ID)
		assert.Len(t, f.gateway.created, 2)

		stored := f.repo.store[order.ID]
		assert.Equal(t, charge.ID, stored.PaymentID)
		assert.Equal(t, model.StatusPending, stored.Status)
		assert.Equal(t, model.PaymentPending, stored.PaymentStatus)
		assert.Equal(t, []string{"PaymentChargeCreated"}, f.dispatcher.Types())

		again, err := f.orders.CreateCharge(context.Background(), service.CreateChargeInput{OrderID: order.ID, Amount: order.Total})
		require.NoError(t, err)
		assert.Equal(t, charge.ID, again.ID)
	})

	t.Run("Fail on amount mismatch", func(t *testing.T) {
		f := setup(t)
		order, err := f.orders.CreateOrder(context.Background(), validOrderInput())
		require.NoError(t, err)

		_, err = f.orders.CreateCharge(context.Background(), service.CreateChargeInput{OrderID: order.ID, Amount: price("1.00")})
		assert.ErrorIs(t, err, model.ErrAmountMismatch)
		assert.Empty(t, f.gateway.created)
	})

	t.Run("Provider failure leaves the order payable", func(t *testing.T) {
		f := setup(t)
		order, err := f.orders.CreateOrder(context.Background(), validOrderInput())
		require.NoError(t, err)
		f.gateway.createErr = model.ErrProviderUnavailable

		_, err = f.orders.CreateCharge(context.Background(), service.CreateChargeInput{OrderID: order.ID, Amount: order.Total})
		assert.ErrorIs(t, err, model.ErrProvider)
		stored := f.repo.store[order.ID]
		assert.Empty(t, stored.PaymentID)
		assert.Equal(t, 1, stored.Version)

		f.gateway.createErr = nil
		_, err = f.orders.CreateCharge(context.Background(), service.CreateChargeInput{OrderID: order.ID, Amount: order.Total})
		require.NoError(t, err)
	})

	t.Run("Fail on unknown order", func(t *testing.T) {
		f := setup(t)
		_, err := f.orders.CreateCharge(context.Background(), service.CreateChargeInput{OrderID: uuid.New(), Amount: decimal.NewFromInt(1)})
		assert.ErrorIs(t, err, model.ErrOrderNotFound)

		_, err = f.orders.CreateCharge(context.Background(), service.CreateChargeInput{})
		assert.ErrorIs(t, err, service.ErrOrderIDRequired)
	})
}

func TestHandlePaymentWebhook(t *testing.T) {
	t.Run("Approved confirms the order once", func(t *testing.T) {
		f := setup(t)
		order, charge := f.createPaidFlowOrder(t)
		event := model.PaymentEvent{OrderRef: order.ID.String(), ChargeID: charge.ID, Status: model.ProviderApproved}

		result, err := f.orders.HandlePaymentWebhook(context.Background(), event)
		require.NoError(t, err)
		assert.True(t, result.Applied)

		stored := f.repo.store[order.ID]
		assert.Equal(t, model.StatusConfirmed, stored.Status)
		assert.Equal(t, model.PaymentApproved, stored.PaymentStatus)
		assert.Equal(t, []string{"PaymentApproved", "OrderStatusChanged"}, f.dispatcher.Types())
		version := stored.Version

		f.dispatcher.Reset()
		result, err = f.orders.HandlePaymentWebhook(context.Background(), event)
		require.NoError(t, err)
		assert.False(t, result.Applied)
		assert.Empty(t, f.dispatcher.events)
		assert.Equal(t, version, f.repo.store[order.ID].Version)
		assert.Equal(t, model.StatusConfirmed, f.repo.store[order.ID].Status)
	})

	t.Run("Rejected cancels the order", func(t *testing.T) {
		f := setup(t)
		order, charge := f.createPaidFlowOrder(t)

		result, err := f.orders.HandlePaymentWebhook(context.Background(), model.PaymentEvent{
			OrderRef: order.ID.String(), ChargeID: charge.ID, Status: model.ProviderRejected,
		})
		require.NoError(t, err)
		assert.True(t, result.Applied)

		stored := f.repo.store[order.ID]
		assert.Equal(t, model.StatusCancelled, stored.Status)
		assert.Equal(t, model.PaymentFailed, stored.PaymentStatus)
	})

	t.Run("Approval does not regress fulfillment progress", func(t *testing.T) {
		f := setup(t)
		order, charge := f.createPaidFlowOrder(t)
		f.repo.store[order.ID].Status = model.StatusPreparing

		_, err := f.orders.HandlePaymentWebhook(context.Background(), model.PaymentEvent{
			OrderRef: order.ID.String(), ChargeID: charge.ID, Status: model.ProviderApproved,
		})
		require.NoError(t, err)
		assert.Equal(t, model.StatusPreparing, f.repo.store[order.ID].Status)
		assert.Equal(t, model.PaymentApproved, f.repo.store[order.ID].PaymentStatus)
	})

	t.Run("Late failure after approval is ignored", func(t *testing.T) {
		f := setup(t)
		order, charge := f.createPaidFlowOrder(t)
		ref := order.ID.String()
		_, err := f.orders.HandlePaymentWebhook(context.Background(), model.PaymentEvent{OrderRef: ref, ChargeID: charge.ID, Status: model.ProviderApproved})
		require.NoError(t, err)

		result, err := f.orders.HandlePaymentWebhook(context.Background(), model.PaymentEvent{OrderRef: ref, ChargeID: charge.ID, Status: model.ProviderCancelled})
		require.NoError(t, err)
		assert.False(t, result.Applied)
		assert.Equal(t, model.StatusConfirmed, f.repo.store[order.ID].Status)
	})

	t.Run("Unknown order is a no-op", func(t *testing.T) {
		f := setup(t)
		order, charge := f.createPaidFlowOrder(t)
		before := *f.repo.store[order.ID]

		result, err := f.orders.HandlePaymentWebhook(context.Background(), model.PaymentEvent{
			OrderRef: uuid.NewString(), ChargeID: charge.ID, Status: model.ProviderApproved,
		})
		require.NoError(t, err)
		assert.False(t, result.Applied)
		assert.Equal(t, "unknown order", result.Reason)
		assert.Equal(t, before, *f.repo.store[order.ID])

		result, err = f.orders.HandlePaymentWebhook(context.Background(), model.PaymentEvent{OrderRef: "not-a-uuid", Status: model.ProviderApproved})
		require.NoError(t, err)
		assert.False(t, result.Applied)
	})

	t.Run("Non-final status is ignored", func(t *testing.T) {
		f := setup(t)
		order, charge := f.createPaidFlowOrder(t)

		result, err := f.orders.HandlePaymentWebhook(context.Background(), model.PaymentEvent{
			OrderRef: order.ID.String(), ChargeID: charge.ID, Status: "authorized",
		})
		require.NoError(t, err)
		assert.False(t, result.Applied)
		assert.Equal(t, model.PaymentPending, f.repo.store[order.ID].PaymentStatus)
	})

	t.Run("Event for another charge is ignored", func(t *testing.T) {
		f := setup(t)
		order, _ := f.createPaidFlowOrder(t)

		result, err := f.orders.HandlePaymentWebhook(context.Background(), model.PaymentEvent{
			OrderRef: order.ID.String(), ChargeID: "someone-else", Status: model.ProviderApproved,
		})
		require.NoError(t, err)
		assert.False(t, result.Applied)
		assert.Equal(t, model.PaymentPending, f.repo.store[order.ID].PaymentStatus)
	})

	t.Run("Retries on concurrent update", func(t *testing.T) {
		f := setup(t)
		order, charge := f.createPaidFlowOrder(t)
		f.repo.conflicts = 2

		result, err := f.orders.HandlePaymentWebhook(context.Background(), model.PaymentEvent{
			OrderRef: order.ID.String(), ChargeID: charge.ID, Status: model.ProviderApproved,
		})
		require.NoError(t, err)
		assert.True(t, result.Applied)
		assert.Equal(t, model.StatusConfirmed, f.repo.store[order.ID].Status)
	})

	t.Run("Gives up after repeated conflicts", func(t *testing.T) {
		f := setup(t)
		order, charge := f.createPaidFlowOrder(t)
		f.repo.conflicts = 3

		_, err := f.orders.HandlePaymentWebhook(context.Background(), model.PaymentEvent{
			OrderRef: order.ID.String(), ChargeID: charge.ID, Status: model.ProviderApproved,
		})
		assert.ErrorIs(t, err, model.ErrOptimisticLock)
		assert.Empty(t, f.dispatcher.events)
	})
}

func TestProcessPaymentNotification(t *testing.T) {
	f := setup(t)
	order, charge := f.createPaidFlowOrder(t)

	t.Run("Non payment envelope is ignored", func(t *testing.T) {
		result, err := f.orders.ProcessPaymentNotification(context.Background(), model.PaymentNotification{Type: "merchant_order", ChargeID: charge.ID})
		require.NoError(t, err)
		assert.False(t, result.Applied)
	})

	t.Run("Unknown charge is acknowledged", func(t *testing.T) {
		result, err := f.orders.ProcessPaymentNotification(context.Background(), model.PaymentNotification{Type: "payment", ChargeID: "404"})
		require.NoError(t, err)
		assert.False(t, result.Applied)
	})

	t.Run("Looks up the charge status", func(t *testing.T) {
		f.gateway.resolve(charge.ID, model.ProviderApproved)
		result, err := f.orders.ProcessPaymentNotification(context.Background(), model.PaymentNotification{Type: "payment", ChargeID: charge.ID})
		require.NoError(t, err)
		assert.True(t, result.Applied)
		assert.Equal(t, order.ID, result.OrderID)
		assert.Equal(t, model.StatusConfirmed, f.repo.store[order.ID].Status)
	})
}

func TestEndToEndCheckout(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	storage := newMockCartStorage()
	cart := openCart(t, storage, "e2e")
	require.NoError(t, cart.AddItem(ctx, productA, 2, []model.ExtraSnapshot{freeF, paidP}))
	require.True(t, price("22.50").Equal(cart.Total()))

	total := cart.Total()
	order, err := f.orders.CreateOrder(ctx, service.CreateOrderInput{
		CustomerName:   "João",
		CustomerPhone:  "11 98888-0000",
		DeliveryType:   string(model.Pickup),
		Items:          cart.Items(),
		Total:          &total,
		IdempotencyKey: cart.CheckoutKey(),
	})
	require.NoError(t, err)
	assert.True(t, price("22.50").Equal(order.Total))
	assert.Equal(t, model.StatusPending, order.Status)

	charge, err := f.orders.CreateCharge(ctx, service.CreateChargeInput{OrderID: order.ID, Amount: total})
	require.NoError(t, err)
	require.NotEmpty(t, charge.ID)

	f.gateway.resolve(charge.ID, model.ProviderApproved)
	_, err = f.orders.ProcessPaymentNotification(ctx, model.PaymentNotification{Type: "payment", ChargeID: charge.ID})
	require.NoError(t, err)

	read, err := f.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, read.Status)
	assert.Equal(t, model.PaymentApproved, read.PaymentStatus)
	assert.Equal(t, charge.ID, read.PaymentID)
}

func TestUpdateOrder(t *testing.T) {
	status := func(s model.OrderStatus) *model.OrderStatus { return &s }

	t.Run("Requires admin", func(t *testing.T) {
		f := setup(t)
		order, _ := f.createPaidFlowOrder(t)

		_, err := f.orders.SetStatus(context.Background(), order.ID, model.StatusCancelled, false)
		assert.ErrorIs(t, err, model.ErrUnauthorized)

		customer := model.WithPrincipal(context.Background(), model.Principal{Subject: "c", Role: model.RoleCustomer})
		_, err = f.orders.SetStatus(customer, order.ID, model.StatusCancelled, false)
		assert.ErrorIs(t, err, model.ErrForbidden)
	})

	t.Run("Follows the transition table", func(t *testing.T) {
		f := setup(t)
		order, charge := f.createPaidFlowOrder(t)
		_, err := f.orders.HandlePaymentWebhook(context.Background(), model.PaymentEvent{
			OrderRef: order.ID.String(), ChargeID: charge.ID, Status: model.ProviderApproved,
		})
		require.NoError(t, err)

		for _, next := range []model.OrderStatus{model.StatusPreparing, model.StatusReady, model.StatusPickedUp} {
			updated, err := f.orders.SetStatus(adminContext(), order.ID, next, false)
			require.NoError(t, err)
			assert.Equal(t, next, updated.Status)
		}

		_, err = f.orders.SetStatus(adminContext(), order.ID, model.StatusPreparing, false)
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
	})

	t.Run("Delivery steps are rejected for pickup orders", func(t *testing.T) {
		f := setup(t)
		order, _ := f.createPaidFlowOrder(t)
		f.repo.store[order.ID].Status = model.StatusReady
		f.repo.store[order.ID].PaymentStatus = model.PaymentApproved

		_, err := f.orders.UpdateOrder(adminContext(), order.ID, service.OrderPatch{Status: status(model.StatusOutForDelivery)})
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
	})

	t.Run("Progress requires an approved payment", func(t *testing.T) {
		f := setup(t)
		order, _ := f.createPaidFlowOrder(t)

		_, err := f.orders.SetStatus(adminContext(), order.ID, model.StatusConfirmed, false)
		assert.ErrorIs(t, err, model.ErrPaymentNotApproved)
	})

	t.Run("Cancel is allowed from any state", func(t *testing.T) {
		f := setup(t)
		order, _ := f.createPaidFlowOrder(t)

		updated, err := f.orders.SetStatus(adminContext(), order.ID, model.StatusCancelled, false)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCancelled, updated.Status)
		assert.Equal(t, []string{"OrderStatusChanged"}, f.dispatcher.Types())
	})

	t.Run("Force needs the override capability", func(t *testing.T) {
		f := setup(t)
		order, _ := f.createPaidFlowOrder(t)

		_, err := f.orders.SetStatus(adminContext(), order.ID, model.StatusDelivered, true)
		assert.ErrorIs(t, err, model.ErrOverrideRequired)

		updated, err := f.orders.SetStatus(overrideContext(), order.ID, model.StatusDelivered, true)
		require.NoError(t, err)
		assert.Equal(t, model.StatusDelivered, updated.Status)

		read, err := f.orders.GetOrder(context.Background(), order.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusDelivered, read.Status)

		changed, ok := f.dispatcher.events[0].(model.OrderStatusChanged)
		require.True(t, ok)
		assert.True(t, changed.Forced)
	})

	t.Run("Payment patch approves and confirms together", func(t *testing.T) {
		f := setup(t)
		order, err := f.orders.CreateOrder(context.Background(), validOrderInput())
		require.NoError(t, err)
		approved := model.PaymentApproved
		paymentID := "manual-1"

		updated, err := f.orders.UpdateOrder(adminContext(), order.ID, service.OrderPatch{
			PaymentStatus: &approved,
			PaymentID:     &paymentID,
			Status:        status(model.StatusConfirmed),
		})
		require.NoError(t, err)
		assert.Equal(t, model.PaymentApproved, updated.PaymentStatus)
		assert.Equal(t, "manual-1", updated.PaymentID)
		assert.Equal(t, model.StatusConfirmed, updated.Status)
		assert.Equal(t, 2, updated.Version)
	})

	t.Run("Payment id cannot be replaced", func(t *testing.T) {
		f := setup(t)
		order, _ := f.createPaidFlowOrder(t)

		_, err := f.orders.UpdatePayment(adminContext(), order.ID, model.PaymentPending, "other")
		assert.ErrorIs(t, err, model.ErrPaymentIDAlreadySet)
	})

	t.Run("Terminal payment is final", func(t *testing.T) {
		f := setup(t)
		order, _ := f.createPaidFlowOrder(t)
		_, err := f.orders.UpdatePayment(adminContext(), order.ID, model.PaymentFailed, "")
		require.NoError(t, err)

		_, err = f.orders.UpdatePayment(adminContext(), order.ID, model.PaymentApproved, "")
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
	})

	t.Run("Fail on unknown order", func(t *testing.T) {
		f := setup(t)
		_, err := f.orders.SetStatus(adminContext(), uuid.New(), model.StatusCancelled, false)
		assert.ErrorIs(t, err, model.ErrOrderNotFound)
		assert.ErrorIs(t, err, model.ErrNotFound)
	})
}

func TestListAndDeleteOrders(t *testing.T) {
	f := setup(t)
	order, err := f.orders.CreateOrder(context.Background(), validOrderInput())
	require.NoError(t, err)

	_, err = f.orders.ListOrders(context.Background())
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	orders, err := f.orders.ListOrders(adminContext())
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	f.dispatcher.Reset()
	require.NoError(t, f.orders.DeleteOrder(adminContext(), order.ID))
	assert.Equal(t, []string{"OrderDeleted"}, f.dispatcher.Types())

	assert.ErrorIs(t, f.orders.DeleteOrder(adminContext(), order.ID), model.ErrOrderNotFound)
}

func TestExpirePendingPayments(t *testing.T) {
	t.Run("Expires stale orders only", func(t *testing.T) {
		f := setup(t)
		stale, err := f.orders.CreateOrder(context.Background(), validOrderInput())
		require.NoError(t, err)
		fresh, err := f.orders.CreateOrder(context.Background(), validOrderInput())
		require.NoError(t, err)
		f.repo.store[stale.ID].CreatedAt = testNow.Add(-time.Hour)
		f.dispatcher.Reset()

		expired, err := f.orders.ExpirePendingPayments(context.Background(), testNow.Add(-30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, expired)

		assert.Equal(t, model.StatusCancelled, f.repo.store[stale.ID].Status)
		assert.Equal(t, model.PaymentCancelled, f.repo.store[stale.ID].PaymentStatus)
		assert.Equal(t, model.StatusPending, f.repo.store[fresh.ID].Status)
		assert.Equal(t, []string{"PaymentExpired", "OrderStatusChanged"}, f.dispatcher.Types())

		_, err = f.orders.CreateCharge(context.Background(), service.CreateChargeInput{OrderID: stale.ID, Amount: stale.Total})
		assert.ErrorIs(t, err, model.ErrOrderNotPayable)
	})

	t.Run("Paid charge is reconciled instead of expired", func(t *testing.T) {
		f := setup(t)
		order, charge := f.createPaidFlowOrder(t)
		f.repo.store[order.ID].CreatedAt = testNow.Add(-time.Hour)
		f.gateway.resolve(charge.ID, model.ProviderApproved)

		expired, err := f.orders.ExpirePendingPayments(context.Background(), testNow.Add(-30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0, expired)
		assert.Equal(t, model.StatusConfirmed, f.repo.store[order.ID].Status)
		assert.Equal(t, model.PaymentApproved, f.repo.store[order.ID].PaymentStatus)
	})

	t.Run("Charge created after checkout stays payable until it expires", func(t *testing.T) {
		now := testNow
		f := setupWithConfig(t, service.OrderServiceConfig{Now: func() time.Time { return now }})
		order, err := f.orders.CreateOrder(context.Background(), validOrderInput())
		require.NoError(t, err)

		now = testNow.Add(25 * time.Minute)
		charge, err := f.orders.CreateCharge(context.Background(), service.CreateChargeInput{OrderID: order.ID, Amount: order.Total})
		require.NoError(t, err)
		require.NotNil(t, f.repo.store[order.ID].PaymentExpiresAt)
		assert.True(t, testNow.Add(55*time.Minute).Equal(*f.repo.store[order.ID].PaymentExpiresAt))
		f.dispatcher.Reset()

		now = testNow.Add(31 * time.Minute)
		expired, err := f.orders.ExpirePendingPayments(context.Background(), now.Add(-30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0, expired)
		assert.Equal(t, model.StatusPending, f.repo.store[order.ID].Status)
		assert.Equal(t, model.PaymentPending, f.repo.store[order.ID].PaymentStatus)
		assert.Empty(t, f.gateway.cancelled)
		assert.Empty(t, f.dispatcher.Types())

		f.gateway.resolve(charge.ID, model.ProviderApproved)
		result, err := f.orders.HandlePaymentWebhook(context.Background(), model.PaymentEvent{
			OrderRef: order.ID.String(),
			ChargeID: charge.ID,
			Status:   model.ProviderApproved,
		})
		require.NoError(t, err)
		assert.True(t, result.Applied)
		assert.Equal(t, model.StatusConfirmed, f.repo.store[order.ID].Status)
		assert.Equal(t, model.PaymentApproved, f.repo.store[order.ID].PaymentStatus)
	})

	t.Run("Expired charge is cancelled with the provider first", func(t *testing.T) {
		now := testNow
		f := setupWithConfig(t, service.OrderServiceConfig{Now: func() time.Time { return now }})
		order, charge := f.createPaidFlowOrder(t)

		now = testNow.Add(time.Hour)
		expired, err := f.orders.ExpirePendingPayments(context.Background(), now.Add(-30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 1, expired)
		assert.Equal(t, []string{charge.ID}, f.gateway.cancelled)
		assert.Equal(t, model.StatusCancelled, f.repo.store[order.ID].Status)
		assert.Equal(t, model.PaymentCancelled, f.repo.store[order.ID].PaymentStatus)
		assert.Equal(t, []string{"PaymentExpired", "OrderStatusChanged"}, f.dispatcher.Types())
	})

	t.Run("Order stays pending when the provider refuses to cancel", func(t *testing.T) {
		now := testNow
		f := setupWithConfig(t, service.OrderServiceConfig{Now: func() time.Time { return now }})
		order, _ := f.createPaidFlowOrder(t)
		f.gateway.cancelErr = model.ErrProviderUnavailable

		now = testNow.Add(time.Hour)
		expired, err := f.orders.ExpirePendingPayments(context.Background(), now.Add(-30*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 0, expired)
		assert.Equal(t, model.StatusPending, f.repo.store[order.ID].Status)
		assert.Equal(t, model.PaymentPending, f.repo.store[order.ID].PaymentStatus)
		assert.Empty(t, f.dispatcher.Types())
	})
}

func TestPaymentEventsKeepTheirNames(t *testing.T) {
	orderID := uuid.New()
	events := []service.Event{
		model.PaymentChargeCreated{OrderID: orderID, ChargeID: "1"},
		model.PaymentApprovedEvent{OrderID: orderID, ChargeID: "1"},
		model.PaymentFailedEvent{OrderID: orderID, ChargeID: "1", Reason: "rejected"},
		model.PaymentExpired{OrderID: orderID, ChargeID: "1"},
	}
	var types []string
	for _, event := range events {
		types = append(types, event.Type())
	}
	assert.Equal(t, []string{"PaymentChargeCreated", "PaymentApproved", "PaymentFailed", "PaymentExpired"}, types)

	assert.Equal(t, model.PaymentStatus("APPROVED"), model.PaymentApproved)
	assert.Equal(t, model.PaymentStatus("FAILED"), model.PaymentFailed)
	assert.True(t, model.PaymentApproved.Terminal())
	assert.True(t, model.PaymentFailed.Terminal())
}

type mockResolver struct {
	products map[int64]model.Product
}

func (m *mockResolver) ResolveLineItem(_ context.Context, productID int64, quantity int, extraIDs []int64) (model.LineItem, error) {
	product, ok := m.products[productID]
	if !ok {
		return model.LineItem{}, model.ErrProductNotFound
	}
	item := model.LineItem{Product: product.Snapshot(), Quantity: quantity}
	for _, id := range extraIDs {
		extra, ok := product.Extra(id)
		if !ok {
			return model.LineItem{}, model.ErrExtraNotFound
		}
		item.Extras = append(item.Extras, extra.Snapshot())
	}
	return item, item.Validate()
}
