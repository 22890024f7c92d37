package tests

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/pkg/domain/model"
	"storefront/pkg/domain/service"
)

var _ model.OrderRepository = &mockOrderRepository{}

type mockOrderRepository struct {
	store map[uuid.UUID]*model.Order
	// conflicts makes the next Update calls fail as if another writer won.
	conflicts int
}

func (m *mockOrderRepository) NextID() (uuid.UUID, error) {
	return uuid.NewRandom()
}

func (m *mockOrderRepository) Create(_ context.Context, order *model.Order) error {
	if _, exists := m.store[order.ID]; exists {
		return errors.New("order with this ID already exists")
	}
	stored := *order
	m.store[order.ID] = &stored
	return nil
}

func (m *mockOrderRepository) Find(_ context.Context, id uuid.UUID) (*model.Order, error) {
	if order, ok := m.store[id]; ok {
		clone := *order
		return &clone, nil
	}
	return nil, model.ErrOrderNotFound
}

func (m *mockOrderRepository) FindPayableByIdempotencyKey(_ context.Context, key string) (*model.Order, error) {
	for _, order := range m.store {
		if order.IdempotencyKey == key && order.Payable() {
			clone := *order
			return &clone, nil
		}
	}
	return nil, model.ErrOrderNotFound
}

func (m *mockOrderRepository) Update(_ context.Context, order *model.Order) error {
	existing, ok := m.store[order.ID]
	if !ok {
		return model.ErrOrderNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		existing.Version++
		return model.ErrOptimisticLock
	}
	if existing.Version != order.Version-1 {
		return model.ErrOptimisticLock
	}

	updated := *order
	m.store[order.ID] = &updated
	return nil
}

func (m *mockOrderRepository) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.store[id]; !ok {
		return model.ErrOrderNotFound
	}
	delete(m.store, id)
	return nil
}

func (m *mockOrderRepository) List(_ context.Context) ([]model.Order, error) {
	orders := make([]model.Order, 0, len(m.store))
	for _, order := range m.store {
		orders = append(orders, *order)
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
	return orders, nil
}

func (m *mockOrderRepository) ListAwaitingPayment(_ context.Context, cutoff time.Time) ([]model.Order, error) {
	var orders []model.Order
	for _, order := range m.store {
		if order.Status == model.StatusPending && order.PaymentStatus == model.PaymentPending && order.CreatedAt.Before(cutoff) {
			orders = append(orders, *order)
		}
	}
	return orders, nil
}

var _ service.EventDispatcher = &mockEventDispatcher{}

type mockEventDispatcher struct {
	events []service.Event
}

func (m *mockEventDispatcher) Dispatch(event service.Event) error {
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventDispatcher) Reset() {
	m.events = nil
}

func (m *mockEventDispatcher) Types() []string {
	types := make([]string, 0, len(m.events))
	for _, event := range m.events {
		types = append(types, event.Type())
	}
	return types
}

var _ model.PaymentGateway = &mockGateway{}

type mockGateway struct {
	charges   map[string]*model.Charge
	created   []model.ChargeRequest
	cancelled []string
	createErr error
	cancelErr error
	nextID    int
}

func newMockGateway() *mockGateway {
	return &mockGateway{charges: make(map[string]*model.Charge)}
}

func (m *mockGateway) CreateCharge(_ context.Context, request model.ChargeRequest) (*model.Charge, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, request)
	m.nextID++
	charge := &model.Charge{
		ID:                strconv.Itoa(1000 + m.nextID),
		ExternalReference: request.OrderID.String(),
		Status:            model.ProviderPending,
		QRCode:            "00020126pix",
		QRCodeBase64:      "aW1hZ2U=",
		TicketURL:         "https://pix.example/ticket",
		ExpiresAt:         request.ExpiresAt,
	}
	m.charges[charge.ID] = charge
	clone := *charge
	return &clone, nil
}

func (m *mockGateway) GetCharge(_ context.Context, chargeID string) (*model.Charge, error) {
	charge, ok := m.charges[chargeID]
	if !ok {
		return nil, model.ErrChargeNotFound
	}
	clone := *charge
	return &clone, nil
}

func (m *mockGateway) CancelCharge(_ context.Context, chargeID string) (*model.Charge, error) {
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	charge, ok := m.charges[chargeID]
	if !ok {
		return nil, model.ErrChargeNotFound
	}
	if !charge.Open() {
		return nil, model.ErrProviderRejected
	}
	m.cancelled = append(m.cancelled, chargeID)
	charge.Status = model.ProviderCancelled
	clone := *charge
	return &clone, nil
}

func (m *mockGateway) resolve(chargeID string, status model.ProviderStatus) {
	m.charges[chargeID].Status = status
}

type mockSettingsRepository struct {
	settings model.Settings
}

func (m *mockSettingsRepository) Get(context.Context) (model.Settings, error) {
	return m.settings, nil
}

func (m *mockSettingsRepository) Save(_ context.Context, settings model.Settings) error {
	m.settings = settings
	return nil
}

type mockCartStorage struct {
	mu      sync.Mutex
	data    map[string][]byte
	saves   int
	saveErr error
}

func newMockCartStorage() *mockCartStorage {
	return &mockCartStorage{data: make(map[string][]byte)}
}

func (m *mockCartStorage) Load(_ context.Context, session string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[session]
	if !ok {
		return nil, model.ErrCartNotFound
	}
	return data, nil
}

func (m *mockCartStorage) Save(_ context.Context, session string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.data[session] = append([]byte(nil), data...)
	return nil
}

func (m *mockCartStorage) Delete(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, session)
	return nil
}

type sentEmail struct {
	recipient string
	subject   string
	body      string
}

type mockSender struct {
	sent []sentEmail
	err  error
}

func (m *mockSender) Send(_ context.Context, recipient, subject, body string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentEmail{recipient: recipient, subject: subject, body: body})
	return nil
}

func adminContext() context.Context {
	return model.WithPrincipal(context.Background(), model.Principal{Subject: "admin", Role: model.RoleAdmin})
}

func overrideContext() context.Context {
	return model.WithPrincipal(context.Background(), model.Principal{Subject: "owner", Role: model.RoleAdmin, CanOverride: true})
}
