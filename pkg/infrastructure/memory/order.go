package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/pkg/domain/model"
)

// OrderRepository keeps orders in process memory. Returned orders are copies.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[uuid.UUID]model.Order
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[uuid.UUID]model.Order)}
}

func (r *OrderRepository) NextID() (uuid.UUID, error) {
	return uuid.NewRandom()
}

func (r *OrderRepository) Create(_ context.Context, order *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return model.NewError(model.ErrConflict, "order already exists")
	}
	r.orders[order.ID] = copyOrder(*order)
	return nil
}

func (r *OrderRepository) Find(_ context.Context, id uuid.UUID) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[id]
	if !ok {
		return nil, model.ErrOrderNotFound
	}
	found := copyOrder(order)
	return &found, nil
}

func (r *OrderRepository) FindPayableByIdempotencyKey(_ context.Context, key string) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var newest *model.Order
	for _, order := range r.orders {
		if order.IdempotencyKey != key || !order.Payable() {
			continue
		}
		if newest == nil || order.CreatedAt.After(newest.CreatedAt) {
			found := copyOrder(order)
			newest = &found
		}
	}
	if newest == nil {
		return nil, model.ErrOrderNotFound
	}
	return newest, nil
}

func (r *OrderRepository) Update(_ context.Context, order *model.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.orders[order.ID]
	if !ok {
		return model.ErrOrderNotFound
	}
	if stored.Version != order.Version-1 {
		return model.ErrOptimisticLock
	}
	updated := copyOrder(*order)
	updated.Items = stored.Items
	updated.CreatedAt = stored.CreatedAt
	r.orders[order.ID] = updated
	return nil
}

func (r *OrderRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[id]; !ok {
		return model.ErrOrderNotFound
	}
	delete(r.orders, id)
	return nil
}

func (r *OrderRepository) List(_ context.Context) ([]model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	orders := make([]model.Order, 0, len(r.orders))
	for _, order := range r.orders {
		orders = append(orders, copyOrder(order))
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

func (r *OrderRepository) ListAwaitingPayment(_ context.Context, cutoff time.Time) ([]model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var orders []model.Order
	for _, order := range r.orders {
		if order.Status == model.StatusPending && order.PaymentStatus == model.PaymentPending && order.CreatedAt.Before(cutoff) {
			orders = append(orders, copyOrder(order))
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

func copyOrder(order model.Order) model.Order {
	items := make([]model.LineItem, len(order.Items))
	for i, item := range order.Items {
		items[i] = item
		items[i].Extras = append([]model.ExtraSnapshot(nil), item.Extras...)
	}
	order.Items = items
	if order.PaymentExpiresAt != nil {
		expires := *order.PaymentExpiresAt
		order.PaymentExpiresAt = &expires
	}
	return order
}
