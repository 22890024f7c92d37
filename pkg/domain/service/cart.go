package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"storefront/pkg/domain/model"
)

// CartService opens the persisted cart of a browsing session.
type CartService struct {
	storage model.CartStorage
}

func NewCartService(storage model.CartStorage) *CartService {
	return &CartService{storage: storage}
}

// Open returns the session's cart, loaded from storage. A missing or
// unreadable stored cart opens as an empty cart.
func (s *CartService) Open(ctx context.Context, session string) (*CartStore, error) {
	session = strings.TrimSpace(session)
	if session == "" {
		return nil, model.ErrSessionRequired
	}
	store := &CartStore{
		storage: s.storage,
		cart:    model.Cart{Session: session},
	}
	if err := store.Load(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// CartStore holds one session's line items and writes the whole collection
// back to storage after every mutation.
type CartStore struct {
	mu      sync.Mutex
	storage model.CartStorage
	cart    model.Cart
	dirty   bool
	closed  bool
}

func (c *CartStore) Load(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := c.storage.Load(ctx, c.cart.Session)
	if errors.Is(err, model.ErrCartNotFound) {
		c.cart.Items = nil
		return nil
	}
	if err != nil {
		return err
	}

	var stored model.Cart
	if err := json.Unmarshal(data, &stored); err != nil {
		log.WithError(err).WithField("session", c.cart.Session).Warn("discarding unreadable cart")
		c.cart.Items = nil
		c.dirty = true
		return nil
	}
	for _, item := range stored.Items {
		if err := item.Validate(); err != nil {
			log.WithError(err).WithField("session", c.cart.Session).Warn("discarding invalid cart")
			c.cart.Items = nil
			c.dirty = true
			return nil
		}
	}
	c.cart.Items = stored.Items
	c.cart.Revision = stored.Revision
	c.dirty = false
	return nil
}

func (c *CartStore) Save(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.save(ctx)
}

// Close writes back any unsaved state; later mutations fail with ErrCartClosed.
func (c *CartStore) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if !c.dirty {
		return nil
	}
	return c.save(ctx)
}

// AddItem merges into an existing line with the same product and extra set,
// otherwise it appends a new line.
func (c *CartStore) AddItem(ctx context.Context, product model.ProductSnapshot, quantity int, extras []model.ExtraSnapshot) error {
	added := model.LineItem{
		Product:  product,
		Quantity: quantity,
		Extras:   model.DedupExtras(extras),
	}
	if err := added.Validate(); err != nil {
		return err
	}

	return c.mutate(ctx, func(items []model.LineItem) []model.LineItem {
		for i := range items {
			if items[i].SameSelection(added) {
				items[i].Quantity += quantity
				return items
			}
		}
		return append(items, added)
	})
}

// RemoveItem drops every line of the product, whatever extras they carry.
func (c *CartStore) RemoveItem(ctx context.Context, productID int64) error {
	return c.mutate(ctx, func(items []model.LineItem) []model.LineItem {
		kept := items[:0]
		for _, item := range items {
			if item.Product.ID != productID {
				kept = append(kept, item)
			}
		}
		return kept
	})
}

func (c *CartStore) ClearCart(ctx context.Context) error {
	return c.mutate(ctx, func([]model.LineItem) []model.LineItem {
		return nil
	})
}

func (c *CartStore) Items() []model.LineItem {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneItems(c.cart.Items)
}

func (c *CartStore) Snapshot() model.Cart {
	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := c.cart
	snapshot.Items = cloneItems(c.cart.Items)
	return snapshot
}

func (c *CartStore) Total() decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	return OrderTotal(c.cart.Items)
}

func (c *CartStore) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cart.Items) == 0
}

// CheckoutKey identifies this exact cart revision. Checking out the same
// revision twice yields the same key.
func (c *CartStore) CheckoutKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00", c.cart.Session, c.cart.Revision)
	for _, item := range c.cart.Items {
		fmt.Fprintf(h, "%d:%d:%v;", item.Product.ID, item.Quantity, item.ExtraIDs())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *CartStore) mutate(ctx context.Context, action func(items []model.LineItem) []model.LineItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return model.ErrCartClosed
	}

	previous := c.cart
	c.cart.Items = action(cloneItems(previous.Items))
	c.cart.Revision++

	if err := c.save(ctx); err != nil {
		c.cart = previous
		return err
	}
	return nil
}

func (c *CartStore) save(ctx context.Context) error {
	data, err := json.Marshal(c.cart)
	if err != nil {
		return errors.Wrap(err, "encode cart")
	}
	if err := c.storage.Save(ctx, c.cart.Session, data); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

func cloneItems(items []model.LineItem) []model.LineItem {
	if items == nil {
		return nil
	}
	out := make([]model.LineItem, len(items))
	for i, item := range items {
		out[i] = item
		out[i].Extras = append([]model.ExtraSnapshot(nil), item.Extras...)
	}
	return out
}
