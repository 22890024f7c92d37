package transport

import (
	"net/http"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"storefront/pkg/domain/model"
	"storefront/pkg/domain/service"
)

const cartSessionHeader = "X-Cart-Session"

type cartResponse struct {
	Items []model.LineItem `json:"items"`
	Total decimal.Decimal  `json:"total"`
}

type addItemRequest struct {
	ProductID int64   `json:"productId"`
	Quantity  int     `json:"quantity"`
	ExtraIDs  []int64 `json:"extraIds"`
}

type checkoutRequest struct {
	CustomerName    string `json:"customerName"`
	CustomerPhone   string `json:"customerPhone"`
	CustomerAddress string `json:"customerAddress"`
	DeliveryType    string `json:"deliveryType"`
}

func (h *Handler) getCart(w http.ResponseWriter, r *http.Request) {
	h.withCart(w, r, func(cart *service.CartStore) error {
		writeJSON(w, http.StatusOK, newCartResponse(cart))
		return nil
	})
}

func (h *Handler) addCartItem(w http.ResponseWriter, r *http.Request) {
	var request addItemRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	h.withCart(w, r, func(cart *service.CartStore) error {
		item, err := h.catalog.ResolveLineItem(r.Context(), request.ProductID, request.Quantity, request.ExtraIDs)
		if err != nil {
			return err
		}
		if err := cart.AddItem(r.Context(), item.Product, item.Quantity, item.Extras); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, newCartResponse(cart))
		return nil
	})
}

func (h *Handler) removeCartItem(w http.ResponseWriter, r *http.Request) {
	productID, err := idFromPath(r, "productId")
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.withCart(w, r, func(cart *service.CartStore) error {
		if err := cart.RemoveItem(r.Context(), productID); err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, newCartResponse(cart))
		return nil
	})
}

func (h *Handler) clearCart(w http.ResponseWriter, r *http.Request) {
	h.withCart(w, r, func(cart *service.CartStore) error {
		if err := cart.ClearCart(r.Context()); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
}

// checkout turns the cart into an order. The cart revision is the
// idempotency key, so resubmitting an unchanged cart returns the order
// created the first time.
func (h *Handler) checkout(w http.ResponseWriter, r *http.Request) {
	var request checkoutRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	h.withCart(w, r, func(cart *service.CartStore) error {
		if cart.Empty() {
			return model.ErrOrderIsEmpty
		}
		total := cart.Total()
		order, err := h.orders.CreateOrder(r.Context(), service.CreateOrderInput{
			CustomerName:    request.CustomerName,
			CustomerPhone:   request.CustomerPhone,
			CustomerAddress: request.CustomerAddress,
			DeliveryType:    request.DeliveryType,
			Items:           cart.Items(),
			Total:           &total,
			IdempotencyKey:  cart.CheckoutKey(),
		})
		if err != nil {
			return err
		}
		if err := cart.ClearCart(r.Context()); err != nil {
			log.WithError(err).WithField("orderId", order.ID).Warn("order created but cart was not cleared")
		}
		writeJSON(w, http.StatusCreated, order)
		return nil
	})
}

// withCart opens the caller's cart, runs action and closes the cart again.
// An error from action is written as the response.
func (h *Handler) withCart(w http.ResponseWriter, r *http.Request, action func(cart *service.CartStore) error) {
	cart, err := h.carts.Open(r.Context(), r.Header.Get(cartSessionHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() {
		if err := cart.Close(r.Context()); err != nil {
			log.WithError(err).Warn("failed to close cart")
		}
	}()

	if err := action(cart); err != nil {
		writeError(w, r, err)
	}
}

func newCartResponse(cart *service.CartStore) cartResponse {
	items := cart.Items()
	if items == nil {
		items = []model.LineItem{}
	}
	return cartResponse{Items: items, Total: cart.Total()}
}
