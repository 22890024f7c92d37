package transport

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"storefront/pkg/domain/model"
	"storefront/pkg/domain/service"
)

var (
	ErrInvalidOrderID      = model.NewValidationError("id", "must be a valid order id")
	ErrAmountRequired      = model.NewValidationError("amount", "is required")
	ErrDescriptionRequired = model.NewValidationError("description", "is required")
)

type orderRequest struct {
	CustomerName    string           `json:"customerName"`
	CustomerPhone   string           `json:"customerPhone"`
	CustomerAddress string           `json:"customerAddress"`
	DeliveryType    string           `json:"deliveryType"`
	Items           []model.LineItem `json:"items"`
	Total           *decimal.Decimal `json:"total"`
}

// createOrderRequest accepts the order either at the top level or wrapped
// in an "order" field.
type createOrderRequest struct {
	Order *orderRequest `json:"order"`
	orderRequest
}

type updateOrderRequest struct {
	Status        *string `json:"status"`
	PaymentStatus *string `json:"paymentStatus"`
	PaymentID     *string `json:"paymentId"`
	Force         bool    `json:"force"`
}

type pixRequest struct {
	OrderID     string           `json:"orderId"`
	Amount      *decimal.Decimal `json:"amount"`
	Description string           `json:"description"`
}

type webhookRequest struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID json.RawMessage `json:"id"`
	} `json:"data"`
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var request createOrderRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	body := request.orderRequest
	if request.Order != nil {
		body = *request.Order
	}

	order, err := h.orders.CreateOrder(r.Context(), service.CreateOrderInput{
		CustomerName:    body.CustomerName,
		CustomerPhone:   body.CustomerPhone,
		CustomerAddress: body.CustomerAddress,
		DeliveryType:    body.DeliveryType,
		Items:           body.Items,
		Total:           body.Total,
		IdempotencyKey:  r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var request updateOrderRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, err)
		return
	}

	patch := service.OrderPatch{PaymentID: request.PaymentID, Force: request.Force}
	if request.Status != nil {
		status, err := model.ParseOrderStatus(*request.Status)
		if err != nil {
			writeError(w, r, err)
			return
		}
		patch.Status = &status
	}
	if request.PaymentStatus != nil {
		status, err := model.ParsePaymentStatus(*request.PaymentStatus)
		if err != nil {
			writeError(w, r, err)
			return
		}
		patch.PaymentStatus = &status
	}

	order, err := h.orders.UpdateOrder(r.Context(), orderID, patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.orders.DeleteOrder(r.Context(), orderID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) createPixCharge(w http.ResponseWriter, r *http.Request) {
	var request pixRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(request.OrderID) == "" {
		writeError(w, r, service.ErrOrderIDRequired)
		return
	}
	orderID, err := uuid.Parse(strings.TrimSpace(request.OrderID))
	if err != nil {
		writeError(w, r, ErrInvalidOrderID)
		return
	}
	if request.Amount == nil {
		writeError(w, r, ErrAmountRequired)
		return
	}
	if strings.TrimSpace(request.Description) == "" {
		writeError(w, r, ErrDescriptionRequired)
		return
	}

	charge, err := h.orders.CreateCharge(r.Context(), service.CreateChargeInput{
		OrderID:     orderID,
		Amount:      *request.Amount,
		Description: request.Description,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, charge)
}

// paymentWebhook acknowledges every notification it could process, including
// ones for unknown orders. Only infrastructure failures answer 500 so the
// provider delivers the notification again.
func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var request webhookRequest
	if err := decodeJSON(w, r, &request); err != nil {
		log.WithError(err).Warn("ignoring malformed payment notification")
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	result, err := h.orders.ProcessPaymentNotification(r.Context(), model.PaymentNotification{
		Type:     request.Type,
		ChargeID: rawID(request.Data.ID),
	})
	if err != nil {
		log.WithError(err).Error("failed to process payment notification")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to process notification"})
		return
	}

	log.WithFields(log.Fields{
		"orderId": result.OrderID,
		"applied": result.Applied,
		"reason":  result.Reason,
	}).Info("payment notification processed")
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// rawID accepts the provider id as either a JSON number or a string.
func rawID(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func orderIDFromPath(r *http.Request) (uuid.UUID, error) {
	orderID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, ErrInvalidOrderID
	}
	return orderID, nil
}
