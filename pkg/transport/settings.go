package transport

import (
	"net/http"

	"storefront/pkg/domain/model"
)

var ErrDeliveryEnabledRequired = model.NewValidationError("deliveryEnabled", "is required")

type settingsRequest struct {
	DeliveryEnabled *bool `json:"deliveryEnabled"`
}

func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.GetSettings(r.Context())
	respond(w, r, http.StatusOK, settings, err)
}

func (h *Handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var request settingsRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	if request.DeliveryEnabled == nil {
		writeError(w, r, ErrDeliveryEnabledRequired)
		return
	}
	settings, err := h.settings.UpdateSettings(r.Context(), model.Settings{DeliveryEnabled: *request.DeliveryEnabled})
	respond(w, r, http.StatusOK, settings, err)
}
