package transport

import (
	"net/http"

	"github.com/gorilla/mux"

	"storefront/pkg/domain/model"
	"storefront/pkg/domain/service"
)

type Services struct {
	Orders   service.OrderService
	Catalog  service.CatalogService
	Carts    *service.CartService
	Settings service.SettingsService
}

type Options struct {
	Verifier TokenVerifier
	Limiter  model.RateLimiter
}

type Handler struct {
	orders   service.OrderService
	catalog  service.CatalogService
	carts    *service.CartService
	settings service.SettingsService
}

func Router(services Services, options Options) http.Handler {
	handler := &Handler{
		orders:   services.Orders,
		catalog:  services.Catalog,
		carts:    services.Carts,
		settings: services.Settings,
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", handler.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/orders", handler.createOrder).Methods(http.MethodPost)
	handler.orderAdminRoutes(api)
	handler.orderAdminRoutes(api.PathPrefix("/admin").Subrouter())
	api.HandleFunc("/orders/{id}", handler.getOrder).Methods(http.MethodGet)

	api.HandleFunc("/payments/pix", handler.createPixCharge).Methods(http.MethodPost)
	api.HandleFunc("/webhooks/payment", handler.paymentWebhook).Methods(http.MethodPost)
	api.HandleFunc("/webhooks/mercadopago", handler.paymentWebhook).Methods(http.MethodPost)

	api.HandleFunc("/categories", handler.listCategories).Methods(http.MethodGet)
	api.HandleFunc("/categories", handler.createCategory).Methods(http.MethodPost)
	api.HandleFunc("/categories/slug/{slug}", handler.getCategoryBySlug).Methods(http.MethodGet)
	api.HandleFunc("/categories/{id:[0-9]+}", handler.getCategory).Methods(http.MethodGet)
	api.HandleFunc("/categories/{id:[0-9]+}", handler.updateCategory).Methods(http.MethodPut)
	api.HandleFunc("/categories/{id:[0-9]+}", handler.deleteCategory).Methods(http.MethodDelete)

	api.HandleFunc("/products", handler.listProducts).Methods(http.MethodGet)
	api.HandleFunc("/products", handler.createProduct).Methods(http.MethodPost)
	api.HandleFunc("/products/{id:[0-9]+}", handler.getProduct).Methods(http.MethodGet)
	api.HandleFunc("/products/{id:[0-9]+}", handler.updateProduct).Methods(http.MethodPut)
	api.HandleFunc("/products/{id:[0-9]+}", handler.deleteProduct).Methods(http.MethodDelete)

	api.HandleFunc("/extras", handler.listExtras).Methods(http.MethodGet)
	api.HandleFunc("/extras", handler.createExtra).Methods(http.MethodPost)
	api.HandleFunc("/extras/{id:[0-9]+}", handler.getExtra).Methods(http.MethodGet)
	api.HandleFunc("/extras/{id:[0-9]+}", handler.updateExtra).Methods(http.MethodPut)
	api.HandleFunc("/extras/{id:[0-9]+}", handler.deleteExtra).Methods(http.MethodDelete)

	api.HandleFunc("/settings", handler.getSettings).Methods(http.MethodGet)
	api.HandleFunc("/settings", handler.updateSettings).Methods(http.MethodPut)

	api.HandleFunc("/cart", handler.getCart).Methods(http.MethodGet)
	api.HandleFunc("/cart", handler.clearCart).Methods(http.MethodDelete)
	api.HandleFunc("/cart/items", handler.addCartItem).Methods(http.MethodPost)
	api.HandleFunc("/cart/items/{productId:[0-9]+}", handler.removeCartItem).Methods(http.MethodDelete)
	api.HandleFunc("/cart/checkout", handler.checkout).Methods(http.MethodPost)

	var h http.Handler = r
	h = rateLimitMiddleware(options.Limiter)(h)
	h = authMiddleware(options.Verifier)(h)
	h = securityHeadersMiddleware(h)
	return logMiddleware(h)
}

// orderAdminRoutes registers the admin order operations on r.
func (h *Handler) orderAdminRoutes(r *mux.Router) {
	r.HandleFunc("/orders", h.listOrders).Methods(http.MethodGet)
	r.HandleFunc("/orders/{id}", h.updateOrder).Methods(http.MethodPut)
	r.HandleFunc("/orders/{id}", h.deleteOrder).Methods(http.MethodDelete)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
