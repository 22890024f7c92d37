package transport

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"storefront/pkg/domain/model"
	"storefront/pkg/domain/service"
)

var ErrInvalidID = model.NewValidationError("id", "must be a positive integer")

type categoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
}

type productRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"imageUrl"`
	CategoryID  int64           `json:"categoryId"`
	ExtraIDs    []int64         `json:"extraIds"`
}

type extraRequest struct {
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	IsFree bool            `json:"isFree"`
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	page, err := h.catalog.ListCategories(r.Context(), listQuery(r))
	respond(w, r, http.StatusOK, page, err)
}

func (h *Handler) getCategory(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	category, err := h.catalog.GetCategory(r.Context(), id)
	respond(w, r, http.StatusOK, category, err)
}

func (h *Handler) getCategoryBySlug(w http.ResponseWriter, r *http.Request) {
	category, err := h.catalog.GetCategoryBySlug(r.Context(), mux.Vars(r)["slug"])
	respond(w, r, http.StatusOK, category, err)
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var request categoryRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	category, err := h.catalog.CreateCategory(r.Context(), service.CategoryInput(request))
	respond(w, r, http.StatusCreated, category, err)
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var request categoryRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	category, err := h.catalog.UpdateCategory(r.Context(), id, service.CategoryInput(request))
	respond(w, r, http.StatusOK, category, err)
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondNoContent(w, r, h.catalog.DeleteCategory(r.Context(), id))
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	page, err := h.catalog.ListProducts(r.Context(), listQuery(r))
	respond(w, r, http.StatusOK, page, err)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	product, err := h.catalog.GetProduct(r.Context(), id)
	respond(w, r, http.StatusOK, product, err)
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var request productRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	product, err := h.catalog.CreateProduct(r.Context(), service.ProductInput(request))
	respond(w, r, http.StatusCreated, product, err)
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var request productRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	product, err := h.catalog.UpdateProduct(r.Context(), id, service.ProductInput(request))
	respond(w, r, http.StatusOK, product, err)
}

func (h *Handler) deleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondNoContent(w, r, h.catalog.DeleteProduct(r.Context(), id))
}

func (h *Handler) listExtras(w http.ResponseWriter, r *http.Request) {
	page, err := h.catalog.ListExtras(r.Context(), listQuery(r))
	respond(w, r, http.StatusOK, page, err)
}

func (h *Handler) getExtra(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	extra, err := h.catalog.GetExtra(r.Context(), id)
	respond(w, r, http.StatusOK, extra, err)
}

func (h *Handler) createExtra(w http.ResponseWriter, r *http.Request) {
	var request extraRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	extra, err := h.catalog.CreateExtra(r.Context(), service.ExtraInput(request))
	respond(w, r, http.StatusCreated, extra, err)
}

func (h *Handler) updateExtra(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var request extraRequest
	if err := decodeJSON(w, r, &request); err != nil {
		writeError(w, r, err)
		return
	}
	extra, err := h.catalog.UpdateExtra(r.Context(), id, service.ExtraInput(request))
	respond(w, r, http.StatusOK, extra, err)
}

func (h *Handler) deleteExtra(w http.ResponseWriter, r *http.Request) {
	id, err := idFromPath(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondNoContent(w, r, h.catalog.DeleteExtra(r.Context(), id))
}

// listQuery reads page, limit, search and categoryId. Malformed numbers fall
// back to the defaults.
func listQuery(r *http.Request) model.ListQuery {
	values := r.URL.Query()
	query := model.ListQuery{Search: values.Get("search")}
	query.Page, _ = strconv.Atoi(values.Get("page"))
	query.Limit, _ = strconv.Atoi(values.Get("limit"))
	query.CategoryID, _ = strconv.ParseInt(values.Get("categoryId"), 10, 64)
	return query.Normalize()
}

func idFromPath(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidID
	}
	return id, nil
}

func respond(w http.ResponseWriter, r *http.Request, status int, body interface{}, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, body)
}

func respondNoContent(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
