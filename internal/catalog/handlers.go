package catalog

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-5elm/internal/common"
)

// Handler exposes public catalog endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

// Search handles GET /api/v1/products/search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		common.WriteError(w, common.BadRequest("QUERY_REQUIRED", "q is required", nil))
		return
	}
	if len(q) > 200 {
		common.WriteError(w, common.BadRequest("QUERY_TOO_LONG", "q must be at most 200 characters", nil))
		return
	}
	page := common.ParsePage(r, 20, 100)
	result, err := h.service.Search(r.Context(), q, page.Limit, page.Offset())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("X-Search-Engine", result.Engine)
	common.JSON(w, http.StatusOK, map[string]any{
		"data": result.Items,
		"meta": common.PageMeta{Page: page.Page, Limit: page.Limit, Total: result.Total},
	})
}

// Product handles GET /api/v1/products/{id}.
func (h *Handler) Product(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		common.WriteError(w, common.BadRequest("INVALID_ID", "product id must be a uuid", err))
		return
	}
	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = common.NotFound("NOT_FOUND", "product not found", err)
		}
		common.WriteError(w, err)
		return
	}
	common.Data(w, http.StatusOK, p)
}
