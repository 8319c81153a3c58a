package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/middleware"
)

// CategoriesHandler exposes CRUD over entity.Category.
type CategoriesHandler struct {
	store  *entity.Store
	logger zerolog.Logger
}

func NewCategoriesHandler(store *entity.Store, logger zerolog.Logger) *CategoriesHandler {
	return &CategoriesHandler{store: store, logger: logger.With().Str("component", "categories-handler").Logger()}
}

type createCategoryRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Icon        string `json:"icon"`
}

func (h *CategoriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req createCategoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "message": err.Error()})
		return
	}

	cat, err := h.store.CreateCategory(userID, entity.CreateCategoryInput{
		Name:        req.Name,
		Description: req.Description,
		Color:       req.Color,
		Icon:        req.Icon,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, cat)
}

func (h *CategoriesHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	h.store.EnsureDefaultCategory(userID)
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	writeJSON(w, http.StatusOK, h.store.ListCategories(userID, includeDeleted))
}

func (h *CategoriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := entity.CategoryID(chi.URLParam(r, "id"))
	cat, ok := h.store.GetCategory(userID, id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "category not found"})
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

func (h *CategoriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := entity.CategoryID(chi.URLParam(r, "id"))
	if err := h.store.DeleteCategory(userID, id, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
