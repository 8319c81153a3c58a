package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/middleware"
)

// BooksHandler exposes CRUD over entity.Book.
type BooksHandler struct {
	store  *entity.Store
	logger zerolog.Logger
}

func NewBooksHandler(store *entity.Store, logger zerolog.Logger) *BooksHandler {
	return &BooksHandler{store: store, logger: logger.With().Str("component", "books-handler").Logger()}
}

type createBookRequest struct {
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	Currency           string          `json:"currency"`
	LockedExchangeRate decimal.Decimal `json:"locked_exchange_rate"`
	TargetCurrency     string          `json:"target_currency"`
}

func (h *BooksHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req createBookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "message": err.Error()})
		return
	}

	book, err := h.store.CreateBook(userID, entity.CreateBookInput{
		Name:               req.Name,
		Description:        req.Description,
		Currency:           req.Currency,
		LockedExchangeRate: req.LockedExchangeRate,
		TargetCurrency:     req.TargetCurrency,
	}, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, book)
}

func (h *BooksHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"
	books := h.store.ListBooks(userID, includeDeleted, false)
	writeJSON(w, http.StatusOK, books)
}

func (h *BooksHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := entity.BookID(chi.URLParam(r, "id"))
	book, ok := h.store.GetBook(userID, id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "book not found"})
		return
	}
	writeJSON(w, http.StatusOK, book)
}

type updateBookRequest struct {
	Name                  *string          `json:"name"`
	Description           *string          `json:"description"`
	NewLockedExchangeRate *decimal.Decimal `json:"new_locked_exchange_rate"`
	NewTargetCurrency     *string          `json:"new_target_currency"`
}

func (h *BooksHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := entity.BookID(chi.URLParam(r, "id"))
	var req updateBookRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "message": err.Error()})
		return
	}

	book, err := h.store.UpdateBook(r.Context(), userID, id, entity.UpdateBookPatch{
		Name:                  req.Name,
		Description:           req.Description,
		NewLockedExchangeRate: req.NewLockedExchangeRate,
		NewTargetCurrency:     req.NewTargetCurrency,
	}, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *BooksHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, true)
}

func (h *BooksHandler) Unarchive(w http.ResponseWriter, r *http.Request) {
	h.setArchived(w, r, false)
}

func (h *BooksHandler) setArchived(w http.ResponseWriter, r *http.Request, archived bool) {
	userID := middleware.GetUserID(r.Context())
	id := entity.BookID(chi.URLParam(r, "id"))

	var book *entity.Book
	var err error
	if archived {
		book, err = h.store.ArchiveBook(userID, id, userID)
	} else {
		book, err = h.store.UnarchiveBook(userID, id, userID)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (h *BooksHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := entity.BookID(chi.URLParam(r, "id"))
	if err := h.store.DeleteBook(userID, id, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
