package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/middleware"
)

// EntriesHandler exposes CRUD over entity.Entry.
type EntriesHandler struct {
	store  *entity.Store
	logger zerolog.Logger
}

func NewEntriesHandler(store *entity.Store, logger zerolog.Logger) *EntriesHandler {
	return &EntriesHandler{store: store, logger: logger.With().Str("component", "entries-handler").Logger()}
}

type createEntryRequest struct {
	BookID      entity.BookID     `json:"book_id"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	CategoryID  entity.CategoryID `json:"category_id"`
	Party       string            `json:"party"`
	PaymentMode entity.PaymentMode `json:"payment_mode"`
	Date        time.Time         `json:"date"`
	Remarks     string            `json:"remarks"`
}

func (h *EntriesHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req createEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "message": err.Error()})
		return
	}

	entry, err := h.store.CreateEntry(r.Context(), userID, entity.CreateEntryInput{
		BookID:      req.BookID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		CategoryID:  req.CategoryID,
		Party:       req.Party,
		PaymentMode: req.PaymentMode,
		Date:        req.Date,
		Remarks:     req.Remarks,
	}, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *EntriesHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	includeDeleted := r.URL.Query().Get("include_deleted") == "true"

	var bookIDFilter *entity.BookID
	if raw := r.URL.Query().Get("book_id"); raw != "" {
		id := entity.BookID(raw)
		bookIDFilter = &id
	}

	entries := h.store.ListEntries(userID, bookIDFilter, includeDeleted)
	writeJSON(w, http.StatusOK, entries)
}

func (h *EntriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := entity.EntryID(chi.URLParam(r, "id"))
	entry, ok := h.store.GetEntry(userID, id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "entry not found"})
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type updateEntryRequest struct {
	Amount      *decimal.Decimal    `json:"amount"`
	CategoryID  *entity.CategoryID  `json:"category_id"`
	Party       *string             `json:"party"`
	PaymentMode *entity.PaymentMode `json:"payment_mode"`
	Date        *time.Time          `json:"date"`
	Remarks     *string             `json:"remarks"`
}

func (h *EntriesHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := entity.EntryID(chi.URLParam(r, "id"))
	var req updateEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "message": err.Error()})
		return
	}

	entry, err := h.store.UpdateEntry(r.Context(), userID, id, entity.UpdateEntryPatch{
		Amount:      req.Amount,
		CategoryID:  req.CategoryID,
		Party:       req.Party,
		PaymentMode: req.PaymentMode,
		Date:        req.Date,
		Remarks:     req.Remarks,
	}, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type moveEntryRequest struct {
	TargetBookID entity.BookID `json:"target_book_id"`
}

func (h *EntriesHandler) Move(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := entity.EntryID(chi.URLParam(r, "id"))
	var req moveEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "message": err.Error()})
		return
	}

	entry, err := h.store.MoveEntry(r.Context(), userID, id, req.TargetBookID, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *EntriesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := entity.EntryID(chi.URLParam(r, "id"))
	if err := h.store.DeleteEntry(userID, id, userID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
