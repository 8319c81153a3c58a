package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ledgerflow/ledgercore/classifier"
	"github.com/ledgerflow/ledgercore/entity"
	"github.com/ledgerflow/ledgercore/middleware"
)

func decimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// IngestHandler classifies incoming transactions and manages the
// local-only pending-approval queue.
type IngestHandler struct {
	classifier *classifier.Classifier
	pending    *entity.PendingQueue
	logger     zerolog.Logger
}

func NewIngestHandler(c *classifier.Classifier, pending *entity.PendingQueue, logger zerolog.Logger) *IngestHandler {
	return &IngestHandler{classifier: c, pending: pending, logger: logger.With().Str("component", "ingest-handler").Logger()}
}

type ingestRequest struct {
	Amount      float64            `json:"amount"`
	Description string             `json:"description"`
	Date        time.Time          `json:"date"`
	Currency    string             `json:"currency"`
	Source      entity.IngestSource `json:"source"`
}

// Classify handles POST /v1/ingest: classifies a parsed transaction and
// enqueues it for user approval.
func (h *IngestHandler) Classify(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req ingestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "message": err.Error()})
		return
	}

	txn := classifier.Transaction{
		Amount:      req.Amount,
		Description: req.Description,
		Date:        req.Date,
		Currency:    req.Currency,
		Source:      req.Source,
	}

	pred, err := h.classifier.Classify(r.Context(), userID, txn)
	if err != nil {
		writeError(w, err)
		return
	}

	stored := h.pending.Enqueue(entity.PendingTransaction{
		UserID:      userID,
		Amount:      decimalFromFloat(req.Amount),
		Description: req.Description,
		Date:        req.Date,
		Currency:    req.Currency,
		Source:      req.Source,
		Prediction:  pred,
		CreatedAt:   time.Now().UTC(),
	})
	writeJSON(w, http.StatusCreated, stored)
}

// List handles GET /v1/ingest/pending.
func (h *IngestHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	writeJSON(w, http.StatusOK, h.pending.List(userID))
}

type approveRequest struct {
	BookID      entity.BookID       `json:"book_id"`
	CategoryID  entity.CategoryID   `json:"category_id"`
	PaymentMode entity.PaymentMode  `json:"payment_mode"`
}

// Approve handles POST /v1/ingest/pending/{id}/approve: feeds the
// (possibly user-corrected) prediction back into the classifier's
// learning loop and removes the pending transaction. It does not create
// an entry in the store.
func (h *IngestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")

	txn, ok := h.pending.Get(userID, id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "pending transaction not found"})
		return
	}

	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "validation", "message": err.Error()})
		return
	}

	h.classifier.RecordApproval(classifier.Transaction{
		Amount:      txn.Amount.InexactFloat64(),
		Description: txn.Description,
		Date:        txn.Date,
		Currency:    txn.Currency,
		Source:      txn.Source,
	}, req.BookID, req.CategoryID)

	h.pending.Remove(userID, id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

// Reject handles POST /v1/ingest/pending/{id}/reject.
func (h *IngestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id := chi.URLParam(r, "id")

	txn, ok := h.pending.Get(userID, id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "pending transaction not found"})
		return
	}

	h.classifier.RecordRejection(classifier.Transaction{
		Amount:      txn.Amount.InexactFloat64(),
		Description: txn.Description,
		Date:        txn.Date,
		Currency:    txn.Currency,
		Source:      txn.Source,
	})

	h.pending.Remove(userID, id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "rejected"})
}
