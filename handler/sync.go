package handler

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/ledgerflow/ledgercore/middleware"
	"github.com/ledgerflow/ledgercore/sync"
)

// SyncHandler drives the sync orchestrator and surfaces its conflict
// list over HTTP.
type SyncHandler struct {
	orch   *sync.Orchestrator
	logger zerolog.Logger
}

func NewSyncHandler(orch *sync.Orchestrator, logger zerolog.Logger) *SyncHandler {
	return &SyncHandler{orch: orch, logger: logger.With().Str("component", "sync-handler").Logger()}
}

// Trigger handles POST /v1/sync: runs one synchronous sync round for the
// authenticated user.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	status, err := h.orch.Sync(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Conflicts handles GET /v1/sync/conflicts: the outstanding field
// conflicts from the most recent sync round, awaiting user resolution.
func (h *SyncHandler) Conflicts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	writeJSON(w, http.StatusOK, h.orch.Conflicts(userID))
}

// ClearConflicts handles DELETE /v1/sync/conflicts: acknowledges the
// current conflict list (the cloud-wins values are already applied
// locally; this just dismisses the notice).
func (h *SyncHandler) ClearConflicts(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	h.orch.ClearConflicts(userID)
	w.WriteHeader(http.StatusNoContent)
}
