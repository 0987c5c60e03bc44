package handler

import (
	"context"
	"net/http"

	"github.com/ecucondorSA/autorenta-payments/internal/logging"
)

type reconcileRunner interface {
	RunOnce(ctx context.Context) error
}

// ReconcileHandler exposes an on-demand sweep for operators, the same pass the
// background ticker runs.
type ReconcileHandler struct {
	reconciler reconcileRunner
}

func NewReconcileHandler(reconciler reconcileRunner) *ReconcileHandler {
	return &ReconcileHandler{reconciler: reconciler}
}

func (h *ReconcileHandler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	if err := h.reconciler.RunOnce(r.Context()); err != nil {
		log.Error("manual reconcile failed", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}
	RespondSuccess(w, http.StatusOK, map[string]string{"status": "completed"})
}
