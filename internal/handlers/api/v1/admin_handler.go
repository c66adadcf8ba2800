package v1

import (
	"net/http"

	"github.com/dravenops/hashhive/backend/internal/services"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// AdminHandler exposes operational triggers that otherwise only run on the
// cron schedule.
type AdminHandler struct {
	preemptionService *services.PreemptionService
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(preemptionService *services.PreemptionService) *AdminHandler {
	return &AdminHandler{preemptionService: preemptionService}
}

// RunPreemptionSweep handles POST /api/v1/sweeps/preemption. It runs one
// priority preemption pass immediately instead of waiting for the next
// scheduled interval and reports how many tasks were preempted.
func (h *AdminHandler) RunPreemptionSweep(w http.ResponseWriter, r *http.Request) {
	preempted, err := h.preemptionService.Sweep(r.Context())
	if err != nil {
		debug.Error("Manual preemption sweep failed: %v", err)
		sendAPIError(w, "Preemption sweep failed", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"preempted": preempted,
	})
}
