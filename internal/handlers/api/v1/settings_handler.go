package v1

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// SettingsHandler handles User API requests for runtime-tunable settings.
// Sweeps and the scheduler read these on every pass, so changes take effect
// without a restart.
type SettingsHandler struct {
	settingsRepo *repository.SystemSettingsRepository
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settingsRepo *repository.SystemSettingsRepository) *SettingsHandler {
	return &SettingsHandler{settingsRepo: settingsRepo}
}

// UpdateSettingRequest represents the request body for updating a setting
type UpdateSettingRequest struct {
	Value string `json:"value"`
}

// ListSettings handles GET /api/v1/settings
func (h *SettingsHandler) ListSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settingsRepo.List(r.Context())
	if err != nil {
		debug.Error("Failed to list settings: %v", err)
		sendAPIError(w, "Failed to retrieve settings", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"settings": settings,
		"total":    len(settings),
	})
}

// UpdateSetting handles PUT /api/v1/settings/{key}
func (h *SettingsHandler) UpdateSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if key == "" {
		sendAPIError(w, "Setting key is required", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	var req UpdateSettingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request payload", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	if err := h.settingsRepo.Set(r.Context(), key, req.Value); err != nil {
		debug.Error("Failed to set setting %q: %v", key, err)
		sendAPIError(w, "Failed to update setting", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	debug.Info("Setting %q updated to %q", key, req.Value)
	sendJSON(w, http.StatusOK, map[string]string{
		"key":   key,
		"value": req.Value,
	})
}
