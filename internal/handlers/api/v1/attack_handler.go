package v1

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// AttackHandler handles User API requests for attack management
type AttackHandler struct {
	attackService *services.AttackService
}

// NewAttackHandler creates a new attack handler
func NewAttackHandler(attackService *services.AttackService) *AttackHandler {
	return &AttackHandler{attackService: attackService}
}

// AttackRequest represents the request body for creating or replacing an
// attack. List references are plain UUID strings; empty means unset.
type AttackRequest struct {
	CampaignID string `json:"campaign_id,omitempty"`
	Name       string `json:"name"`
	Mode       string `json:"mode"`
	Position   int    `json:"position"`

	WordListID *string `json:"word_list_id,omitempty"`
	RuleListID *string `json:"rule_list_id,omitempty"`
	MaskListID *string `json:"mask_list_id,omitempty"`
	Mask       string  `json:"mask,omitempty"`

	CustomCharset1 string `json:"custom_charset_1,omitempty"`
	CustomCharset2 string `json:"custom_charset_2,omitempty"`
	CustomCharset3 string `json:"custom_charset_3,omitempty"`
	CustomCharset4 string `json:"custom_charset_4,omitempty"`

	IncrementMode    bool `json:"increment_mode,omitempty"`
	IncrementMinimum int  `json:"increment_minimum,omitempty"`
	IncrementMaximum int  `json:"increment_maximum,omitempty"`

	Optimized               bool `json:"optimized,omitempty"`
	SlowCandidateGenerators bool `json:"slow_candidate_generators,omitempty"`
	WorkloadProfile         int  `json:"workload_profile,omitempty"`
	DisableMarkov           bool `json:"disable_markov,omitempty"`
	ClassicMarkov           bool `json:"classic_markov,omitempty"`
	MarkovThreshold         int  `json:"markov_threshold,omitempty"`
}

// parseAttackID extracts and validates the attack UUID from the route.
func parseAttackID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		sendAPIError(w, "Invalid attack ID format", "VALIDATION_ERROR", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// listRef converts an optional UUID string into the nullable column form.
func listRef(w http.ResponseWriter, field string, value *string) (sql.NullString, bool) {
	if value == nil || *value == "" {
		return sql.NullString{}, true
	}
	if _, err := uuid.Parse(*value); err != nil {
		sendAPIError(w, fmt.Sprintf("Invalid %s, expected a UUID", field), "VALIDATION_ERROR", http.StatusBadRequest)
		return sql.NullString{}, false
	}
	return sql.NullString{String: *value, Valid: true}, true
}

// applyRequest copies the request fields onto an attack model.
func applyRequest(w http.ResponseWriter, attack *models.Attack, req *AttackRequest) bool {
	wordList, ok := listRef(w, "word_list_id", req.WordListID)
	if !ok {
		return false
	}
	ruleList, ok := listRef(w, "rule_list_id", req.RuleListID)
	if !ok {
		return false
	}
	maskList, ok := listRef(w, "mask_list_id", req.MaskListID)
	if !ok {
		return false
	}

	attack.Name = req.Name
	attack.Mode = models.AttackMode(req.Mode)
	attack.Position = req.Position
	attack.WordListID = wordList
	attack.RuleListID = ruleList
	attack.MaskListID = maskList
	attack.Mask = req.Mask
	attack.CustomCharset1 = req.CustomCharset1
	attack.CustomCharset2 = req.CustomCharset2
	attack.CustomCharset3 = req.CustomCharset3
	attack.CustomCharset4 = req.CustomCharset4
	attack.IncrementMode = req.IncrementMode
	attack.IncrementMinimum = req.IncrementMinimum
	attack.IncrementMaximum = req.IncrementMaximum
	attack.Optimized = req.Optimized
	attack.SlowCandidateGenerators = req.SlowCandidateGenerators
	attack.WorkloadProfile = req.WorkloadProfile
	attack.DisableMarkov = req.DisableMarkov
	attack.ClassicMarkov = req.ClassicMarkov
	attack.MarkovThreshold = req.MarkovThreshold
	return true
}

// CreateAttack handles POST /api/v1/attacks
func (h *AttackHandler) CreateAttack(w http.ResponseWriter, r *http.Request) {
	var req AttackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request payload", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	campaignID, err := uuid.Parse(req.CampaignID)
	if err != nil {
		sendAPIError(w, "Invalid campaign_id, expected a UUID", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	attack := &models.Attack{CampaignID: campaignID}
	if !applyRequest(w, attack, &req) {
		return
	}

	if err := h.attackService.Create(r.Context(), attack); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Campaign not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to create attack: %v", err)
		sendAPIError(w, fmt.Sprintf("Failed to create attack: %v", err), "ATTACK_CREATION_FAILED", http.StatusBadRequest)
		return
	}

	debug.Info("Created attack %s (%s) on campaign %s", attack.ID, attack.Mode, attack.CampaignID)
	sendJSON(w, http.StatusCreated, attack)
}

// ListAttacks handles GET /api/v1/campaigns/{id}/attacks
func (h *AttackHandler) ListAttacks(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCampaignID(w, r)
	if !ok {
		return
	}

	attacks, err := h.attackService.ListByCampaign(r.Context(), id)
	if err != nil {
		debug.Error("Failed to list attacks for campaign %s: %v", id, err)
		sendAPIError(w, "Failed to retrieve attacks", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"attacks": attacks,
		"total":   len(attacks),
	})
}

// GetAttack handles GET /api/v1/attacks/{id}
//
// The response pairs the attack with its running task so dashboards see
// who holds the keyspace without a second round trip.
func (h *AttackHandler) GetAttack(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAttackID(w, r)
	if !ok {
		return
	}

	detail, err := h.attackService.Detail(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Attack not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to get attack %s: %v", id, err)
		sendAPIError(w, "Failed to retrieve attack", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, detail)
}

// UpdateAttack handles PUT /api/v1/attacks/{id}
//
// The configuration is replaced wholesale; the campaign binding is
// immutable. Editing a finished attack returns it to pending.
func (h *AttackHandler) UpdateAttack(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAttackID(w, r)
	if !ok {
		return
	}

	var req AttackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request payload", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	attack, err := h.attackService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Attack not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to load attack %s: %v", id, err)
		sendAPIError(w, "Failed to retrieve attack", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	if !applyRequest(w, attack, &req) {
		return
	}

	if err := h.attackService.Update(r.Context(), attack); err != nil {
		debug.Error("Failed to update attack %s: %v", id, err)
		sendAPIError(w, fmt.Sprintf("Failed to update attack: %v", err), "ATTACK_UPDATE_FAILED", http.StatusBadRequest)
		return
	}

	sendJSON(w, http.StatusOK, attack)
}

// transition runs one operator lifecycle verb against an attack.
func (h *AttackHandler) transition(w http.ResponseWriter, r *http.Request, verb string, apply func(*http.Request, uuid.UUID) (bool, error)) {
	id, ok := parseAttackID(w, r)
	if !ok {
		return
	}

	transitioned, err := apply(r, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Attack not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to %s attack %s: %v", verb, id, err)
		sendAPIError(w, fmt.Sprintf("Failed to %s attack", verb), "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]bool{"transitioned": transitioned})
}

// PauseAttack handles POST /api/v1/attacks/{id}/pause
func (h *AttackHandler) PauseAttack(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "pause", func(r *http.Request, id uuid.UUID) (bool, error) {
		return h.attackService.Pause(r.Context(), id)
	})
}

// ResumeAttack handles POST /api/v1/attacks/{id}/resume
func (h *AttackHandler) ResumeAttack(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "resume", func(r *http.Request, id uuid.UUID) (bool, error) {
		return h.attackService.Resume(r.Context(), id)
	})
}

// CancelAttack handles POST /api/v1/attacks/{id}/cancel
func (h *AttackHandler) CancelAttack(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel", func(r *http.Request, id uuid.UUID) (bool, error) {
		return h.attackService.Cancel(r.Context(), id)
	})
}

// ResetAttack handles POST /api/v1/attacks/{id}/reset
func (h *AttackHandler) ResetAttack(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "reset", func(r *http.Request, id uuid.UUID) (bool, error) {
		return h.attackService.Reset(r.Context(), id)
	})
}

// DeleteAttack handles DELETE /api/v1/attacks/{id}
func (h *AttackHandler) DeleteAttack(w http.ResponseWriter, r *http.Request) {
	id, ok := parseAttackID(w, r)
	if !ok {
		return
	}

	if err := h.attackService.Destroy(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Attack not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to delete attack %s: %v", id, err)
		sendAPIError(w, "Failed to delete attack", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	debug.Info("Deleted attack %s", id)
	w.WriteHeader(http.StatusNoContent)
}
