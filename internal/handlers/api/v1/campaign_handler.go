package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// CampaignHandler handles User API requests for campaign management
type CampaignHandler struct {
	campaignService *services.CampaignService
}

// NewCampaignHandler creates a new campaign handler
func NewCampaignHandler(campaignService *services.CampaignService) *CampaignHandler {
	return &CampaignHandler{campaignService: campaignService}
}

// CreateCampaignRequest represents the request body for creating a campaign
type CreateCampaignRequest struct {
	Name       string `json:"name"`
	ProjectID  int    `json:"project_id"`
	HashListID int64  `json:"hash_list_id"`
	Priority   string `json:"priority,omitempty"`
}

// UpdateCampaignRequest represents the request body for updating a campaign
type UpdateCampaignRequest struct {
	Name     *string `json:"name,omitempty"`
	Priority *string `json:"priority,omitempty"`
}

// parseCampaignID extracts and validates the campaign UUID from the route.
func parseCampaignID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	vars := mux.Vars(r)
	id, err := uuid.Parse(vars["id"])
	if err != nil {
		sendAPIError(w, "Invalid campaign ID format", "VALIDATION_ERROR", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// CreateCampaign handles POST /api/v1/campaigns
func (h *CampaignHandler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request payload", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	campaign := &models.Campaign{
		Name:       req.Name,
		ProjectID:  req.ProjectID,
		HashListID: req.HashListID,
		Priority:   models.CampaignPriority(req.Priority),
	}
	if err := h.campaignService.Create(r.Context(), campaign); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Hash list not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to create campaign: %v", err)
		sendAPIError(w, fmt.Sprintf("Failed to create campaign: %v", err), "CAMPAIGN_CREATION_FAILED", http.StatusBadRequest)
		return
	}

	debug.Info("Created campaign %s (%s)", campaign.ID, campaign.Name)
	sendJSON(w, http.StatusCreated, campaign)
}

// ListCampaigns handles GET /api/v1/campaigns?project_id=N
func (h *CampaignHandler) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.Atoi(r.URL.Query().Get("project_id"))
	if err != nil {
		sendAPIError(w, "project_id query parameter is required", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	campaigns, err := h.campaignService.ListByProject(r.Context(), projectID)
	if err != nil {
		debug.Error("Failed to list campaigns for project %d: %v", projectID, err)
		sendAPIError(w, "Failed to retrieve campaigns", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"campaigns": campaigns,
		"total":     len(campaigns),
	})
}

// GetCampaign handles GET /api/v1/campaigns/{id}
//
// The response is the campaign summary: the campaign row, its attacks, the
// running task count, completion and the ETA pair.
func (h *CampaignHandler) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCampaignID(w, r)
	if !ok {
		return
	}

	summary, err := h.campaignService.Summary(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Campaign not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to summarize campaign %s: %v", id, err)
		sendAPIError(w, "Failed to retrieve campaign", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, summary)
}

// UpdateCampaign handles PATCH /api/v1/campaigns/{id}
func (h *CampaignHandler) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCampaignID(w, r)
	if !ok {
		return
	}

	var req UpdateCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request payload", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	campaign, err := h.campaignService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Campaign not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to load campaign %s: %v", id, err)
		sendAPIError(w, "Failed to retrieve campaign", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	if req.Name != nil {
		campaign.Name = *req.Name
	}
	if req.Priority != nil {
		campaign.Priority = models.CampaignPriority(*req.Priority)
	}

	if err := h.campaignService.Update(r.Context(), campaign); err != nil {
		debug.Error("Failed to update campaign %s: %v", id, err)
		sendAPIError(w, fmt.Sprintf("Failed to update campaign: %v", err), "CAMPAIGN_UPDATE_FAILED", http.StatusBadRequest)
		return
	}

	sendJSON(w, http.StatusOK, campaign)
}

// PauseCampaign handles POST /api/v1/campaigns/{id}/pause
func (h *CampaignHandler) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCampaignID(w, r)
	if !ok {
		return
	}

	paused, err := h.campaignService.Pause(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Campaign not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to pause campaign %s: %v", id, err)
		sendAPIError(w, "Failed to pause campaign", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]int{"attacks_paused": paused})
}

// ResumeCampaign handles POST /api/v1/campaigns/{id}/resume
func (h *CampaignHandler) ResumeCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCampaignID(w, r)
	if !ok {
		return
	}

	resumed, err := h.campaignService.Resume(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Campaign not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to resume campaign %s: %v", id, err)
		sendAPIError(w, "Failed to resume campaign", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]int{"attacks_resumed": resumed})
}

// DeleteCampaign handles DELETE /api/v1/campaigns/{id}
//
// Deletion is soft: the campaign is paused, hidden from listings and later
// purged by the retention sweep.
func (h *CampaignHandler) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := parseCampaignID(w, r)
	if !ok {
		return
	}

	if err := h.campaignService.SoftDelete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Campaign not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to delete campaign %s: %v", id, err)
		sendAPIError(w, "Failed to delete campaign", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	debug.Info("Soft-deleted campaign %s", id)
	w.WriteHeader(http.StatusNoContent)
}
