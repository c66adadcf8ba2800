package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/lib/pq"

	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/utils"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// ResourceHandler handles User API requests for the attack resource
// catalog: word lists, rule lists and mask lists. Only metadata is kept
// server-side; agents fetch the files themselves from shared storage, so
// registration carries the name, file name and line count.
type ResourceHandler struct {
	resourceRepo *repository.ResourceRepository
}

// NewResourceHandler creates a new resource handler
func NewResourceHandler(resourceRepo *repository.ResourceRepository) *ResourceHandler {
	return &ResourceHandler{resourceRepo: resourceRepo}
}

// CreateResourceRequest registers a resource file. For mask lists the
// masks themselves may be supplied instead of a precomputed complexity;
// the keyspace is then summed server-side.
type CreateResourceRequest struct {
	Name            string   `json:"name"`
	FileName        string   `json:"file_name"`
	LineCount       int64    `json:"line_count"`
	ComplexityValue float64  `json:"complexity_value,omitempty"`
	Masks           []string `json:"masks,omitempty"`
}

func (req *CreateResourceRequest) toResource() (*models.ResourceFile, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if req.LineCount < 0 {
		return nil, fmt.Errorf("line_count cannot be negative")
	}
	return &models.ResourceFile{
		Name:            req.Name,
		FileName:        req.FileName,
		LineCount:       req.LineCount,
		ComplexityValue: req.ComplexityValue,
	}, nil
}

func parseResourceID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		sendAPIError(w, "Invalid resource ID", "INVALID_RESOURCE_ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *ResourceHandler) create(w http.ResponseWriter, r *http.Request, insert func(*models.ResourceFile) error) {
	var req CreateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	resource, err := req.toResource()
	if err != nil {
		sendAPIError(w, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	if err := insert(resource); err != nil {
		debug.Error("Failed to create resource %q: %v", req.Name, err)
		sendAPIError(w, "Failed to create resource", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	sendJSON(w, http.StatusCreated, resource)
}

func (h *ResourceHandler) list(w http.ResponseWriter, fetch func() ([]*models.ResourceFile, error)) {
	resources, err := fetch()
	if err != nil {
		debug.Error("Failed to list resources: %v", err)
		sendAPIError(w, "Failed to retrieve resources", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	sendJSON(w, http.StatusOK, map[string]interface{}{
		"resources": resources,
		"total":     len(resources),
	})
}

func (h *ResourceHandler) get(w http.ResponseWriter, r *http.Request, fetch func(uuid.UUID) (*models.ResourceFile, error)) {
	id, ok := parseResourceID(w, r)
	if !ok {
		return
	}
	resource, err := fetch(id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Resource not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to get resource %s: %v", id, err)
		sendAPIError(w, "Failed to retrieve resource", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	sendJSON(w, http.StatusOK, resource)
}

// UpdateResourceCountRequest refreshes a resource's line count after its
// file changed on shared storage.
type UpdateResourceCountRequest struct {
	LineCount int64 `json:"line_count"`
}

func (h *ResourceHandler) updateCount(w http.ResponseWriter, r *http.Request, update func(uuid.UUID, int64) error) {
	id, ok := parseResourceID(w, r)
	if !ok {
		return
	}
	var req UpdateResourceCountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	if req.LineCount < 0 {
		sendAPIError(w, "line_count cannot be negative", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	if err := update(id, req.LineCount); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Resource not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to update resource %s: %v", id, err)
		sendAPIError(w, "Failed to update resource", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ResourceHandler) delete(w http.ResponseWriter, r *http.Request, remove func(uuid.UUID) error) {
	id, ok := parseResourceID(w, r)
	if !ok {
		return
	}
	if err := remove(id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Resource not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" { // foreign_key_violation
			sendAPIError(w, "Resource is referenced by an attack", "RESOURCE_IN_USE", http.StatusConflict)
			return
		}
		debug.Error("Failed to delete resource %s: %v", id, err)
		sendAPIError(w, "Failed to delete resource", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateWordList handles POST /api/v1/wordlists
func (h *ResourceHandler) CreateWordList(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, func(resource *models.ResourceFile) error {
		return h.resourceRepo.CreateWordList(r.Context(), resource)
	})
}

// ListWordLists handles GET /api/v1/wordlists
func (h *ResourceHandler) ListWordLists(w http.ResponseWriter, r *http.Request) {
	h.list(w, func() ([]*models.ResourceFile, error) {
		return h.resourceRepo.ListWordLists(r.Context())
	})
}

// GetWordList handles GET /api/v1/wordlists/{id}
func (h *ResourceHandler) GetWordList(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, func(id uuid.UUID) (*models.ResourceFile, error) {
		return h.resourceRepo.GetWordList(r.Context(), id)
	})
}

// UpdateWordListCount handles PATCH /api/v1/wordlists/{id}
func (h *ResourceHandler) UpdateWordListCount(w http.ResponseWriter, r *http.Request) {
	h.updateCount(w, r, func(id uuid.UUID, count int64) error {
		return h.resourceRepo.UpdateWordListCount(r.Context(), id, count)
	})
}

// DeleteWordList handles DELETE /api/v1/wordlists/{id}
func (h *ResourceHandler) DeleteWordList(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, func(id uuid.UUID) error {
		return h.resourceRepo.DeleteWordList(r.Context(), id)
	})
}

// CreateRuleList handles POST /api/v1/rulelists
func (h *ResourceHandler) CreateRuleList(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, func(resource *models.ResourceFile) error {
		return h.resourceRepo.CreateRuleList(r.Context(), resource)
	})
}

// ListRuleLists handles GET /api/v1/rulelists
func (h *ResourceHandler) ListRuleLists(w http.ResponseWriter, r *http.Request) {
	h.list(w, func() ([]*models.ResourceFile, error) {
		return h.resourceRepo.ListRuleLists(r.Context())
	})
}

// GetRuleList handles GET /api/v1/rulelists/{id}
func (h *ResourceHandler) GetRuleList(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, func(id uuid.UUID) (*models.ResourceFile, error) {
		return h.resourceRepo.GetRuleList(r.Context(), id)
	})
}

// UpdateRuleListCount handles PATCH /api/v1/rulelists/{id}
func (h *ResourceHandler) UpdateRuleListCount(w http.ResponseWriter, r *http.Request) {
	h.updateCount(w, r, func(id uuid.UUID, count int64) error {
		return h.resourceRepo.UpdateRuleListCount(r.Context(), id, count)
	})
}

// DeleteRuleList handles DELETE /api/v1/rulelists/{id}
func (h *ResourceHandler) DeleteRuleList(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, func(id uuid.UUID) error {
		return h.resourceRepo.DeleteRuleList(r.Context(), id)
	})
}

// CreateMaskList handles POST /api/v1/masklists. When the request carries
// the masks, their summed keyspace becomes the list's complexity value,
// replacing whatever the caller precomputed.
func (h *ResourceHandler) CreateMaskList(w http.ResponseWriter, r *http.Request) {
	var req CreateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	resource, err := req.toResource()
	if err != nil {
		sendAPIError(w, err.Error(), "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	if len(req.Masks) > 0 {
		var total float64
		for _, mask := range req.Masks {
			if err := utils.ValidateMaskSyntax(mask); err != nil {
				sendAPIError(w, fmt.Sprintf("invalid mask %q: %v", mask, err), "VALIDATION_ERROR", http.StatusBadRequest)
				return
			}
			total += utils.MaskKeyspace(mask, [4]string{})
		}
		resource.ComplexityValue = total
		if resource.LineCount == 0 {
			resource.LineCount = int64(len(req.Masks))
		}
	}
	if err := h.resourceRepo.CreateMaskList(r.Context(), resource); err != nil {
		debug.Error("Failed to create mask list %q: %v", req.Name, err)
		sendAPIError(w, "Failed to create mask list", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	sendJSON(w, http.StatusCreated, resource)
}

// GetMaskList handles GET /api/v1/masklists/{id}
func (h *ResourceHandler) GetMaskList(w http.ResponseWriter, r *http.Request) {
	h.get(w, r, func(id uuid.UUID) (*models.ResourceFile, error) {
		return h.resourceRepo.GetMaskList(r.Context(), id)
	})
}

// UpdateMaskList handles PATCH /api/v1/masklists/{id}. Supplying masks
// recomputes the stored complexity along with the count.
func (h *ResourceHandler) UpdateMaskList(w http.ResponseWriter, r *http.Request) {
	id, ok := parseResourceID(w, r)
	if !ok {
		return
	}
	var req CreateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest)
		return
	}
	lineCount := req.LineCount
	complexity := req.ComplexityValue
	if len(req.Masks) > 0 {
		var total float64
		for _, mask := range req.Masks {
			if err := utils.ValidateMaskSyntax(mask); err != nil {
				sendAPIError(w, fmt.Sprintf("invalid mask %q: %v", mask, err), "VALIDATION_ERROR", http.StatusBadRequest)
				return
			}
			total += utils.MaskKeyspace(mask, [4]string{})
		}
		complexity = total
		if lineCount == 0 {
			lineCount = int64(len(req.Masks))
		}
	}
	if lineCount < 0 {
		sendAPIError(w, "line_count cannot be negative", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	if err := h.resourceRepo.UpdateMaskListStats(r.Context(), id, lineCount, complexity); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Resource not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to update mask list %s: %v", id, err)
		sendAPIError(w, "Failed to update mask list", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMaskLists handles GET /api/v1/masklists
func (h *ResourceHandler) ListMaskLists(w http.ResponseWriter, r *http.Request) {
	h.list(w, func() ([]*models.ResourceFile, error) {
		return h.resourceRepo.ListMaskLists(r.Context())
	})
}

// DeleteMaskList handles DELETE /api/v1/masklists/{id}
func (h *ResourceHandler) DeleteMaskList(w http.ResponseWriter, r *http.Request) {
	h.delete(w, r, func(id uuid.UUID) error {
		return h.resourceRepo.DeleteMaskList(r.Context(), id)
	})
}
