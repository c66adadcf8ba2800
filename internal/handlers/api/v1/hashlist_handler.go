package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/lib/pq"
	"github.com/mazrean/formstream"

	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// HashListHandler handles User API requests for hash list management
type HashListHandler struct {
	hashListService *services.HashListService
}

// NewHashListHandler creates a new hash list handler
func NewHashListHandler(hashListService *services.HashListService) *HashListHandler {
	return &HashListHandler{hashListService: hashListService}
}

// CreateHashListRequest represents the request body for creating a hash list
type CreateHashListRequest struct {
	Name      string `json:"name"`
	ProjectID int    `json:"project_id"`
	HashType  int    `json:"hash_type"`
	Separator string `json:"separator,omitempty"`
}

// parseHashListID extracts and validates the hash list ID from the route.
func parseHashListID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	vars := mux.Vars(r)
	id, err := strconv.ParseInt(vars["id"], 10, 64)
	if err != nil {
		sendAPIError(w, "Invalid hash list ID", "VALIDATION_ERROR", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// CreateHashList handles POST /api/v1/hashlists
func (h *HashListHandler) CreateHashList(w http.ResponseWriter, r *http.Request) {
	var req CreateHashListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request payload", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	hashList := &models.HashList{
		Name:      req.Name,
		ProjectID: req.ProjectID,
		HashType:  req.HashType,
		Separator: req.Separator,
	}
	if err := h.hashListService.Create(r.Context(), hashList); err != nil {
		debug.Error("Failed to create hash list: %v", err)
		sendAPIError(w, fmt.Sprintf("Failed to create hash list: %v", err), "HASHLIST_CREATION_FAILED", http.StatusBadRequest)
		return
	}

	debug.Info("Created hash list %d (%s)", hashList.ID, hashList.Name)
	sendJSON(w, http.StatusCreated, hashList)
}

// ListHashLists handles GET /api/v1/hashlists?project_id=N
func (h *HashListHandler) ListHashLists(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.Atoi(r.URL.Query().Get("project_id"))
	if err != nil {
		sendAPIError(w, "project_id query parameter is required", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	hashLists, err := h.hashListService.ListByProject(r.Context(), projectID)
	if err != nil {
		debug.Error("Failed to list hash lists for project %d: %v", projectID, err)
		sendAPIError(w, "Failed to retrieve hash lists", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"hash_lists": hashLists,
		"total":      len(hashLists),
	})
}

// GetHashList handles GET /api/v1/hashlists/{id}
func (h *HashListHandler) GetHashList(w http.ResponseWriter, r *http.Request) {
	id, ok := parseHashListID(w, r)
	if !ok {
		return
	}

	hashList, err := h.hashListService.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Hash list not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to get hash list %d: %v", id, err)
		sendAPIError(w, "Failed to retrieve hash list", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, hashList)
}

// UploadHashes handles POST /api/v1/hashlists/{id}/upload
//
// Accepts either a multipart form with a "file" part or a raw text body.
// The multipart path streams the part straight into the importer, so list
// size is bounded by the database and not by server memory.
func (h *HashListHandler) UploadHashes(w http.ResponseWriter, r *http.Request) {
	id, ok := parseHashListID(w, r)
	if !ok {
		return
	}

	mediaType, params, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var stats *services.ImportStats
	var importErr error
	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			sendAPIError(w, "Multipart request is missing a boundary", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}

		parser := formstream.NewParser(boundary)
		if err := parser.Register("file", func(part io.Reader, header formstream.Header) error {
			imported, err := h.hashListService.Import(r.Context(), id, part)
			if err != nil {
				return err
			}
			stats = imported
			debug.Debug("Imported hash list %d from upload %q", id, header.FileName())
			return nil
		}); err != nil {
			debug.Error("Failed to register upload part handler: %v", err)
			sendAPIError(w, "Failed to process upload", "INTERNAL_ERROR", http.StatusInternalServerError)
			return
		}

		if err := parser.Parse(r.Body); err != nil {
			importErr = err
		} else if stats == nil {
			sendAPIError(w, "Multipart upload must include a \"file\" part", "VALIDATION_ERROR", http.StatusBadRequest)
			return
		}
	} else {
		stats, importErr = h.hashListService.Import(r.Context(), id, r.Body)
	}

	if importErr != nil {
		if errors.Is(importErr, repository.ErrNotFound) {
			sendAPIError(w, "Hash list not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to import hash list %d: %v", id, importErr)
		sendAPIError(w, fmt.Sprintf("Failed to import hashes: %v", importErr), "HASHLIST_IMPORT_FAILED", http.StatusBadRequest)
		return
	}

	sendJSON(w, http.StatusOK, stats)
}

// ListHashItems handles GET /api/v1/hashlists/{id}/items?limit=100&offset=0
func (h *HashListHandler) ListHashItems(w http.ResponseWriter, r *http.Request) {
	id, ok := parseHashListID(w, r)
	if !ok {
		return
	}

	limit := 100
	offset := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	items, total, err := h.hashListService.ListItems(r.Context(), id, limit, offset)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Hash list not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to list items for hash list %d: %v", id, err)
		sendAPIError(w, "Failed to retrieve hash items", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"items":  items,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// ResyncHashList handles POST /api/v1/hashlists/{id}/resync
//
// Queues a recount of the cracked counter from the item rows. The counter
// is maintained transactionally during ingestion, so this is a repair
// action, not part of normal operation.
func (h *HashListHandler) ResyncHashList(w http.ResponseWriter, r *http.Request) {
	id, ok := parseHashListID(w, r)
	if !ok {
		return
	}

	if err := h.hashListService.Resync(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Hash list not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to queue resync for hash list %d: %v", id, err)
		sendAPIError(w, "Failed to queue resync", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// DeleteHashList handles DELETE /api/v1/hashlists/{id}
func (h *HashListHandler) DeleteHashList(w http.ResponseWriter, r *http.Request) {
	id, ok := parseHashListID(w, r)
	if !ok {
		return
	}

	if err := h.hashListService.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Hash list not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" { // foreign_key_violation
			sendAPIError(w, "Hash list is referenced by a campaign", "RESOURCE_IN_USE", http.StatusConflict)
			return
		}
		debug.Error("Failed to delete hash list %d: %v", id, err)
		sendAPIError(w, "Failed to delete hash list", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	debug.Info("Deleted hash list %d", id)
	w.WriteHeader(http.StatusNoContent)
}
