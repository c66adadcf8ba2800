package v1

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// ProjectHandler handles User API requests for project management. Projects
// are the scoping boundary: hash lists and campaigns belong to a project,
// and agents only serve projects they are assigned to.
type ProjectHandler struct {
	projectRepo *repository.ProjectRepository
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(projectRepo *repository.ProjectRepository) *ProjectHandler {
	return &ProjectHandler{projectRepo: projectRepo}
}

// ProjectRequest represents the request body for creating or updating a project
type ProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateUserRequest represents the request body for creating a user account
type CreateUserRequest struct {
	Username string `json:"username"`
}

// parseProjectID extracts and validates the numeric project ID from the route.
func parseProjectID(w http.ResponseWriter, r *http.Request) (int, bool) {
	vars := mux.Vars(r)
	id, err := strconv.Atoi(vars["id"])
	if err != nil {
		sendAPIError(w, "Invalid project ID", "VALIDATION_ERROR", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// CreateProject handles POST /api/v1/projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req ProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request payload", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		sendAPIError(w, "Project name is required", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	project := &models.Project{
		Name:        req.Name,
		Description: req.Description,
	}
	if err := h.projectRepo.Create(r.Context(), project); err != nil {
		debug.Error("Failed to create project: %v", err)
		sendAPIError(w, "Failed to create project", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	debug.Info("Created project %d (%s)", project.ID, project.Name)
	sendJSON(w, http.StatusCreated, project)
}

// ListProjects handles GET /api/v1/projects
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projectRepo.List(r.Context())
	if err != nil {
		debug.Error("Failed to list projects: %v", err)
		sendAPIError(w, "Failed to retrieve projects", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, map[string]interface{}{
		"projects": projects,
		"total":    len(projects),
	})
}

// GetProject handles GET /api/v1/projects/{id}
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseProjectID(w, r)
	if !ok {
		return
	}

	project, err := h.projectRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Project not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to get project %d: %v", id, err)
		sendAPIError(w, "Failed to retrieve project", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, project)
}

// UpdateProject handles PUT /api/v1/projects/{id}
func (h *ProjectHandler) UpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseProjectID(w, r)
	if !ok {
		return
	}

	var req ProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request payload", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		sendAPIError(w, "Project name is required", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	project, err := h.projectRepo.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Project not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to get project %d: %v", id, err)
		sendAPIError(w, "Failed to retrieve project", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	project.Name = req.Name
	project.Description = req.Description
	if err := h.projectRepo.Update(r.Context(), project); err != nil {
		debug.Error("Failed to update project %d: %v", id, err)
		sendAPIError(w, "Failed to update project", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, project)
}

// DeleteProject handles DELETE /api/v1/projects/{id}
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	id, ok := parseProjectID(w, r)
	if !ok {
		return
	}

	if err := h.projectRepo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "Project not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to delete project %d: %v", id, err)
		sendAPIError(w, "Failed to delete project", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	debug.Info("Deleted project %d", id)
	w.WriteHeader(http.StatusNoContent)
}

// CreateUser handles POST /api/v1/users
//
// Users exist so agents have an owner; account policy beyond that lives
// outside this service.
func (h *ProjectHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendAPIError(w, "Invalid request payload", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}
	if req.Username == "" {
		sendAPIError(w, "Username is required", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	if _, err := h.projectRepo.GetUserByUsername(r.Context(), req.Username); err == nil {
		sendAPIError(w, "Username is already taken", "USER_EXISTS", http.StatusConflict)
		return
	} else if !errors.Is(err, repository.ErrNotFound) {
		debug.Error("Failed to check username %q: %v", req.Username, err)
		sendAPIError(w, "Failed to create user", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	user := &models.User{Username: req.Username}
	if err := h.projectRepo.CreateUser(r.Context(), user); err != nil {
		debug.Error("Failed to create user %q: %v", req.Username, err)
		sendAPIError(w, "Failed to create user", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	debug.Info("Created user %s (%s)", user.ID, user.Username)
	sendJSON(w, http.StatusCreated, user)
}

// GetUser handles GET /api/v1/users/{id}
func (h *ProjectHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		sendAPIError(w, "Invalid user ID", "VALIDATION_ERROR", http.StatusBadRequest)
		return
	}

	user, err := h.projectRepo.GetUserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sendAPIError(w, "User not found", "RESOURCE_NOT_FOUND", http.StatusNotFound)
			return
		}
		debug.Error("Failed to get user %s: %v", id, err)
		sendAPIError(w, "Failed to retrieve user", "INTERNAL_ERROR", http.StatusInternalServerError)
		return
	}

	sendJSON(w, http.StatusOK, user)
}
