package diagnostics

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dravenops/hashhive/backend/internal/services/diagnostic"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// DiagnosticHandler handles diagnostic-related requests
type DiagnosticHandler struct {
	diagnosticService *diagnostic.DiagnosticService
}

// NewDiagnosticHandler creates a new diagnostic handler
func NewDiagnosticHandler(diagnosticService *diagnostic.DiagnosticService) *DiagnosticHandler {
	return &DiagnosticHandler{diagnosticService: diagnosticService}
}

// DownloadDiagnostics handles requests to download a diagnostic package
// GET /api/admin/diagnostics/download?include_database=true
func (h *DiagnosticHandler) DownloadDiagnostics(w http.ResponseWriter, r *http.Request) {
	debug.Info("Diagnostic download requested")

	// The database export carries redacted table contents; skipping it keeps
	// the package to runtime state only.
	includeDatabase := r.URL.Query().Get("include_database") == "true"

	zipData, err := h.diagnosticService.Package(r.Context(), includeDatabase)
	if err != nil {
		debug.Error("Failed to generate diagnostic package: %v", err)
		http.Error(w, "Failed to generate diagnostic package: "+err.Error(), http.StatusInternalServerError)
		return
	}

	filename := fmt.Sprintf("hashhive-diagnostics-%s.zip", time.Now().Format("20060102-150405"))

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(zipData)))

	if _, err := w.Write(zipData); err != nil {
		debug.Error("Failed to write diagnostic package: %v", err)
		return
	}

	debug.Info("Diagnostic package downloaded: %s (%d bytes)", filename, len(zipData))
}

// GetSystemInfo returns system diagnostic information (lightweight, for page display)
// GET /api/admin/diagnostics/system-info
func (h *DiagnosticHandler) GetSystemInfo(w http.ResponseWriter, r *http.Request) {
	sysInfo, err := h.diagnosticService.SystemInfo(r.Context())
	if err != nil {
		debug.Error("Failed to collect system info: %v", err)
		http.Error(w, "Failed to collect system info: "+err.Error(), http.StatusInternalServerError)
		return
	}

	response := map[string]interface{}{
		"system_info":  sysInfo,
		"generated_at": time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// GetServerDebugStatus returns the current server debug configuration
// GET /api/admin/diagnostics/debug
func (h *DiagnosticHandler) GetServerDebugStatus(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"enabled": debug.IsDebugEnabled(),
		"level":   debug.GetLogLevelName(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ToggleServerDebug toggles server debug mode
// POST /api/admin/diagnostics/debug
func (h *DiagnosticHandler) ToggleServerDebug(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enable bool   `json:"enable"`
		Level  string `json:"level,omitempty"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// Apply changes immediately (hot-reload)
	debug.SetEnabled(req.Enable)
	if req.Level != "" {
		if level, ok := debug.ParseLevel(req.Level); ok {
			debug.SetLogLevel(level)
		}
	}

	if req.Enable {
		debug.Info("Server debug mode enabled via admin panel, level: %s", debug.GetLogLevelName())
	}

	response := map[string]interface{}{
		"success": true,
		"enabled": debug.IsDebugEnabled(),
		"level":   debug.GetLogLevelName(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
