package routes

import (
	"net/http"

	admindiagnostics "github.com/dravenops/hashhive/backend/internal/handlers/admin/diagnostics"
	"github.com/dravenops/hashhive/backend/internal/middleware"
	"github.com/dravenops/hashhive/backend/internal/services/diagnostic"
	"github.com/dravenops/hashhive/backend/pkg/debug"
	"github.com/gorilla/mux"
)

// SetupDiagnosticsRoutes configures the admin diagnostics routes.
// The frontend expects /api/admin/... paths, so the subrouter hangs off the
// root router rather than the v1 router.
func SetupDiagnosticsRoutes(router *mux.Router, diagnosticService *diagnostic.DiagnosticService) {
	debug.Debug("Setting up diagnostics routes")

	diagnosticHandler := admindiagnostics.NewDiagnosticHandler(diagnosticService)

	diagnosticsRouter := router.PathPrefix("/api/admin/diagnostics").Subrouter()
	diagnosticsRouter.Use(middleware.RequestLogging)

	// Download full diagnostic package
	diagnosticsRouter.HandleFunc("/download", diagnosticHandler.DownloadDiagnostics).Methods(http.MethodGet, http.MethodOptions)

	// System info
	diagnosticsRouter.HandleFunc("/system-info", diagnosticHandler.GetSystemInfo).Methods(http.MethodGet, http.MethodOptions)

	// Server debug logging status and hot toggle
	diagnosticsRouter.HandleFunc("/debug", diagnosticHandler.GetServerDebugStatus).Methods(http.MethodGet, http.MethodOptions)
	diagnosticsRouter.HandleFunc("/debug", diagnosticHandler.ToggleServerDebug).Methods(http.MethodPost, http.MethodOptions)

	debug.Debug("Diagnostics routes configured")
}
