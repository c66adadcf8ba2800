// Package diagnostic assembles support bundles: runtime and host metrics,
// scheduler health signals and a sanitized database export, packaged as a
// downloadable ZIP.
package diagnostic

import (
	"archive/zip"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"

	"github.com/dravenops/hashhive/backend/internal/repository"
	"github.com/dravenops/hashhive/backend/internal/services/broadcast"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// DiagnosticService collects and packages diagnostic data.
type DiagnosticService struct {
	dbExport *DBExportService
	hub      *broadcast.Hub
	taskRepo *repository.TaskRepository
	version  string
}

// NewDiagnosticService creates a new diagnostic service.
func NewDiagnosticService(db *sql.DB, hub *broadcast.Hub, taskRepo *repository.TaskRepository, version string) *DiagnosticService {
	return &DiagnosticService{
		dbExport: NewDBExportService(db),
		hub:      hub,
		taskRepo: taskRepo,
		version:  version,
	}
}

// Report contains one collection run. Collection is best effort: every
// failed probe lands in Errors instead of aborting the run.
type Report struct {
	GeneratedAt    time.Time               `json:"generated_at"`
	Version        string                  `json:"version"`
	SystemInfo     map[string]interface{}  `json:"system_info"`
	DatabaseExport map[string]*TableExport `json:"database_export,omitempty"`
	Errors         []string                `json:"errors,omitempty"`
}

// Collect gathers a diagnostic report. The database export is optional
// because it is by far the most expensive probe.
func (s *DiagnosticService) Collect(ctx context.Context, includeDatabase bool) (*Report, error) {
	start := time.Now()
	debug.Info("Starting diagnostic collection (database=%v)", includeDatabase)

	report := &Report{
		GeneratedAt: start,
		Version:     s.version,
		Errors:      []string{},
	}

	sysInfo, err := s.collectSystemInfo(ctx)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("System info error: %v", err))
	} else {
		report.SystemInfo = sysInfo
	}

	if includeDatabase {
		dbExport, err := s.dbExport.ExportAllTables(ctx)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("Database export error: %v", err))
		} else {
			report.DatabaseExport = dbExport
		}
	}

	debug.Info("Diagnostic collection complete in %v", time.Since(start))
	return report, nil
}

// SystemInfo returns only the lightweight probes, for dashboard display.
func (s *DiagnosticService) SystemInfo(ctx context.Context) (map[string]interface{}, error) {
	return s.collectSystemInfo(ctx)
}

func (s *DiagnosticService) collectSystemInfo(ctx context.Context) (map[string]interface{}, error) {
	info := make(map[string]interface{})

	info["go_version"] = runtime.Version()
	info["go_os"] = runtime.GOOS
	info["go_arch"] = runtime.GOARCH
	info["num_cpu"] = runtime.NumCPU()
	info["num_goroutine"] = runtime.NumGoroutine()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	info["process_memory"] = map[string]interface{}{
		"alloc_mb":       memStats.Alloc / 1024 / 1024,
		"total_alloc_mb": memStats.TotalAlloc / 1024 / 1024,
		"sys_mb":         memStats.Sys / 1024 / 1024,
		"num_gc":         memStats.NumGC,
		"heap_objects":   memStats.HeapObjects,
	}

	// Host-level probes fail on exotic platforms; record and move on.
	if vm, err := mem.VirtualMemory(); err != nil {
		debug.Warning("Failed to read host memory stats: %v", err)
	} else {
		info["host_memory"] = map[string]interface{}{
			"total_mb":     vm.Total / 1024 / 1024,
			"available_mb": vm.Available / 1024 / 1024,
			"used_percent": vm.UsedPercent,
		}
	}
	if percents, err := cpu.Percent(0, false); err != nil {
		debug.Warning("Failed to read CPU usage: %v", err)
	} else if len(percents) > 0 {
		info["cpu_percent"] = percents[0]
	}
	if hostInfo, err := host.Info(); err != nil {
		debug.Warning("Failed to read host info: %v", err)
	} else {
		info["host"] = map[string]interface{}{
			"platform":       hostInfo.Platform,
			"platform_ver":   hostInfo.PlatformVersion,
			"kernel_version": hostInfo.KernelVersion,
			"uptime_hours":   hostInfo.Uptime / 3600,
		}
	}

	if hostname, err := os.Hostname(); err == nil {
		info["hostname"] = hostname
	}

	if s.dbExport != nil {
		if dbInfo, err := s.dbExport.GetSystemInfo(ctx); err == nil {
			info["database"] = dbInfo
		}
	}

	if s.hub != nil {
		info["progress_observers"] = s.hub.ConnectionCount()
	}

	// Expired claims on live tasks mean the offline sweep is lagging the
	// claim window; a persistently nonzero count is a tuning signal.
	if s.taskRepo != nil {
		if expired, err := s.taskRepo.ListExpiredClaims(ctx, time.Now()); err != nil {
			debug.Warning("Failed to count expired claims: %v", err)
		} else {
			info["expired_claims"] = len(expired)
		}
	}

	info["collected_at"] = time.Now()
	return info, nil
}

// Package creates a ZIP archive containing the full diagnostic report.
func (s *DiagnosticService) Package(ctx context.Context, includeDatabase bool) ([]byte, error) {
	report, err := s.Collect(ctx, includeDatabase)
	if err != nil {
		return nil, fmt.Errorf("failed to collect diagnostics: %w", err)
	}

	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)

	summaryJSON, _ := json.MarshalIndent(map[string]interface{}{
		"generated_at":    report.GeneratedAt,
		"version":         report.Version,
		"tables_exported": len(report.DatabaseExport),
		"errors":          report.Errors,
	}, "", "  ")
	if err := addFileToZip(zipWriter, "summary.json", summaryJSON); err != nil {
		return nil, err
	}

	if report.SystemInfo != nil {
		sysInfoJSON, _ := json.MarshalIndent(report.SystemInfo, "", "  ")
		if err := addFileToZip(zipWriter, "system_info.json", sysInfoJSON); err != nil {
			return nil, err
		}
	}

	if report.DatabaseExport != nil {
		dbJSON, _ := json.MarshalIndent(report.DatabaseExport, "", "  ")
		if err := addFileToZip(zipWriter, "database/full_export.json", dbJSON); err != nil {
			return nil, err
		}
		if dbText, err := s.dbExport.ExportToText(ctx); err == nil {
			if err := addFileToZip(zipWriter, "database/export.txt", []byte(dbText)); err != nil {
				return nil, err
			}
		}
		for tableName, export := range report.DatabaseExport {
			tableJSON, _ := json.MarshalIndent(export, "", "  ")
			fileName := fmt.Sprintf("database/tables/%s.json", tableName)
			if err := addFileToZip(zipWriter, fileName, tableJSON); err != nil {
				debug.Warning("Failed to add %s to zip: %v", fileName, err)
			}
		}
	}

	if len(report.Errors) > 0 {
		if err := addFileToZip(zipWriter, "errors.txt", []byte(strings.Join(report.Errors, "\n"))); err != nil {
			return nil, err
		}
	}

	if err := addFileToZip(zipWriter, "README.txt", []byte(generateREADME(report))); err != nil {
		return nil, err
	}

	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zip: %w", err)
	}

	debug.Info("Diagnostic package created: %d bytes", buf.Len())
	return buf.Bytes(), nil
}

func addFileToZip(zw *zip.Writer, filename string, content []byte) error {
	w, err := zw.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create %s in zip: %w", filename, err)
	}
	if _, err := w.Write(content); err != nil {
		return fmt.Errorf("failed to write %s to zip: %w", filename, err)
	}
	return nil
}

func generateREADME(report *Report) string {
	var sb strings.Builder
	sb.WriteString("HashHive Diagnostic Report\n")
	sb.WriteString("==========================\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n", report.GeneratedAt.Format(time.RFC3339)))
	sb.WriteString(fmt.Sprintf("Version: %s\n\n", report.Version))

	sb.WriteString("Contents:\n")
	sb.WriteString("---------\n")
	sb.WriteString("- summary.json: Overview of the diagnostic report\n")
	sb.WriteString("- system_info.json: Runtime, host and scheduler health probes\n")
	sb.WriteString("- database/: Sanitized database table exports\n")
	sb.WriteString("  - full_export.json: Complete export in JSON\n")
	sb.WriteString("  - export.txt: Human-readable export\n")
	sb.WriteString("  - tables/: Individual table exports\n")
	sb.WriteString("- errors.txt: Errors during collection (if any)\n\n")

	sb.WriteString("Privacy Notice:\n")
	sb.WriteString("---------------\n")
	sb.WriteString("Names, tokens, addresses and error text are replaced with\n")
	sb.WriteString("[REDACTED] placeholders. Hash material is never exported.\n")
	sb.WriteString("IDs are preserved for correlation purposes.\n")

	if len(report.Errors) > 0 {
		sb.WriteString("\nErrors During Collection:\n")
		sb.WriteString("-------------------------\n")
		for _, err := range report.Errors {
			sb.WriteString(fmt.Sprintf("- %s\n", err))
		}
	}
	return sb.String()
}
