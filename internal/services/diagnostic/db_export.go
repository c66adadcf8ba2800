package diagnostic

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// DBExportService produces sanitized table dumps for support bundles.
type DBExportService struct {
	db *sql.DB
}

// NewDBExportService creates a new database export service.
func NewDBExportService(db *sql.DB) *DBExportService {
	return &DBExportService{db: db}
}

// TableExport represents one exported table.
type TableExport struct {
	TableName  string                   `json:"table_name"`
	RowCount   int                      `json:"row_count"`
	ExportedAt time.Time                `json:"exported_at"`
	Columns    []string                 `json:"columns"`
	Rows       []map[string]interface{} `json:"rows"`
}

// DiagnosticTables lists the tables worth exporting. hash_items and the
// status feed are excluded: too large and the former carries the actual
// target material.
var DiagnosticTables = []string{
	"users",
	"agents",
	"agent_projects",
	"projects",
	"hash_lists",
	"campaigns",
	"attacks",
	"tasks",
	"hashcat_benchmarks",
	"agent_errors",
	"system_settings",
}

// SensitiveColumns maps tables to columns that are censored on export.
var SensitiveColumns = map[string][]string{
	"agents":       {"name", "token_digest", "last_ip"},
	"projects":     {"name", "description"},
	"hash_lists":   {"name"},
	"campaigns":    {"name"},
	"tasks":        {"last_error"},
	"agent_errors": {"message", "metadata"},
	"users":        {"username", "email"},
}

// ExportAllTables exports every diagnostic table inside one read-only
// repeatable-read transaction so the dump is a consistent snapshot.
func (s *DBExportService) ExportAllTables(ctx context.Context) (map[string]*TableExport, error) {
	debug.Info("Starting database export for diagnostics")

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	results := make(map[string]*TableExport)
	for _, tableName := range DiagnosticTables {
		export, err := s.exportTable(ctx, tx, tableName)
		if err != nil {
			debug.Warning("Failed to export table %s: %v", tableName, err)
			continue
		}
		results[tableName] = export
		debug.Debug("Exported table %s: %d rows", tableName, export.RowCount)
	}

	debug.Info("Database export complete: %d tables exported", len(results))
	return results, nil
}

func (s *DBExportService) exportTable(ctx context.Context, tx *sql.Tx, tableName string) (*TableExport, error) {
	if !isValidTableName(tableName) {
		return nil, fmt.Errorf("invalid table name: %s", tableName)
	}

	columns, err := s.getTableColumns(ctx, tx, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to get columns for %s: %w", tableName, err)
	}

	// Bounded: a support bundle does not need the full fleet history.
	query := fmt.Sprintf("SELECT * FROM %s LIMIT 10000", tableName)
	rows, err := tx.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", tableName, err)
	}
	defer rows.Close()

	sensitive := make(map[string]bool)
	for _, col := range SensitiveColumns[tableName] {
		sensitive[col] = true
	}

	var exportedRows []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			val := values[i]
			if sensitive[col] {
				val = sanitizeValue(val, col)
			} else if b, ok := val.([]byte); ok {
				val = string(b)
			}
			row[col] = val
		}
		exportedRows = append(exportedRows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &TableExport{
		TableName:  tableName,
		RowCount:   len(exportedRows),
		ExportedAt: time.Now(),
		Columns:    columns,
		Rows:       exportedRows,
	}, nil
}

func (s *DBExportService) getTableColumns(ctx context.Context, tx *sql.Tx, tableName string) ([]string, error) {
	query := `
		SELECT column_name
		FROM information_schema.columns
		WHERE table_name = $1 AND table_schema = 'public'
		ORDER BY ordinal_position
	`
	rows, err := tx.QueryContext(ctx, query, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// sanitizeValue censors a sensitive value while keeping its length for
// correlation.
func sanitizeValue(val interface{}, colName string) interface{} {
	if val == nil {
		return nil
	}
	var strVal string
	switch v := val.(type) {
	case string:
		strVal = v
	case []byte:
		strVal = string(v)
	default:
		return fmt.Sprintf("[REDACTED:%s]", colName)
	}
	if strVal == "" {
		return ""
	}
	if len(strVal) > 8 {
		return fmt.Sprintf("[REDACTED:%s:len=%d]", colName, len(strVal))
	}
	return fmt.Sprintf("[REDACTED:%s]", colName)
}

// isValidTableName guards the interpolated table identifier.
func isValidTableName(name string) bool {
	for _, c := range name {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return len(name) > 0 && len(name) <= 64
}

// ExportToText renders the export in a human-readable table format.
func (s *DBExportService) ExportToText(ctx context.Context) (string, error) {
	exports, err := s.ExportAllTables(ctx)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("=== HashHive Database Export ===\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", time.Now().Format(time.RFC3339)))

	for _, tableName := range DiagnosticTables {
		export, ok := exports[tableName]
		if !ok {
			continue
		}

		sb.WriteString(fmt.Sprintf("=== Table: %s (%d rows) ===\n", export.TableName, export.RowCount))
		if len(export.Rows) == 0 {
			sb.WriteString("(empty)\n\n")
			continue
		}

		sb.WriteString(strings.Join(export.Columns, " | "))
		sb.WriteString("\n")
		sb.WriteString(strings.Repeat("-", 80))
		sb.WriteString("\n")

		maxRows := 100
		if len(export.Rows) < maxRows {
			maxRows = len(export.Rows)
		}
		for i := 0; i < maxRows; i++ {
			row := export.Rows[i]
			var values []string
			for _, col := range export.Columns {
				val := row[col]
				if val == nil {
					values = append(values, "NULL")
				} else {
					values = append(values, fmt.Sprintf("%v", val))
				}
			}
			sb.WriteString(strings.Join(values, " | "))
			sb.WriteString("\n")
		}
		if len(export.Rows) > maxRows {
			sb.WriteString(fmt.Sprintf("... and %d more rows\n", len(export.Rows)-maxRows))
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// GetSystemInfo returns store-level diagnostic information: server version,
// table counts, size and pool statistics.
func (s *DBExportService) GetSystemInfo(ctx context.Context) (map[string]interface{}, error) {
	info := make(map[string]interface{})

	var dbVersion string
	if err := s.db.QueryRowContext(ctx, "SELECT version()").Scan(&dbVersion); err == nil {
		info["database_version"] = dbVersion
	}

	tableCounts := make(map[string]int64)
	for _, table := range DiagnosticTables {
		var count int64
		query := fmt.Sprintf("SELECT COUNT(*) FROM %s", table)
		if err := s.db.QueryRowContext(ctx, query).Scan(&count); err == nil {
			tableCounts[table] = count
		}
	}
	info["table_counts"] = tableCounts

	var dbSize string
	if err := s.db.QueryRowContext(ctx, "SELECT pg_size_pretty(pg_database_size(current_database()))").Scan(&dbSize); err == nil {
		info["database_size"] = dbSize
	}

	var maxConnections int
	if err := s.db.QueryRowContext(ctx, "SELECT setting::int FROM pg_settings WHERE name = 'max_connections'").Scan(&maxConnections); err == nil {
		info["max_connections"] = maxConnections
	}

	stats := s.db.Stats()
	info["connection_stats"] = map[string]interface{}{
		"open_connections":    stats.OpenConnections,
		"in_use":              stats.InUse,
		"idle":                stats.Idle,
		"max_open":            stats.MaxOpenConnections,
		"wait_count":          stats.WaitCount,
		"wait_duration_ms":    stats.WaitDuration.Milliseconds(),
		"max_idle_closed":     stats.MaxIdleClosed,
		"max_lifetime_closed": stats.MaxLifetimeClosed,
	}

	info["exported_at"] = time.Now()
	return info, nil
}
