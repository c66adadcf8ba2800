package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/pkg/debug"
)

// SystemSettingsRepository reads and writes the runtime-tunable settings
// table. Typed getters fall back to the provided default when a key is
// missing or malformed, so sweeps keep working on a half-seeded database.
type SystemSettingsRepository struct {
	db *db.DB
}

// NewSystemSettingsRepository creates a new instance of SystemSettingsRepository.
func NewSystemSettingsRepository(database *db.DB) *SystemSettingsRepository {
	return &SystemSettingsRepository{db: database}
}

// Get retrieves a raw setting value.
func (r *SystemSettingsRepository) Get(ctx context.Context, key string) (string, error) {
	query := `SELECT value FROM system_settings WHERE key = $1`
	var value sql.NullString
	err := r.db.QueryRowContext(ctx, query, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("setting %q not found: %w", key, ErrNotFound)
		}
		return "", fmt.Errorf("failed to get setting %q: %w", key, err)
	}
	return value.String, nil
}

// GetInt retrieves an integer setting, falling back to the default.
func (r *SystemSettingsRepository) GetInt(ctx context.Context, key string, defaultValue int) int {
	value, err := r.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			debug.Warning("Failed to read setting %q, using default %d: %v", key, defaultValue, err)
		}
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		debug.Warning("Setting %q is not an integer (%q), using default %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// GetFloat retrieves a float setting, falling back to the default.
func (r *SystemSettingsRepository) GetFloat(ctx context.Context, key string, defaultValue float64) float64 {
	value, err := r.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			debug.Warning("Failed to read setting %q, using default %f: %v", key, defaultValue, err)
		}
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		debug.Warning("Setting %q is not a number (%q), using default %f", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// GetBool retrieves a boolean setting, falling back to the default.
func (r *SystemSettingsRepository) GetBool(ctx context.Context, key string, defaultValue bool) bool {
	value, err := r.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			debug.Warning("Failed to read setting %q, using default %t: %v", key, defaultValue, err)
		}
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		debug.Warning("Setting %q is not a boolean (%q), using default %t", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

// SystemSetting is one row of the settings table, including the seeded
// description so admin surfaces can render what a key controls.
type SystemSetting struct {
	Key         string    `json:"key"`
	Value       string    `json:"value"`
	Description string    `json:"description"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// List returns every setting ordered by key.
func (r *SystemSettingsRepository) List(ctx context.Context) ([]SystemSetting, error) {
	query := `SELECT key, value, description, updated_at FROM system_settings ORDER BY key`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	var settings []SystemSetting
	for rows.Next() {
		var s SystemSetting
		var value, description sql.NullString
		if err := rows.Scan(&s.Key, &value, &description, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan setting: %w", err)
		}
		s.Value = value.String
		s.Description = description.String
		settings = append(settings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settings: %w", err)
	}
	return settings, nil
}

// Set writes a setting value, inserting the key when missing.
func (r *SystemSettingsRepository) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO system_settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to set setting %q: %w", key, err)
	}
	return nil
}
