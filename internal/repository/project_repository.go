package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dravenops/hashhive/backend/internal/db"
	"github.com/dravenops/hashhive/backend/internal/models"
	"github.com/google/uuid"
)

// ProjectRepository handles database operations for projects and users.
type ProjectRepository struct {
	db *db.DB
}

// NewProjectRepository creates a new instance of ProjectRepository.
func NewProjectRepository(database *db.DB) *ProjectRepository {
	return &ProjectRepository{db: database}
}

// Create inserts a new project.
func (r *ProjectRepository) Create(ctx context.Context, project *models.Project) error {
	query := `
		INSERT INTO projects (name, description)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowContext(ctx, query, project.Name, project.Description).
		Scan(&project.ID, &project.CreatedAt, &project.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetByID retrieves a project by its ID.
func (r *ProjectRepository) GetByID(ctx context.Context, id int) (*models.Project, error) {
	query := `SELECT id, name, description, created_at, updated_at FROM projects WHERE id = $1`
	project := &models.Project{}
	var description sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&project.ID,
		&project.Name,
		&description,
		&project.CreatedAt,
		&project.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %d not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get project %d: %w", id, err)
	}
	project.Description = description.String
	return project, nil
}

// List retrieves all projects ordered by name.
func (r *ProjectRepository) List(ctx context.Context) ([]*models.Project, error) {
	query := `SELECT id, name, description, created_at, updated_at FROM projects ORDER BY name`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*models.Project
	for rows.Next() {
		project := &models.Project{}
		var description sql.NullString
		if err := rows.Scan(
			&project.ID,
			&project.Name,
			&description,
			&project.CreatedAt,
			&project.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		project.Description = description.String
		projects = append(projects, project)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating project rows: %w", err)
	}
	return projects, nil
}

// Update modifies a project's name and description.
func (r *ProjectRepository) Update(ctx context.Context, project *models.Project) error {
	query := `UPDATE projects SET name = $1, description = $2, updated_at = NOW() WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, project.Name, project.Description, project.ID)
	if err != nil {
		return fmt.Errorf("failed to update project %d: %w", project.ID, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for project update: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("project %d not found for update: %w", project.ID, ErrNotFound)
	}
	return nil
}

// Delete removes a project. Fails while campaigns or hash lists reference it.
func (r *ProjectRepository) Delete(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete project %d: %w", id, err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected for project deletion: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("project %d not found for deletion: %w", id, ErrNotFound)
	}
	return nil
}

// CreateUser inserts a new user.
func (r *ProjectRepository) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	query := `INSERT INTO users (id, username) VALUES ($1, $2) RETURNING created_at`
	err := r.db.QueryRowContext(ctx, query, user.ID, user.Username).Scan(&user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID.
func (r *ProjectRepository) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	query := `SELECT id, username, created_at FROM users WHERE id = $1`
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s not found: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user %s: %w", id, err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (r *ProjectRepository) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `SELECT id, username, created_at FROM users WHERE username = $1`
	user := &models.User{}
	err := r.db.QueryRowContext(ctx, query, username).Scan(&user.ID, &user.Username, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q not found: %w", username, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user %q: %w", username, err)
	}
	return user, nil
}
