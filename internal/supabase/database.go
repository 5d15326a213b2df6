package supabase

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"listing-studio-backend/internal/models"
)

const projectColumns = `id, workspace_id, user_id, name, style_template, room_type,
	image_count, completed_count, status, thumbnail_url, created_at, updated_at`

const imageColumns = `id, project_id, parent_image_id, kind, status, original_image_url,
	result_image_url, prompt, error_message, metadata, created_at, updated_at`

// DatabaseClient is the relational ledger for projects and image versions.
type DatabaseClient struct {
	db *sql.DB
}

func NewDatabaseClient(connectionString string) (*DatabaseClient, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DatabaseClient{db: db}, nil
}

// NewDatabaseClientFromDB wraps an already opened handle.
func NewDatabaseClientFromDB(db *sql.DB) *DatabaseClient {
	return &DatabaseClient{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProject(row rowScanner) (*models.Project, error) {
	var p models.Project
	err := row.Scan(
		&p.ID, &p.WorkspaceID, &p.UserID, &p.Name, &p.StyleTemplate, &p.RoomType,
		&p.ImageCount, &p.CompletedCount, &p.Status, &p.ThumbnailURL, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanImage(row rowScanner) (*models.Image, error) {
	var img models.Image
	err := row.Scan(
		&img.ID, &img.ProjectID, &img.ParentImageID, &img.Kind, &img.Status, &img.OriginalImageURL,
		&img.ResultImageURL, &img.Prompt, &img.ErrorMessage, &img.Metadata, &img.CreatedAt, &img.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &img, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	return err
}

func (d *DatabaseClient) CreateProject(ctx context.Context, p *models.Project) (*models.Project, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = models.ProjectStatusPending
	}

	created, err := scanProject(d.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, workspace_id, user_id, name, style_template, room_type, image_count, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+projectColumns,
		p.ID, p.WorkspaceID, p.UserID, p.Name, p.StyleTemplate, p.RoomType, p.ImageCount, p.Status,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	return created, nil
}

func (d *DatabaseClient) GetProject(ctx context.Context, projectID, workspaceID uuid.UUID) (*models.Project, error) {
	p, err := scanProject(d.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE id = $1 AND workspace_id = $2
	`, projectID, workspaceID))
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", notFound(err))
	}

	return p, nil
}

// GetProjectByID loads a project without an ownership check. Used by jobs.
func (d *DatabaseClient) GetProjectByID(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	p, err := scanProject(d.db.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE id = $1
	`, projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", notFound(err))
	}

	return p, nil
}

func (d *DatabaseClient) ListProjects(ctx context.Context, workspaceID uuid.UUID) ([]models.Project, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE workspace_id = $1
		ORDER BY created_at DESC
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []models.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, *p)
	}

	return projects, rows.Err()
}

// DeleteProject removes the project row; images go with it via ON DELETE CASCADE.
func (d *DatabaseClient) DeleteProject(ctx context.Context, projectID uuid.UUID) error {
	res, err := d.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("failed to delete project: %w", models.ErrNotFound)
	}

	return nil
}

// CreateImage inserts a new PENDING version row.
func (d *DatabaseClient) CreateImage(ctx context.Context, img *models.Image) (*models.Image, error) {
	if img.ID == uuid.Nil {
		img.ID = uuid.New()
	}

	created, err := scanImage(d.db.QueryRowContext(ctx, `
		INSERT INTO images (id, project_id, parent_image_id, kind, status, original_image_url, prompt, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+imageColumns,
		img.ID, img.ProjectID, img.ParentImageID, img.Kind, models.ImageStatusPending,
		img.OriginalImageURL, img.Prompt, string(img.Metadata.JSON()),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create image: %w", err)
	}

	return created, nil
}

func (d *DatabaseClient) GetImage(ctx context.Context, imageID uuid.UUID) (*models.Image, error) {
	img, err := scanImage(d.db.QueryRowContext(ctx, `
		SELECT `+imageColumns+`
		FROM images
		WHERE id = $1
	`, imageID))
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", notFound(err))
	}

	return img, nil
}

func (d *DatabaseClient) ListProjectImages(ctx context.Context, projectID uuid.UUID) ([]models.Image, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+imageColumns+`
		FROM images
		WHERE project_id = $1
		ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	defer rows.Close()

	var images []models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, *img)
	}

	return images, rows.Err()
}

// The transition methods below only touch rows that are not terminal yet. They
// report false when no row matched: the row is gone or already terminal.

func (d *DatabaseClient) MarkImageProcessing(ctx context.Context, imageID uuid.UUID) (bool, error) {
	return d.transition(ctx, "mark image processing", `
		UPDATE images
		SET status = 'PROCESSING', updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`, imageID)
}

func (d *DatabaseClient) CompleteImage(ctx context.Context, imageID uuid.UUID, resultURL string, metadata models.Metadata) (bool, error) {
	return d.transition(ctx, "complete image", `
		UPDATE images
		SET status = 'COMPLETED', result_image_url = $2, error_message = NULL,
			metadata = (metadata - 'lastAttemptError') || $3::jsonb, updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`, imageID, resultURL, string(metadata.JSON()))
}

func (d *DatabaseClient) FailImage(ctx context.Context, imageID uuid.UUID, errorMsg string, metadata models.Metadata) (bool, error) {
	return d.transition(ctx, "fail image", `
		UPDATE images
		SET status = 'FAILED', result_image_url = NULL, error_message = $2,
			metadata = metadata || $3::jsonb, updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`, imageID, errorMsg, string(metadata.JSON()))
}

// RecordAttemptError keeps the row in flight and notes why the last attempt failed.
func (d *DatabaseClient) RecordAttemptError(ctx context.Context, imageID uuid.UUID, metadata models.Metadata) (bool, error) {
	return d.transition(ctx, "record attempt error", `
		UPDATE images
		SET metadata = metadata || $2::jsonb, updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`, imageID, string(metadata.JSON()))
}

func (d *DatabaseClient) transition(ctx context.Context, op, query string, args ...interface{}) (bool, error) {
	res, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to %s: %w", op, err)
	}

	return n > 0, nil
}

// RecomputeProjectCounters re-derives the project rollup from its current image
// set. The project row is locked for the duration so concurrent callers serialize.
func (d *DatabaseClient) RecomputeProjectCounters(ctx context.Context, projectID uuid.UUID) (*models.Project, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := scanProject(tx.QueryRowContext(ctx, `
		SELECT `+projectColumns+`
		FROM projects
		WHERE id = $1
		FOR UPDATE
	`, projectID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock project: %w", notFound(err))
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT `+imageColumns+`
		FROM images
		WHERE project_id = $1
		ORDER BY created_at ASC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	var images []models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, *img)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}

	if !p.Recompute(images) {
		return p, tx.Commit()
	}

	err = tx.QueryRowContext(ctx, `
		UPDATE projects
		SET image_count = $2, completed_count = $3, status = $4, thumbnail_url = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at
	`, p.ID, p.ImageCount, p.CompletedCount, p.Status, p.ThumbnailURL).Scan(&p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update project counters: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit counters: %w", err)
	}

	return p, nil
}

func (d *DatabaseClient) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DatabaseClient) Close() error {
	return d.db.Close()
}
