package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"listing-studio-backend/internal/middleware"
	"listing-studio-backend/internal/models"
	"listing-studio-backend/internal/progress"
	"listing-studio-backend/internal/services"
	"listing-studio-backend/internal/supabase"
)

// Ledger is the slice of the relational ledger the HTTP surface needs.
// *supabase.DatabaseClient implements it.
type Ledger interface {
	CreateProject(ctx context.Context, p *models.Project) (*models.Project, error)
	GetProject(ctx context.Context, projectID, workspaceID uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context, workspaceID uuid.UUID) ([]models.Project, error)
	CreateImage(ctx context.Context, img *models.Image) (*models.Image, error)
	GetImage(ctx context.Context, imageID uuid.UUID) (*models.Image, error)
	ListProjectImages(ctx context.Context, projectID uuid.UUID) ([]models.Image, error)
	FailImage(ctx context.Context, imageID uuid.UUID, errorMsg string, metadata models.Metadata) (bool, error)
	RecomputeProjectCounters(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
}

type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

type ProjectDeleter interface {
	Delete(ctx context.Context, project *models.Project) error
}

var (
	_ Ledger            = (*supabase.DatabaseClient)(nil)
	_ BlobStore         = (*supabase.StorageClient)(nil)
	_ ProjectDeleter    = (*services.ProjectCleaner)(nil)
	_ ProgressEstimator = (*progress.Estimator)(nil)
)

// workspace reads the active workspace set by the auth middleware and aborts with 401 when absent.
func workspace(c *gin.Context) (uuid.UUID, bool) {
	id, ok := middleware.WorkspaceID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{Error: "workspace not found"})
		return uuid.Nil, false
	}
	return id, true
}

func uuidParam(c *gin.Context, name, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid " + what})
		return uuid.Nil, false
	}
	return id, true
}

// loadProject resolves :project_id within the caller's workspace.
func loadProject(c *gin.Context, ledger Ledger) (*models.Project, bool) {
	workspaceID, ok := workspace(c)
	if !ok {
		return nil, false
	}
	projectID, ok := uuidParam(c, "project_id", "project id")
	if !ok {
		return nil, false
	}

	project, err := ledger.GetProject(c.Request.Context(), projectID, workspaceID)
	if err != nil {
		notFoundOr500(c, "project", err)
		return nil, false
	}
	return project, true
}

// loadImage resolves :image_id and checks that its project belongs to the caller's workspace.
func loadImage(c *gin.Context, ledger Ledger) (*models.Image, *models.Project, bool) {
	workspaceID, ok := workspace(c)
	if !ok {
		return nil, nil, false
	}
	imageID, ok := uuidParam(c, "image_id", "image id")
	if !ok {
		return nil, nil, false
	}

	ctx := c.Request.Context()
	img, err := ledger.GetImage(ctx, imageID)
	if err != nil {
		notFoundOr500(c, "image", err)
		return nil, nil, false
	}
	project, err := ledger.GetProject(ctx, img.ProjectID, workspaceID)
	if err != nil {
		// Images of other workspaces are reported as missing.
		notFoundOr500(c, "image", err)
		return nil, nil, false
	}
	return img, project, true
}

func notFoundOr500(c *gin.Context, what string, err error) {
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: what + " not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error:   "failed to load " + what,
		Message: err.Error(),
	})
}
