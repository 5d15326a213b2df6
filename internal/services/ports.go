package services

import (
	"context"

	"github.com/google/uuid"
	"listing-studio-backend/internal/imagen"
	"listing-studio-backend/internal/models"
)

// Ledger is the relational record of projects and image versions.
// Transition methods return false when the row is gone or already terminal.
type Ledger interface {
	GetImage(ctx context.Context, imageID uuid.UUID) (*models.Image, error)
	GetProjectByID(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
	MarkImageProcessing(ctx context.Context, imageID uuid.UUID) (bool, error)
	CompleteImage(ctx context.Context, imageID uuid.UUID, resultURL string, metadata models.Metadata) (bool, error)
	FailImage(ctx context.Context, imageID uuid.UUID, errorMsg string, metadata models.Metadata) (bool, error)
	RecordAttemptError(ctx context.Context, imageID uuid.UUID, metadata models.Metadata) (bool, error)
	RecomputeProjectCounters(ctx context.Context, projectID uuid.UUID) (*models.Project, error)
	DeleteProject(ctx context.Context, projectID uuid.UUID) error
}

// ObjectStore is durable blob storage addressed by storagekey keys.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, keys []string) error
}

// Provider is the external generative image service.
type Provider interface {
	Stage(ctx context.Context, data []byte, contentType, fileName string) (string, error)
	Generate(ctx context.Context, req imagen.GenerateRequest) (*imagen.Result, error)
	EditWithInstruction(ctx context.Context, req imagen.InstructEditRequest) (*imagen.Result, error)
	RemoveWithMask(ctx context.Context, req imagen.MaskEditRequest) (*imagen.Result, error)
}

// BlobFetcher downloads blobs by URL: stored originals and transient provider results.
type BlobFetcher interface {
	DownloadFile(ctx context.Context, url string) (*imagen.Blob, error)
}

type EventPublisher interface {
	PublishImageEvent(ctx context.Context, event models.ImageEvent) error
}

var (
	_ Provider    = (*imagen.Client)(nil)
	_ BlobFetcher = (*imagen.Client)(nil)
)
