package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"listing-studio-backend/internal/models"
	"listing-studio-backend/internal/storagekey"
	"listing-studio-backend/internal/tasks"
)

const (
	maxUploadBytes    = 25 << 20
	maxMultipartBytes = 32 << 20
)

var uploadFieldNames = []string{"images", "image", "files", "file"}

type ImagesHandler struct {
	ledger   Ledger
	store    BlobStore
	enqueuer tasks.Enqueuer
	log      zerolog.Logger
}

func NewImagesHandler(ledger Ledger, store BlobStore, enqueuer tasks.Enqueuer, log zerolog.Logger) *ImagesHandler {
	return &ImagesHandler{
		ledger:   ledger,
		store:    store,
		enqueuer: enqueuer,
		log:      log.With().Str("handler", "images").Logger(),
	}
}

// Upload godoc
// @Summary     Upload photos
// @Description Stores each photo as an original, creates a PENDING image and submits a Generate job for it.
// @Tags        images
// @Accept      multipart/form-data
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Param       images formData file true "Photos (multiple files allowed)"
// @Success     202 {object} models.UploadResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /projects/{project_id}/images [post]
func (h *ImagesHandler) Upload(c *gin.Context) {
	project, ok := loadProject(c, h.ledger)
	if !ok {
		return
	}
	if project.Status == models.ProjectStatusCompleted {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "project already completed",
			Message: models.ErrProjectCompleted.Error(),
		})
		return
	}

	if err := c.Request.ParseMultipartForm(maxMultipartBytes); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "failed to parse multipart form",
			Message: err.Error(),
		})
		return
	}

	var files []*multipart.FileHeader
	for _, name := range uploadFieldNames {
		if f := c.Request.MultipartForm.File[name]; len(f) > 0 {
			files = f
			break
		}
	}
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "no files uploaded",
			Message: fmt.Sprintf("provide photos in one of these fields: %v", uploadFieldNames),
		})
		return
	}

	ctx := c.Request.Context()
	log := h.log.With().Str("project_id", project.ID.String()).Logger()
	prompt := generatePrompt(project)

	var (
		created []*models.Image
		resp    = models.UploadResponse{Images: make([]models.EnqueueResponse, 0, len(files))}
	)
	for _, file := range files {
		img, err := h.storeOriginal(ctx, project, file, prompt)
		if err != nil {
			log.Warn().Err(err).Str("filename", file.Filename).Msg("upload rejected")
			resp.Errors = append(resp.Errors, models.UploadError{Filename: file.Filename, Error: err.Error()})
			continue
		}
		created = append(created, img)
	}

	if len(created) == 0 {
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	// New roots grow the planned image count before any job can complete.
	if _, err := h.ledger.RecomputeProjectCounters(ctx, project.ID); err != nil {
		log.Error().Err(err).Msg("failed to recompute counters after upload")
	}

	for _, img := range created {
		status := h.submit(ctx, log, img, func() error {
			return h.enqueuer.EnqueueGenerate(ctx, models.GeneratePayload{ImageID: img.ID})
		})
		resp.Images = append(resp.Images, models.EnqueueResponse{ImageID: img.ID.String(), Status: status})
	}

	log.Info().Int("accepted", len(created)).Int("rejected", len(resp.Errors)).Msg("photos uploaded")
	c.JSON(http.StatusAccepted, resp)
}

func (h *ImagesHandler) storeOriginal(ctx context.Context, project *models.Project, file *multipart.FileHeader, prompt string) (*models.Image, error) {
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, maxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("file is empty")
	}
	if len(data) > maxUploadBytes {
		return nil, fmt.Errorf("file exceeds %d MB", maxUploadBytes>>20)
	}

	contentType := storagekey.DetectContentType(file.Header.Get("Content-Type"), data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("unsupported content type %s", contentType)
	}

	imageID := uuid.New()
	key := storagekey.Key(project.WorkspaceID, project.ID, storagekey.KindOriginal, imageID, contentType)
	url, err := h.store.Put(ctx, key, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store original: %w", err)
	}

	return h.ledger.CreateImage(ctx, &models.Image{
		ID:               imageID,
		ProjectID:        project.ID,
		Kind:             models.ImageKindGenerate,
		OriginalImageURL: url,
		Prompt:           prompt,
		Metadata: models.Metadata{
			"originalFilename":   file.Filename,
			"originalStorageKey": key,
			"contentType":        contentType,
			"uploadedAt":         time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// Edit godoc
// @Summary     Edit an image
// @Description Creates a new version derived from a completed image. Mode "remove" requires a mask.
// @Tags        images
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       image_id path string true "Source image ID (UUID)"
// @Param       request body models.EditImageRequest true "Edit"
// @Success     202 {object} models.EnqueueResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /images/{image_id}/edit [post]
func (h *ImagesHandler) Edit(c *gin.Context) {
	source, _, ok := loadImage(c, h.ledger)
	if !ok {
		return
	}

	var req models.EditImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request",
			Message: err.Error(),
		})
		return
	}
	if source.Status != models.ImageStatusCompleted {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "source image not completed",
			Message: fmt.Sprintf("image %s is %s", source.ID, source.Status),
		})
		return
	}

	h.createEdit(c, source, req.Prompt, req.Mode, req.MaskDataURL, nil)
}

// Retry godoc
// @Summary     Retry a failed image
// @Description Creates a new PENDING version that replaces a FAILED one and submits a new job. The failed row is kept.
// @Tags        images
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       image_id path string true "Failed image ID (UUID)"
// @Param       request body models.RetryImageRequest false "Mask for remove edits"
// @Success     202 {object} models.EnqueueResponse
// @Failure     404 {object} models.ErrorResponse
// @Failure     409 {object} models.ErrorResponse
// @Router      /images/{image_id}/retry [post]
func (h *ImagesHandler) Retry(c *gin.Context) {
	failed, _, ok := loadImage(c, h.ledger)
	if !ok {
		return
	}
	if failed.Status != models.ImageStatusFailed {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "only failed images can be retried",
			Message: fmt.Sprintf("image %s is %s", failed.ID, failed.Status),
		})
		return
	}

	images, err := h.ledger.ListProjectImages(c.Request.Context(), failed.ProjectID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to load images",
			Message: err.Error(),
		})
		return
	}
	if replacement := retriedBy(failed, images); replacement != nil {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Error:   "image already retried",
			Message: fmt.Sprintf("image %s is replaced by %s (%s)", failed.ID, replacement.ID, replacement.Status),
		})
		return
	}

	var req models.RetryImageRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid request", Message: err.Error()})
			return
		}
	}

	if failed.Kind == models.ImageKindEdit {
		h.retryEdit(c, failed, req)
		return
	}

	ctx := c.Request.Context()
	img, err := h.ledger.CreateImage(ctx, &models.Image{
		ProjectID:        failed.ProjectID,
		ParentImageID:    uuid.NullUUID{UUID: failed.ID, Valid: true},
		Kind:             models.ImageKindGenerate,
		OriginalImageURL: failed.OriginalImageURL,
		Prompt:           failed.Prompt,
		Metadata:         models.Metadata{"retryOf": failed.ID.String()},
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to create image",
			Message: err.Error(),
		})
		return
	}

	log := h.log.With().Str("project_id", img.ProjectID.String()).Str("retry_of", failed.ID.String()).Logger()
	status := h.submit(ctx, log, img, func() error {
		return h.enqueuer.EnqueueGenerate(ctx, models.GeneratePayload{ImageID: img.ID})
	})
	c.JSON(http.StatusAccepted, models.EnqueueResponse{ImageID: img.ID.String(), Status: status})
}

// retriedBy returns the live replacement of failed, if any. A replacement that
// failed in turn does not block another retry.
func retriedBy(failed *models.Image, images []models.Image) *models.Image {
	for i := range images {
		img := &images[i]
		if img.ID == failed.ID || img.Status == models.ImageStatusFailed {
			continue
		}
		generateRetry := img.Kind == models.ImageKindGenerate &&
			img.ParentImageID.Valid && img.ParentImageID.UUID == failed.ID
		if generateRetry || img.Metadata["retryOf"] == failed.ID.String() {
			return img
		}
	}
	return nil
}

// retryEdit re-runs a failed edit against its original source.
func (h *ImagesHandler) retryEdit(c *gin.Context, failed *models.Image, req models.RetryImageRequest) {
	if !failed.ParentImageID.Valid {
		c.JSON(http.StatusConflict, models.ErrorResponse{Error: "edit has no source image"})
		return
	}
	source, err := h.ledger.GetImage(c.Request.Context(), failed.ParentImageID.UUID)
	if err != nil {
		notFoundOr500(c, "source image", err)
		return
	}

	mode := models.EditModeAdd
	if m, ok := failed.Metadata["editMode"].(string); ok && m != "" {
		mode = models.EditMode(m)
	}
	if mode == models.EditModeRemove && strings.TrimSpace(req.MaskDataURL) == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request",
			Message: "mask_data_url is required to retry a remove edit",
		})
		return
	}

	h.createEdit(c, source, failed.Prompt, mode, req.MaskDataURL, failed)
}

// createEdit creates the target row, pinned to the source's current URL, and submits the Edit job.
func (h *ImagesHandler) createEdit(c *gin.Context, source *models.Image, prompt string, mode models.EditMode, mask string, retryOf *models.Image) {
	ctx := c.Request.Context()
	metadata := models.Metadata{
		"sourceImageId": source.ID.String(),
		"editMode":      string(mode),
	}
	if retryOf != nil {
		metadata["retryOf"] = retryOf.ID.String()
	}

	target, err := h.ledger.CreateImage(ctx, &models.Image{
		ProjectID:        source.ProjectID,
		ParentImageID:    uuid.NullUUID{UUID: source.ID, Valid: true},
		Kind:             models.ImageKindEdit,
		OriginalImageURL: source.SourceURL(),
		Prompt:           prompt,
		Metadata:         metadata,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to create image",
			Message: err.Error(),
		})
		return
	}

	log := h.log.With().
		Str("project_id", target.ProjectID.String()).
		Str("source_image_id", source.ID.String()).
		Str("mode", string(mode)).
		Logger()
	status := h.submit(ctx, log, target, func() error {
		return h.enqueuer.EnqueueEdit(ctx, models.EditPayload{
			SourceImageID: source.ID,
			TargetImageID: target.ID,
			Prompt:        prompt,
			Mode:          mode,
			MaskDataURL:   mask,
		})
	})
	c.JSON(http.StatusAccepted, models.EnqueueResponse{ImageID: target.ID.String(), Status: status})
}

// submit enqueues the job for img. A row whose job could not be submitted is
// failed right away so it can be retried instead of staying PENDING forever.
func (h *ImagesHandler) submit(ctx context.Context, log zerolog.Logger, img *models.Image, enqueue func() error) models.ImageStatus {
	err := enqueue()
	if err == nil {
		return models.ImageStatusPending
	}

	log.Error().Err(err).Str("image_id", img.ID.String()).Msg("failed to submit job")
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if _, ferr := h.ledger.FailImage(recordCtx, img.ID, "failed to submit job: "+err.Error(), models.Metadata{
		"failedAt": time.Now().UTC().Format(time.RFC3339),
	}); ferr != nil {
		log.Error().Err(ferr).Str("image_id", img.ID.String()).Msg("failed to mark unsubmitted image failed")
		return models.ImageStatusPending
	}
	if _, rerr := h.ledger.RecomputeProjectCounters(recordCtx, img.ProjectID); rerr != nil {
		log.Error().Err(rerr).Msg("failed to recompute counters")
	}
	return models.ImageStatusFailed
}

// GetImage returns one image version.
func (h *ImagesHandler) GetImage(c *gin.Context) {
	img, _, ok := loadImage(c, h.ledger)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, models.NewImageResponse(img))
}

// Download godoc
// @Summary     Download an image version
// @Description Streams the stored original or result bytes of one image version.
// @Tags        images
// @Produce     image/jpeg,image/png,image/webp
// @Security    Bearer
// @Param       image_id path string true "Image ID (UUID)"
// @Param       variant query string false "original or result (default result)"
// @Success     200 {file} binary
// @Failure     400 {object} models.ErrorResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /images/{image_id}/download [get]
func (h *ImagesHandler) Download(c *gin.Context) {
	img, _, ok := loadImage(c, h.ledger)
	if !ok {
		return
	}

	var metaKey, declared string
	switch variant := c.DefaultQuery("variant", "result"); variant {
	case "result":
		metaKey = "resultStorageKey"
	case "original":
		metaKey = "originalStorageKey"
		declared, _ = img.Metadata["contentType"].(string)
	default:
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid variant",
			Message: fmt.Sprintf("unknown variant %q", variant),
		})
		return
	}

	key, _ := img.Metadata[metaKey].(string)
	if key == "" {
		c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "stored image not found"})
		return
	}

	data, err := h.store.Get(c.Request.Context(), key)
	if err != nil {
		h.log.Error().Err(err).Str("image_id", img.ID.String()).Str("key", key).Msg("failed to read stored image")
		c.JSON(http.StatusBadGateway, models.ErrorResponse{
			Error:   "failed to read stored image",
			Message: err.Error(),
		})
		return
	}
	c.Data(http.StatusOK, storagekey.DetectContentType(declared, data), data)
}

func generatePrompt(p *models.Project) string {
	room := "room"
	if p.RoomType.Valid && p.RoomType.String != "" {
		room = strings.ReplaceAll(p.RoomType.String, "_", " ")
	}
	return fmt.Sprintf(
		"Virtually stage this %s in a %s style for a real estate listing. "+
			"Keep the walls, windows, floor and camera angle unchanged.",
		room, strings.ReplaceAll(p.StyleTemplate, "_", " "),
	)
}
