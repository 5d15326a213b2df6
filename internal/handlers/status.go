package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"listing-studio-backend/internal/models"
	"listing-studio-backend/internal/progress"
)

// ProgressEstimator reports cosmetic percentages for images in flight.
// *progress.Estimator implements it.
type ProgressEstimator interface {
	Observe(ctx context.Context, processing []uuid.UUID) (map[uuid.UUID]progress.Estimate, error)
	Forget(ctx context.Context, imageIDs ...uuid.UUID) error
}

type StatusHandler struct {
	ledger   Ledger
	progress ProgressEstimator
	log      zerolog.Logger
}

func NewStatusHandler(ledger Ledger, progress ProgressEstimator, log zerolog.Logger) *StatusHandler {
	return &StatusHandler{
		ledger:   ledger,
		progress: progress,
		log:      log.With().Str("handler", "status").Logger(),
	}
}

// GetStatus godoc
// @Summary     Project status
// @Description Returns the project rollup and per-image status with an estimated progress percentage.
// @Description The estimate is cosmetic and stops at 90 until the image completes.
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     200 {object} models.StatusResponse
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id}/status [get]
func (h *StatusHandler) GetStatus(c *gin.Context) {
	project, ok := loadProject(c, h.ledger)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	images, err := h.ledger.ListProjectImages(ctx, project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to list images",
			Message: err.Error(),
		})
		return
	}

	var processing, terminal []uuid.UUID
	for i := range images {
		switch {
		case images[i].Status == models.ImageStatusProcessing:
			processing = append(processing, images[i].ID)
		case images[i].Status.IsTerminal():
			terminal = append(terminal, images[i].ID)
		}
	}

	estimates := map[uuid.UUID]progress.Estimate{}
	if h.progress != nil {
		if observed, err := h.progress.Observe(ctx, processing); err != nil {
			h.log.Warn().Err(err).Str("project_id", project.ID.String()).Msg("progress estimate unavailable")
		} else {
			estimates = observed
		}
		if err := h.progress.Forget(ctx, terminal...); err != nil {
			h.log.Warn().Err(err).Msg("failed to drop progress clocks")
		}
	}

	resp := models.StatusResponse{
		ProjectID:      project.ID.String(),
		Status:         project.Status,
		ImageCount:     project.ImageCount,
		CompletedCount: project.CompletedCount,
		Counts:         models.CountByStatus(images),
		Images:         make([]models.ImageProgress, 0, len(images)),
		UpdatedAt:      project.UpdatedAt,
	}
	for i := range images {
		img := &images[i]
		item := models.ImageProgress{ImageID: img.ID.String(), Status: img.Status}
		switch img.Status {
		case models.ImageStatusCompleted:
			item.Progress = 100
		case models.ImageStatusProcessing:
			item.Progress = estimates[img.ID].Percent
			item.Stage = estimates[img.ID].Stage
		case models.ImageStatusFailed:
			item.ErrorMessage = img.ErrorMessage.String
		}
		resp.Images = append(resp.Images, item)
	}

	c.JSON(http.StatusOK, resp)
}
