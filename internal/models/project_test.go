package models_test

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"listing-studio-backend/internal/models"
)

func image(status models.ImageStatus) models.Image {
	img := models.Image{
		ID:        uuid.New(),
		Kind:      models.ImageKindGenerate,
		Status:    status,
		CreatedAt: time.Now(),
	}
	if status == models.ImageStatusCompleted {
		img.ResultImageURL = sql.NullString{String: "https://cdn.test/" + img.ID.String() + ".jpg", Valid: true}
	}
	return img
}

func TestProject_Recompute_TwoOfThree(t *testing.T) {
	p := models.Project{ImageCount: 3, Status: models.ProjectStatusPending}
	images := []models.Image{
		image(models.ImageStatusCompleted),
		image(models.ImageStatusCompleted),
		image(models.ImageStatusFailed),
	}

	changed := p.Recompute(images)

	assert.True(t, changed)
	assert.Equal(t, 3, p.ImageCount)
	assert.Equal(t, 2, p.CompletedCount)
	assert.Equal(t, models.ProjectStatusProcessing, p.Status)
	assert.True(t, p.ThumbnailURL.Valid)
}

func TestProject_Recompute_Idempotent(t *testing.T) {
	p := models.Project{ImageCount: 2, Status: models.ProjectStatusPending}
	images := []models.Image{image(models.ImageStatusCompleted), image(models.ImageStatusProcessing)}

	p.Recompute(images)
	first := p

	changed := p.Recompute(images)

	assert.False(t, changed)
	assert.Equal(t, first, p)
}

func TestProject_Recompute_CompletesAndNeverDowngrades(t *testing.T) {
	p := models.Project{ImageCount: 2, Status: models.ProjectStatusProcessing}
	images := []models.Image{image(models.ImageStatusCompleted), image(models.ImageStatusCompleted)}

	p.Recompute(images)
	assert.Equal(t, models.ProjectStatusCompleted, p.Status)
	assert.Equal(t, 2, p.CompletedCount)

	// A late upload races completion and fails; the project stays done.
	images = append(images, image(models.ImageStatusFailed))
	p.Recompute(images)

	assert.Equal(t, models.ProjectStatusCompleted, p.Status)
	assert.Equal(t, 2, p.ImageCount)
	assert.Equal(t, 2, p.CompletedCount)
}

func TestProject_Recompute_EmptyProjectStaysPending(t *testing.T) {
	p := models.Project{Status: models.ProjectStatusPending}

	changed := p.Recompute(nil)

	assert.False(t, changed)
	assert.Equal(t, 0, p.ImageCount)
	assert.Equal(t, models.ProjectStatusPending, p.Status)
}

func TestProject_Recompute_EditsDoNotFillSlots(t *testing.T) {
	p := models.Project{ImageCount: 2, Status: models.ProjectStatusProcessing}
	done := image(models.ImageStatusCompleted)
	edit := image(models.ImageStatusCompleted)
	edit.Kind = models.ImageKindEdit
	edit.ParentImageID = uuid.NullUUID{UUID: done.ID, Valid: true}

	p.Recompute([]models.Image{done, image(models.ImageStatusFailed), edit})

	assert.Equal(t, 1, p.CompletedCount)
	assert.Equal(t, models.ProjectStatusProcessing, p.Status)
}

func TestProject_Recompute_RetryFillsFailedSlot(t *testing.T) {
	p := models.Project{ImageCount: 2, Status: models.ProjectStatusProcessing}
	failed := image(models.ImageStatusFailed)
	retry := image(models.ImageStatusCompleted)
	retry.ParentImageID = uuid.NullUUID{UUID: failed.ID, Valid: true}

	p.Recompute([]models.Image{image(models.ImageStatusCompleted), failed, retry})

	assert.Equal(t, 2, p.ImageCount)
	assert.Equal(t, 2, p.CompletedCount)
	assert.Equal(t, models.ProjectStatusCompleted, p.Status)
}

func TestProject_Recompute_CompletedNeverExceedsImageCount(t *testing.T) {
	p := models.Project{ImageCount: 1, Status: models.ProjectStatusProcessing}
	failed := image(models.ImageStatusFailed)
	r1 := image(models.ImageStatusCompleted)
	r1.ParentImageID = uuid.NullUUID{UUID: failed.ID, Valid: true}
	r2 := image(models.ImageStatusCompleted)
	r2.ParentImageID = uuid.NullUUID{UUID: failed.ID, Valid: true}

	p.Recompute([]models.Image{failed, r1, r2})

	assert.LessOrEqual(t, p.CompletedCount, p.ImageCount)
	assert.Equal(t, 1, p.CompletedCount)
}

func TestProject_Recompute_DuplicateRetriesFillOneSlot(t *testing.T) {
	p := models.Project{ImageCount: 2, Status: models.ProjectStatusProcessing}
	pending := image(models.ImageStatusPending)
	failed := image(models.ImageStatusFailed)
	r1 := image(models.ImageStatusCompleted)
	r1.ParentImageID = uuid.NullUUID{UUID: failed.ID, Valid: true}
	r2 := image(models.ImageStatusCompleted)
	r2.ParentImageID = uuid.NullUUID{UUID: failed.ID, Valid: true}

	p.Recompute([]models.Image{pending, failed, r1, r2})

	assert.Equal(t, 2, p.ImageCount)
	assert.Equal(t, 1, p.CompletedCount)
	assert.Equal(t, models.ProjectStatusProcessing, p.Status)
}

func TestProject_Recompute_RetryOfRetryFillsRootSlot(t *testing.T) {
	p := models.Project{ImageCount: 2, Status: models.ProjectStatusProcessing}
	pending := image(models.ImageStatusPending)
	failed := image(models.ImageStatusFailed)
	r1 := image(models.ImageStatusFailed)
	r1.ParentImageID = uuid.NullUUID{UUID: failed.ID, Valid: true}
	r2 := image(models.ImageStatusCompleted)
	r2.ParentImageID = uuid.NullUUID{UUID: r1.ID, Valid: true}
	r3 := image(models.ImageStatusCompleted)
	r3.ParentImageID = uuid.NullUUID{UUID: failed.ID, Valid: true}

	p.Recompute([]models.Image{pending, failed, r1, r2, r3})

	assert.Equal(t, 1, p.CompletedCount)
	assert.Equal(t, models.ProjectStatusProcessing, p.Status)
}

func TestProject_Recompute_ParentCycleTerminates(t *testing.T) {
	p := models.Project{ImageCount: 1, Status: models.ProjectStatusProcessing}
	a := image(models.ImageStatusCompleted)
	b := image(models.ImageStatusCompleted)
	a.ParentImageID = uuid.NullUUID{UUID: b.ID, Valid: true}
	b.ParentImageID = uuid.NullUUID{UUID: a.ID, Valid: true}

	p.Recompute([]models.Image{a, b})

	assert.LessOrEqual(t, p.CompletedCount, p.ImageCount)
}

func TestMetadata_Scan(t *testing.T) {
	var m models.Metadata
	assert.NoError(t, m.Scan([]byte(`{"model":"stage-v1"}`)))
	assert.Equal(t, "stage-v1", m["model"])

	assert.NoError(t, m.Scan(nil))
	assert.Empty(t, m)

	assert.Error(t, m.Scan(42))
}

func TestCountByStatus(t *testing.T) {
	counts := models.CountByStatus([]models.Image{
		image(models.ImageStatusPending),
		image(models.ImageStatusCompleted),
		image(models.ImageStatusCompleted),
		image(models.ImageStatusFailed),
	})

	assert.Equal(t, models.ImageCounts{Pending: 1, Completed: 2, Failed: 1}, counts)
}
