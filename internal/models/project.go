package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type ProjectStatus string

const (
	ProjectStatusPending    ProjectStatus = "PENDING"
	ProjectStatusProcessing ProjectStatus = "PROCESSING"
	ProjectStatusCompleted  ProjectStatus = "COMPLETED"
	ProjectStatusFailed     ProjectStatus = "FAILED"
)

// Project rolls up every image version a user produced for one listing.
// ImageCount, CompletedCount and Status are owned by counter recomputation.
type Project struct {
	ID             uuid.UUID
	WorkspaceID    uuid.UUID
	UserID         uuid.UUID
	Name           string
	StyleTemplate  string
	RoomType       sql.NullString
	ImageCount     int
	CompletedCount int
	Status         ProjectStatus
	ThumbnailURL   sql.NullString
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IsDone reports whether every planned image slot has a completed version.
func (p *Project) IsDone() bool {
	return p.ImageCount > 0 && p.CompletedCount >= p.ImageCount
}

// Recompute re-derives the rollup fields from the full image set of the project
// and reports whether anything changed.
//
// Planned slots grow to the number of root uploads until the project completes.
// A slot is a root upload together with its chain of generate retries, and it
// counts as completed once any generate version in the chain completed. Edits of
// a finished photo never stand in for a missing one, and several retries of one
// failed photo fill only that photo's slot. Status only moves forward: PENDING
// to PROCESSING once any image left PENDING, and to COMPLETED once every slot
// has a completed version.
func (p *Project) Recompute(images []Image) bool {
	generated := make(map[uuid.UUID]*Image, len(images))
	for i := range images {
		if images[i].Kind == ImageKindGenerate {
			generated[images[i].ID] = &images[i]
		}
	}

	roots, started := 0, false
	done := make(map[uuid.UUID]struct{})
	var thumbnail *Image
	for i := range images {
		img := &images[i]
		if img.Status != ImageStatusPending {
			started = true
		}
		if img.Kind == ImageKindGenerate {
			if !img.ParentImageID.Valid {
				roots++
			}
			if img.Status == ImageStatusCompleted {
				done[slotOf(img, generated)] = struct{}{}
			}
		}
		if img.Status == ImageStatusCompleted && img.ResultImageURL.Valid &&
			(thumbnail == nil || img.CreatedAt.Before(thumbnail.CreatedAt)) {
			thumbnail = img
		}
	}
	completed := len(done)

	before := *p

	if p.Status != ProjectStatusCompleted && roots > p.ImageCount {
		p.ImageCount = roots
	}
	if completed > p.ImageCount {
		completed = p.ImageCount
	}
	p.CompletedCount = completed

	if p.Status != ProjectStatusCompleted {
		switch {
		case p.IsDone():
			p.Status = ProjectStatusCompleted
		case p.Status == ProjectStatusPending && started:
			p.Status = ProjectStatusProcessing
		}
	}

	if !p.ThumbnailURL.Valid && thumbnail != nil {
		p.ThumbnailURL = thumbnail.ResultImageURL
	}

	return before.ImageCount != p.ImageCount ||
		before.CompletedCount != p.CompletedCount ||
		before.Status != p.Status ||
		before.ThumbnailURL != p.ThumbnailURL
}

// ImageCounts is a per-status tally of a project's image rows.
type ImageCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func CountByStatus(images []Image) ImageCounts {
	var counts ImageCounts
	for _, img := range images {
		switch img.Status {
		case ImageStatusPending:
			counts.Pending++
		case ImageStatusProcessing:
			counts.Processing++
		case ImageStatusCompleted:
			counts.Completed++
		case ImageStatusFailed:
			counts.Failed++
		}
	}
	return counts
}

// slotOf follows generate parents up to the root upload of img. A parent that
// is not among generated ends the walk and names the slot itself.
func slotOf(img *Image, generated map[uuid.UUID]*Image) uuid.UUID {
	slot := img.ID
	cur := img
	for steps := 0; cur.ParentImageID.Valid && steps <= len(generated); steps++ {
		slot = cur.ParentImageID.UUID
		parent, ok := generated[slot]
		if !ok {
			break
		}
		cur = parent
	}
	return slot
}
