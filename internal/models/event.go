package models

import "github.com/google/uuid"

const (
	EventImageProcessing = "image.processing"
	EventImageCompleted  = "image.completed"
	EventImageFailed     = "image.failed"
)

// ImageEvent is the row inserted into image_events for Realtime subscribers.
type ImageEvent struct {
	Event          string      `json:"event"`
	ProjectID      uuid.UUID   `json:"project_id"`
	ImageID        uuid.UUID   `json:"image_id"`
	Status         ImageStatus `json:"status"`
	ResultImageURL string      `json:"result_image_url,omitempty"`
	ErrorMessage   string      `json:"error_message,omitempty"`
}

func NewProcessingEvent(img *Image) ImageEvent {
	return ImageEvent{
		Event:     EventImageProcessing,
		ProjectID: img.ProjectID,
		ImageID:   img.ID,
		Status:    ImageStatusProcessing,
	}
}

func NewCompletedEvent(img *Image, resultURL string) ImageEvent {
	return ImageEvent{
		Event:          EventImageCompleted,
		ProjectID:      img.ProjectID,
		ImageID:        img.ID,
		Status:         ImageStatusCompleted,
		ResultImageURL: resultURL,
	}
}

func NewFailedEvent(img *Image, errorMsg string) ImageEvent {
	return ImageEvent{
		Event:        EventImageFailed,
		ProjectID:    img.ProjectID,
		ImageID:      img.ID,
		Status:       ImageStatusFailed,
		ErrorMessage: errorMsg,
	}
}
