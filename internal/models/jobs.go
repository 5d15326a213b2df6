package models

import "github.com/google/uuid"

type EditMode string

const (
	EditModeAdd    EditMode = "add"
	EditModeRemove EditMode = "remove"
)

// GeneratePayload is the job body for producing the first derivative of an upload.
type GeneratePayload struct {
	ImageID uuid.UUID `json:"imageId" validate:"required"`
}

// EditPayload is the job body for deriving a new version from an existing image.
// MaskDataURL is required iff Mode is remove; that rule is enforced by the
// orchestrator so the target row can be marked failed.
type EditPayload struct {
	SourceImageID uuid.UUID `json:"sourceImageId" validate:"required"`
	TargetImageID uuid.UUID `json:"targetImageId" validate:"required"`
	Prompt        string    `json:"prompt" validate:"required"`
	Mode          EditMode  `json:"mode" validate:"required,oneof=add remove"`
	MaskDataURL   string    `json:"maskDataUrl,omitempty"`
}
