package models

type CreateProjectRequest struct {
	Name          string `json:"name" binding:"required,max=120"`
	StyleTemplate string `json:"style_template" binding:"required"`
	RoomType      string `json:"room_type,omitempty"`
	// Planned number of images; uploads beyond it grow the project.
	ImageCount int `json:"image_count" binding:"gte=0,lte=100"`
}

type EditImageRequest struct {
	Prompt      string   `json:"prompt" binding:"required,max=2000"`
	Mode        EditMode `json:"mode" binding:"required,oneof=add remove"`
	MaskDataURL string   `json:"mask_data_url,omitempty" binding:"required_if=Mode remove"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RetryImageRequest is optional; remove edits must resend their mask.
type RetryImageRequest struct {
	MaskDataURL string `json:"mask_data_url,omitempty"`
}
