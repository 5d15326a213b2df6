package models

import "time"

type ProjectResponse struct {
	ID             string          `json:"project_id"`
	WorkspaceID    string          `json:"workspace_id"`
	Name           string          `json:"name"`
	StyleTemplate  string          `json:"style_template"`
	RoomType       string          `json:"room_type,omitempty"`
	ImageCount     int             `json:"image_count"`
	CompletedCount int             `json:"completed_count"`
	Status         ProjectStatus   `json:"status"`
	ThumbnailURL   string          `json:"thumbnail_url,omitempty"`
	Images         []ImageResponse `json:"images,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ProjectListResponse struct {
	Projects []ProjectResponse `json:"projects"`
}

type ImageResponse struct {
	ID               string                 `json:"image_id"`
	ProjectID        string                 `json:"project_id"`
	ParentImageID    string                 `json:"parent_image_id,omitempty"`
	Kind             ImageKind              `json:"kind"`
	Status           ImageStatus            `json:"status"`
	OriginalImageURL string                 `json:"original_image_url"`
	ResultImageURL   string                 `json:"result_image_url,omitempty"`
	Prompt           string                 `json:"prompt"`
	ErrorMessage     string                 `json:"error_message,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
}

type EnqueueResponse struct {
	ImageID string      `json:"image_id"`
	Status  ImageStatus `json:"status"`
}

type StatusResponse struct {
	ProjectID      string          `json:"project_id"`
	Status         ProjectStatus   `json:"status"`
	ImageCount     int             `json:"image_count"`
	CompletedCount int             `json:"completed_count"`
	Counts         ImageCounts     `json:"counts"`
	Images         []ImageProgress `json:"images"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type ImageProgress struct {
	ImageID      string      `json:"image_id"`
	Status       ImageStatus `json:"status"`
	Progress     int         `json:"progress"`
	Stage        string      `json:"stage,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func NewProjectResponse(p *Project) ProjectResponse {
	resp := ProjectResponse{
		ID:             p.ID.String(),
		WorkspaceID:    p.WorkspaceID.String(),
		Name:           p.Name,
		StyleTemplate:  p.StyleTemplate,
		ImageCount:     p.ImageCount,
		CompletedCount: p.CompletedCount,
		Status:         p.Status,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
	if p.RoomType.Valid {
		resp.RoomType = p.RoomType.String
	}
	if p.ThumbnailURL.Valid {
		resp.ThumbnailURL = p.ThumbnailURL.String
	}
	return resp
}

func NewImageResponse(img *Image) ImageResponse {
	resp := ImageResponse{
		ID:               img.ID.String(),
		ProjectID:        img.ProjectID.String(),
		Kind:             img.Kind,
		Status:           img.Status,
		OriginalImageURL: img.OriginalImageURL,
		Prompt:           img.Prompt,
		Metadata:         img.Metadata,
		CreatedAt:        img.CreatedAt,
		UpdatedAt:        img.UpdatedAt,
	}
	if img.ParentImageID.Valid {
		resp.ParentImageID = img.ParentImageID.UUID.String()
	}
	if img.ResultImageURL.Valid {
		resp.ResultImageURL = img.ResultImageURL.String
	}
	if img.ErrorMessage.Valid {
		resp.ErrorMessage = img.ErrorMessage.String
	}
	return resp
}

type UploadResponse struct {
	Images []EnqueueResponse `json:"images"`
	Errors []UploadError     `json:"errors,omitempty"`
}

type UploadError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}
