package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"listing-studio-backend/internal/middleware"
	"listing-studio-backend/internal/models"
)

type ProjectsHandler struct {
	ledger  Ledger
	deleter ProjectDeleter
	log     zerolog.Logger
}

func NewProjectsHandler(ledger Ledger, deleter ProjectDeleter, log zerolog.Logger) *ProjectsHandler {
	return &ProjectsHandler{
		ledger:  ledger,
		deleter: deleter,
		log:     log.With().Str("handler", "projects").Logger(),
	}
}

// CreateProject godoc
// @Summary     Create a project
// @Description Creates an empty listing project in the caller's workspace
// @Tags        projects
// @Accept      json
// @Produce     json
// @Security    Bearer
// @Param       request body models.CreateProjectRequest true "Project"
// @Success     201 {object} models.ProjectResponse
// @Failure     400 {object} models.ErrorResponse
// @Failure     401 {object} models.ErrorResponse
// @Router      /projects [post]
func (h *ProjectsHandler) CreateProject(c *gin.Context) {
	workspaceID, ok := workspace(c)
	if !ok {
		return
	}
	userID, _ := middleware.UserID(c)

	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "invalid request",
			Message: err.Error(),
		})
		return
	}

	project := &models.Project{
		WorkspaceID:   workspaceID,
		UserID:        userID,
		Name:          strings.TrimSpace(req.Name),
		StyleTemplate: req.StyleTemplate,
		ImageCount:    req.ImageCount,
	}
	if req.RoomType != "" {
		project.RoomType = sql.NullString{String: req.RoomType, Valid: true}
	}

	created, err := h.ledger.CreateProject(c.Request.Context(), project)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to create project",
			Message: err.Error(),
		})
		return
	}

	h.log.Info().Str("project_id", created.ID.String()).Str("workspace_id", workspaceID.String()).Msg("project created")
	c.JSON(http.StatusCreated, models.NewProjectResponse(created))
}

func (h *ProjectsHandler) ListProjects(c *gin.Context) {
	workspaceID, ok := workspace(c)
	if !ok {
		return
	}

	projects, err := h.ledger.ListProjects(c.Request.Context(), workspaceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to list projects",
			Message: err.Error(),
		})
		return
	}

	resp := models.ProjectListResponse{Projects: make([]models.ProjectResponse, 0, len(projects))}
	for i := range projects {
		resp.Projects = append(resp.Projects, models.NewProjectResponse(&projects[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// GetProject returns the project with every image version, oldest first.
func (h *ProjectsHandler) GetProject(c *gin.Context) {
	project, ok := loadProject(c, h.ledger)
	if !ok {
		return
	}

	images, err := h.ledger.ListProjectImages(c.Request.Context(), project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to list images",
			Message: err.Error(),
		})
		return
	}

	resp := models.NewProjectResponse(project)
	resp.Images = make([]models.ImageResponse, 0, len(images))
	for i := range images {
		resp.Images = append(resp.Images, models.NewImageResponse(&images[i]))
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteProject godoc
// @Summary     Delete a project
// @Description Deletes the project, its images and their stored files. Storage cleanup is best-effort.
// @Tags        projects
// @Produce     json
// @Security    Bearer
// @Param       project_id path string true "Project ID (UUID)"
// @Success     204
// @Failure     404 {object} models.ErrorResponse
// @Router      /projects/{project_id} [delete]
func (h *ProjectsHandler) DeleteProject(c *gin.Context) {
	project, ok := loadProject(c, h.ledger)
	if !ok {
		return
	}

	if err := h.deleter.Delete(c.Request.Context(), project); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			c.JSON(http.StatusNotFound, models.ErrorResponse{Error: "project not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "failed to delete project",
			Message: err.Error(),
		})
		return
	}

	h.log.Info().Str("project_id", project.ID.String()).Msg("project deleted")
	c.Status(http.StatusNoContent)
}
