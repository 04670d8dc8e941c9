package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mailpilot-io/mailpilot-ce/internal/models"
)

func (s *Server) createProject(c *gin.Context) {
	var payload struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id, err := s.controller.Create(c.Request.Context(), tenantID(c), payload.Name)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "status": models.ProjectStatusDraft})
}

func (s *Server) configureProject(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var payload struct {
		AccountID  int `json:"account_id" binding:"required"`
		BrandingID int `json:"branding_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.controller.Configure(c.Request.Context(), id, tenantID(c), payload.AccountID, payload.BrandingID); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": models.ProjectStatusConfigured})
}

func (s *Server) runProject(c *gin.Context) {
	s.transitionProject(c, s.controller.Run, models.ProjectStatusRunning)
}

func (s *Server) pauseProject(c *gin.Context) {
	s.transitionProject(c, s.controller.Pause, models.ProjectStatusPaused)
}

func (s *Server) stopProject(c *gin.Context) {
	s.transitionProject(c, s.controller.Stop, models.ProjectStatusStopped)
}

func (s *Server) transitionProject(c *gin.Context, transition func(ctx context.Context, projectID int, tenantID string) error, status string) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := transition(c.Request.Context(), id, tenantID(c)); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
