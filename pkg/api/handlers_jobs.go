package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"testhive/pkg/models"
	"testhive/pkg/queue"
	"testhive/pkg/storage"
)

// submitJob handles POST /api/v1/jobs.
func (s *Server) submitJob(c *gin.Context) {
	var req queue.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.queue.Submit(c.Request.Context(), &req)
	if err != nil {
		s.renderError(c, err)
		return
	}

	status := http.StatusCreated
	if result.Message == "duplicate" {
		status = http.StatusOK
	}
	c.JSON(status, result)
}

// getJob handles GET /api/v1/jobs/:id.
func (s *Server) getJob(c *gin.Context) {
	job, err := s.queue.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// listJobs handles GET /api/v1/jobs?org_id=...&status=...
func (s *Server) listJobs(c *gin.Context) {
	orgID := c.Query("org_id")
	if orgID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "org_id query parameter is required"})
		return
	}

	status := models.Status(c.Query("status"))
	if status != "" && !models.ValidStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
		return
	}

	jobs, err := s.queue.List(c.Request.Context(), orgID, status)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}

	c.JSON(http.StatusOK, gin.H{
		"org_id":        orgID,
		"status_filter": string(status),
		"count":         len(jobs),
		"jobs":          jobs,
	})
}

// cancelJob handles POST /api/v1/jobs/:id/cancel.
func (s *Server) cancelJob(c *gin.Context) {
	job, err := s.queue.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// retryJob handles POST /api/v1/jobs/:id/retry.
func (s *Server) retryJob(c *gin.Context) {
	job, err := s.queue.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// getStats handles GET /api/v1/stats.
func (s *Server) getStats(c *gin.Context) {
	stats, err := s.queue.Stats(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queue": stats,
		"scheduler": gin.H{
			"agents":       s.pool.AgentCount(),
			"devices":      s.pool.DeviceCount(),
			"running_jobs": s.pool.RunningJobs(),
		},
	})
}

// listGroups handles GET /api/v1/groups.
func (s *Server) listGroups(c *gin.Context) {
	groups, err := s.queue.Groups(c.Request.Context())
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(groups), "groups": groups})
}

// listDevices handles GET /api/v1/devices.
func (s *Server) listDevices(c *gin.Context) {
	devices := s.pool.Devices()
	c.JSON(http.StatusOK, gin.H{"count": len(devices), "devices": devices})
}

// renderError maps core errors to HTTP status codes.
func (s *Server) renderError(c *gin.Context, err error) {
	var validationErr *queue.ValidationError
	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error": validationErr.Error(),
			"field": validationErr.Field,
		})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, queue.ErrInvalidState):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
