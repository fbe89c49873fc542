package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	generationdomain "github.com/inkwell-ai/inkwell/internal/generation/domain"
)

func (s *Server) SubmitGeneration(c *gin.Context) {
	var req generationdomain.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.generationSvc.Submit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// PollGeneration reports provider-side job status. The first poll that
// observes a terminal status also writes the job's one usage charge.
func (s *Server) PollGeneration(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("job_id"))
	if jobID == "" {
		AbortWithError(c, newValidationError("job_id", "invalid_job_id", "job_id is required"))
		return
	}

	resp, err := s.generationSvc.Poll(c.Request.Context(), jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
