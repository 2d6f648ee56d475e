package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"signal-pipeline/internal/database"
)

// handleOrchestratorStart brings the pipeline up
func (s *Server) handleOrchestratorStart(c *gin.Context) {
	if err := s.orchestrator.Start(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":  s.orchestrator.State(),
		"run_id": s.orchestrator.RunID(),
	})
}

// handleOrchestratorStop brings the pipeline down
func (s *Server) handleOrchestratorStop(c *gin.Context) {
	if err := s.orchestrator.Stop(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": s.orchestrator.State()})
}

// handleOrchestratorRestart stops and starts the pipeline
func (s *Server) handleOrchestratorRestart(c *gin.Context) {
	if err := s.orchestrator.Restart(c.Request.Context()); err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":  s.orchestrator.State(),
		"run_id": s.orchestrator.RunID(),
	})
}

// handleOrchestratorStatus returns the orchestrator and worker snapshot
func (s *Server) handleOrchestratorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.Status())
}

// handleFlatten requests an intervention close of every open position.
// The monitor performs the exits on its next sweep.
func (s *Server) handleFlatten(c *gin.Context) {
	flagged, err := s.repo.RequestCloseAllOpen(c.Request.Context(), database.CloseReasonIntervention)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to request flatten"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"positions_flagged": flagged})
}

// handleGetWorkers returns the persisted worker statuses. Unlike the
// orchestrator snapshot this survives process restarts.
func (s *Server) handleGetWorkers(c *gin.Context) {
	statuses, err := s.repo.GetWorkerStatuses(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch worker statuses"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workers": statuses, "count": len(statuses)})
}
