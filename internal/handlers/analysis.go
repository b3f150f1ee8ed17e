package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/triagehub/compat-backend/internal/analysis"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/repos"
)

type AnalysisHandler struct {
	log         *logger.Logger
	analysisSvc *analysis.Service
	jobRepo     repos.AnalysisJobRepo
}

func NewAnalysisHandler(log *logger.Logger, analysisSvc *analysis.Service, jobRepo repos.AnalysisJobRepo) *AnalysisHandler {
	return &AnalysisHandler{
		log:         log.With("handler", "AnalysisHandler"),
		analysisSvc: analysisSvc,
		jobRepo:     jobRepo,
	}
}

// Enqueue queues the LLM triage of a submission and returns the job id;
// completion is observable via SSE or the job endpoint.
func (h *AnalysisHandler) Enqueue(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	job, err := h.analysisSvc.Enqueue(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Enqueue analysis failed", "submission_id", id, "error", err)
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job": job})
}

func (h *AnalysisHandler) GetJob(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	job, err := h.jobRepo.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"job": job})
}
