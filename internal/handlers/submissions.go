package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/triagehub/compat-backend/internal/ingestion"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/repos"
)

type SubmissionHandler struct {
	log            *logger.Logger
	submissionRepo repos.SubmissionRepo
	testRunRepo    repos.TestRunRepo
	ingestSvc      *ingestion.Service
}

func NewSubmissionHandler(log *logger.Logger, submissionRepo repos.SubmissionRepo, testRunRepo repos.TestRunRepo, ingestSvc *ingestion.Service) *SubmissionHandler {
	return &SubmissionHandler{
		log:            log.With("handler", "SubmissionHandler"),
		submissionRepo: submissionRepo,
		testRunRepo:    testRunRepo,
		ingestSvc:      ingestSvc,
	}
}

func (h *SubmissionHandler) List(c *gin.Context) {
	rows, err := h.submissionRepo.ListWithStats(c.Request.Context(), nil)
	if err != nil {
		h.log.Error("List submissions failed", "error", err)
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"submissions": rows})
}

func (h *SubmissionHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	sub, err := h.submissionRepo.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	runs, err := h.testRunRepo.ListBySubmission(c.Request.Context(), nil, id)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"submission": sub, "runs": runs})
}

func (h *SubmissionHandler) Delete(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	if err := h.ingestSvc.DeleteSubmission(c.Request.Context(), id); err != nil {
		h.log.Error("Delete submission failed", "submission_id", id, "error", err)
		RespondAppError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func pathUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_id", err)
		return uuid.Nil, false
	}
	return id, true
}
