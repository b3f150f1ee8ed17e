package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/report"
)

type ReportHandler struct {
	log       *logger.Logger
	reportSvc *report.Service
}

func NewReportHandler(log *logger.Logger, reportSvc *report.Service) *ReportHandler {
	return &ReportHandler{
		log:       log.With("handler", "ReportHandler"),
		reportSvc: reportSvc,
	}
}

func (h *ReportHandler) Get(c *gin.Context) {
	id, ok := pathUUID(c, "id")
	if !ok {
		return
	}
	rep, err := h.reportSvc.BuildReport(c.Request.Context(), id)
	if err != nil {
		h.log.Error("Report build failed", "submission_id", id, "error", err)
		RespondAppError(c, err)
		return
	}
	RespondOK(c, rep)
}
