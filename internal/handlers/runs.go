package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/triagehub/compat-backend/internal/apperr"
	"github.com/triagehub/compat-backend/internal/ingestion"
	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/sse"
	"github.com/triagehub/compat-backend/internal/xmlreader"
)

// maxUploadBytes caps test_result.xml uploads; large CTS result files run
// tens of megabytes, not gigabytes.
const maxUploadBytes = 256 << 20

type RunHandler struct {
	log       *logger.Logger
	ingestSvc *ingestion.Service
	hub       *sse.Hub
}

func NewRunHandler(log *logger.Logger, ingestSvc *ingestion.Service, hub *sse.Hub) *RunHandler {
	return &RunHandler{
		log:       log.With("handler", "RunHandler"),
		ingestSvc: ingestSvc,
		hub:       hub,
	}
}

// Upload ingests one test_result.xml, sent either as the raw request body
// or as a multipart field named "file".
func (h *RunHandler) Upload(c *gin.Context) {
	body, err := h.uploadBody(c)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_upload", err)
		return
	}
	defer body.Close()

	in, err := xmlreader.Parse(io.LimitReader(body, maxUploadBytes))
	if err != nil {
		RespondAppError(c, err)
		return
	}

	run, sub, err := h.ingestSvc.IngestRun(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicateRun) && run != nil {
			c.JSON(http.StatusConflict, gin.H{
				"error":  APIError{Message: err.Error(), Code: "duplicate_run"},
				"run_id": run.ID,
			})
			return
		}
		h.log.Error("Run upload failed", "error", err)
		RespondAppError(c, err)
		return
	}

	resp := gin.H{"run": run}
	if sub != nil {
		resp["submission_id"] = sub.ID
		h.hub.Publish(sub.ID, sse.EventRunIngested, gin.H{
			"run_id": run.ID,
			"suite":  run.TestSuiteName,
		})
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *RunHandler) uploadBody(c *gin.Context) (io.ReadCloser, error) {
	if file, err := c.FormFile("file"); err == nil {
		return file.Open()
	}
	if c.Request.Body == nil {
		return nil, errors.New("empty request body")
	}
	return c.Request.Body, nil
}
