package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/triagehub/compat-backend/internal/logger"
	"github.com/triagehub/compat-backend/internal/sse"
)

type SSEHandler struct {
	log *logger.Logger
	hub *sse.Hub
}

func NewSSEHandler(log *logger.Logger, hub *sse.Hub) *SSEHandler {
	return &SSEHandler{
		log: log.With("handler", "SSEHandler"),
		hub: hub,
	}
}

// Stream opens the event stream. Channels are passed as a comma-separated
// "channels" query parameter, e.g. ?channels=submission:<uuid>.
func (h *SSEHandler) Stream(c *gin.Context) {
	client := h.hub.NewClient()
	for _, ch := range strings.Split(c.Query("channels"), ",") {
		h.hub.AddChannel(client, ch)
	}
	defer h.hub.CloseClient(client)
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}
