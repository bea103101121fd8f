package inbound

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"autotext_backend/platform/httpkit"
	"autotext_backend/platform/logger"
)

type Handler struct {
	service *Service
	log     *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{service: service, log: log}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/sms", h.receiveSMS)
}

// emptyTwiML tells Twilio not to send any automatic reply.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// receiveSMS is the Twilio inbound webhook. Twilio posts form-encoded
// fields; From and Body are the ones we act on.
func (h *Handler) receiveSMS(c *gin.Context) {
	from := c.PostForm("From")
	body := c.PostForm("Body")
	if from == "" {
		httpkit.Error(c, http.StatusBadRequest, "From is required", nil)
		return
	}

	result, err := h.service.HandleInbound(c.Request.Context(), from, body, time.Now().UTC())
	if err != nil {
		// Twilio retries non-2xx responses; a sender we do not know is
		// not worth a retry storm, so acknowledge and move on.
		h.log.Warn("inbound sms not processed", "from", from, "error", err)
		c.Data(http.StatusOK, "text/xml", []byte(emptyTwiML))
		return
	}

	h.log.Info("inbound sms processed",
		"lead_id", result.Lead.ID.String(),
		"created", result.Created,
		"opted_out", result.OptedOut,
	)
	c.Data(http.StatusOK, "text/xml", []byte(emptyTwiML))
}
