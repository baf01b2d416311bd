// Package webhooks receives LINE Messaging API webhook deliveries. Every
// request is authenticated with the channel secret signature before any event
// is decoded or dispatched.
package webhooks

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/groupguard/groupguard/internal/config"
	"github.com/groupguard/groupguard/internal/line"
	"github.com/groupguard/groupguard/internal/telemetry"
)

// maxBodyBytes caps the size of a single delivery
const maxBodyBytes = 1 << 20

// EventDispatcher handles decoded events
type EventDispatcher interface {
	Dispatch(ctx context.Context, events []*line.Event)
}

// LineWebhookHandler handles incoming LINE webhooks
type LineWebhookHandler struct {
	channelSecret string
	configured    bool
	dispatcher    EventDispatcher
}

// NewLineWebhookHandler creates a new webhook handler. Deliveries are refused
// with 500 until both channel credentials are configured.
func NewLineWebhookHandler(cfg config.LineConfig, dispatcher EventDispatcher) *LineWebhookHandler {
	return &LineWebhookHandler{
		channelSecret: cfg.ChannelSecret,
		configured:    cfg.Configured() && dispatcher != nil,
		dispatcher:    dispatcher,
	}
}

// @Summary      Receive LINE webhook
// @Description  Verifies the X-Line-Signature HMAC of the raw body, decodes the events and
// @Description  dispatches them in order. Per-event failures are logged and never change the response.
// @Tags         Webhooks
// @Accept       json
// @Produce      plain
// @Success      200  {string}  string                  "OK"
// @Failure      400  {object}  map[string]interface{}  "Missing or invalid signature, or malformed body"
// @Failure      500  {object}  map[string]interface{}  "Bot credentials not configured"
// @Router       /webhook [post]
// HandleWebhook processes a webhook delivery
// POST /webhook
func (h *LineWebhookHandler) HandleWebhook(c *gin.Context) {
	if !h.configured {
		reject(c, http.StatusInternalServerError, "not_configured", "Bot not configured")
		return
	}

	signature := c.GetHeader(line.SignatureHeader)
	if signature == "" {
		reject(c, http.StatusBadRequest, "missing_signature", "Missing signature")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		reject(c, http.StatusBadRequest, "malformed_body", "Failed to read request body")
		return
	}

	if err := line.VerifySignature(h.channelSecret, body, signature); err != nil {
		reject(c, http.StatusBadRequest, "invalid_signature", "Invalid signature")
		return
	}

	wh, err := line.ParseWebhook(body)
	if err != nil {
		reject(c, http.StatusBadRequest, "malformed_body", "Invalid JSON")
		return
	}

	if len(wh.Events) > 0 {
		slog.Debug("webhook received", "destination", wh.Destination, "events", len(wh.Events))
		h.dispatcher.Dispatch(c.Request.Context(), wh.Events)
	}

	c.String(http.StatusOK, "OK")
}

func reject(c *gin.Context, status int, reason, msg string) {
	telemetry.WebhookRejectedTotal.WithLabelValues(reason).Inc()
	slog.Warn("webhook rejected", "reason", reason, "ip", c.ClientIP())
	c.JSON(status, gin.H{"error": msg})
}
