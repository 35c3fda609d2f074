package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"billingsync/internal/common"
	"billingsync/internal/models"
	"billingsync/internal/services"

	"github.com/labstack/echo/v4"
)

// WebhookHandlers receives billing provider notifications.
type WebhookHandlers struct {
	webhookService services.WebhookService
	logger         *slog.Logger
}

func NewWebhookHandlers(webhookService services.WebhookService, logger *slog.Logger) *WebhookHandlers {
	return &WebhookHandlers{
		webhookService: webhookService,
		logger:         logger,
	}
}

// StripeWebhook handles POST /webhook and POST /webhook/stripe
func (h *WebhookHandlers) StripeWebhook(c echo.Context) error {
	return h.receive(c, models.GatewayStripe)
}

// RazorpayWebhook handles POST /webhook/razorpay
func (h *WebhookHandlers) RazorpayWebhook(c echo.Context) error {
	return h.receive(c, models.GatewayRazorpay)
}

// receive hands the untouched body to the service; signatures are computed over these exact bytes.
func (h *WebhookHandlers) receive(c echo.Context, gateway models.Gateway) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "failed to read request body"})
	}

	if err := h.webhookService.Receive(c.Request().Context(), gateway, body, c.Request().Header); err != nil {
		status := common.HTTPStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("webhook processing failed", "gateway", gateway, "error", err)
		} else {
			h.logger.Warn("webhook rejected", "gateway", gateway, "error", err)
		}
		return c.JSON(status, map[string]string{"error": common.PublicMessage(err)})
	}

	return c.JSON(http.StatusOK, map[string]bool{"received": true})
}
