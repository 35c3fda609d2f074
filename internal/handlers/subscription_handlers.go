package handlers

import (
	"net/http"
	"time"

	"billingsync/internal/common"
	"billingsync/internal/models"
	"billingsync/internal/services"

	"github.com/labstack/echo/v4"
)

// SubscriptionHandlers handles HTTP requests for subscriptions
type SubscriptionHandlers struct {
	subscriptionService services.SubscriptionService
}

func NewSubscriptionHandlers(subscriptionService services.SubscriptionService) *SubscriptionHandlers {
	return &SubscriptionHandlers{subscriptionService: subscriptionService}
}

type cancelSubscriptionRequest struct {
	SubscriptionID string  `json:"subscriptionId"`
	UserID         string  `json:"userId"`
	Reason         *string `json:"reason"`
}

type cancelSubscriptionResponse struct {
	SubscriptionID    string    `json:"subscriptionId"`
	CancelAtPeriodEnd bool      `json:"cancelAtPeriodEnd"`
	CurrentPeriodEnd  time.Time `json:"currentPeriodEnd"`
	Message           string    `json:"message"`
}

type reactivateSubscriptionResponse struct {
	SubscriptionID string                    `json:"subscriptionId"`
	Status         models.SubscriptionStatus `json:"status"`
	Message        string                    `json:"message"`
}

// CancelSubscription handles POST /cancel-subscription
func (h *SubscriptionHandlers) CancelSubscription(c echo.Context) error {
	var req cancelSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return common.SendError(c, common.ValidationError("invalid request body"))
	}

	subscriptionID, err := common.ValidateUUID(req.SubscriptionID, "subscriptionId")
	if err != nil {
		return common.SendError(c, err)
	}
	userID, err := common.ValidateUUID(req.UserID, "userId")
	if err != nil {
		return common.SendError(c, err)
	}
	if err := common.ValidateOptionalString(req.Reason, "reason", 500); err != nil {
		return common.SendError(c, err)
	}

	sub, err := h.subscriptionService.Cancel(c.Request().Context(), userID, subscriptionID, common.SafeString(req.Reason))
	if err != nil {
		return common.SendError(c, err)
	}

	return common.SendSuccess(c, cancelSubscriptionResponse{
		SubscriptionID:    sub.ID.String(),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		Message:           "Subscription will be cancelled at the end of the current billing period",
	})
}

// ReactivateSubscription handles PUT /cancel-subscription
func (h *SubscriptionHandlers) ReactivateSubscription(c echo.Context) error {
	var req cancelSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return common.SendError(c, common.ValidationError("invalid request body"))
	}

	subscriptionID, err := common.ValidateUUID(req.SubscriptionID, "subscriptionId")
	if err != nil {
		return common.SendError(c, err)
	}
	userID, err := common.ValidateUUID(req.UserID, "userId")
	if err != nil {
		return common.SendError(c, err)
	}

	sub, err := h.subscriptionService.Reactivate(c.Request().Context(), userID, subscriptionID)
	if err != nil {
		return common.SendError(c, err)
	}

	return common.SendSuccess(c, reactivateSubscriptionResponse{
		SubscriptionID: sub.ID.String(),
		Status:         sub.Status,
		Message:        "Subscription reactivated",
	})
}

type createSubscriptionRequest struct {
	UserID          string `json:"userId"`
	Email           string `json:"email"`
	PlanType        string `json:"planType"`
	BillingInterval string `json:"billingInterval"`
	Currency        string `json:"currency"`
	Gateway         string `json:"gateway"`
}

// CreateSubscription handles POST /subscriptions
func (h *SubscriptionHandlers) CreateSubscription(c echo.Context) error {
	var req createSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return common.SendError(c, common.ValidationError("invalid request body"))
	}

	userID, err := common.ValidateUUID(req.UserID, "userId")
	if err != nil {
		return common.SendError(c, err)
	}
	if req.Gateway != "" {
		if err := common.ValidateOneOf(req.Gateway, "gateway", string(models.GatewayStripe), string(models.GatewayRazorpay)); err != nil {
			return common.SendError(c, err)
		}
	}

	result, err := h.subscriptionService.Create(c.Request().Context(), services.CreateSubscriptionRequest{
		UserID:          userID,
		Email:           req.Email,
		PlanType:        req.PlanType,
		BillingInterval: req.BillingInterval,
		Currency:        req.Currency,
		Gateway:         models.Gateway(req.Gateway),
	})
	if err != nil {
		return common.SendError(c, err)
	}

	return c.JSON(http.StatusCreated, common.APIResponse{Success: true, Data: result})
}

// GetSubscription handles GET /subscriptions/:id?userId=
func (h *SubscriptionHandlers) GetSubscription(c echo.Context) error {
	subscriptionID, err := common.ValidateUUID(c.Param("id"), "subscriptionId")
	if err != nil {
		return common.SendError(c, err)
	}
	userID, err := common.ValidateUUID(c.QueryParam("userId"), "userId")
	if err != nil {
		return common.SendError(c, err)
	}

	view, err := h.subscriptionService.Get(c.Request().Context(), userID, subscriptionID)
	if err != nil {
		return common.SendError(c, err)
	}
	return common.SendSuccess(c, view)
}
