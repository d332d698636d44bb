package handlers

import (
	"errors"
	"net/http"

	"github.com/XeroHax/accountability-app/billing"
	"github.com/XeroHax/accountability-app/logger"
	"github.com/XeroHax/accountability-app/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (a *API) HandleCreateCheckoutSession(c *gin.Context) {
	var req billing.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Get().Warn("invalid checkout request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	intent, err := a.Billing.CreateCheckout(c.Request.Context(), req)
	switch {
	case errors.Is(err, billing.ErrMissingUserID):
		c.JSON(http.StatusBadRequest, gin.H{"error": "User ID is required"})
		return
	case errors.Is(err, billing.ErrPriceOutOfRange):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating checkout session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": intent.URL})
}

func (a *API) HandleWebhook(c *gin.Context) {
	event, ok := middleware.StripeEventFromContext(c)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook handler failed"})
		return
	}

	if err := a.Billing.HandleEvent(c.Request.Context(), event); err != nil {
		logger.Get().Error("webhook error",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook handler failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (a *API) HandleGetSubscription(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	sub, err := a.Subscriptions.GetSubscription(c.Request.Context(), userID)
	if err != nil {
		respondError(c, userID, err)
		return
	}
	c.JSON(http.StatusOK, sub)
}
