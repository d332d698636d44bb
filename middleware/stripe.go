package middleware

import (
	"net/http"

	"github.com/XeroHax/accountability-app/logger"
	"github.com/XeroHax/accountability-app/metrics"
	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"go.uber.org/zap"
)

const StripeEventKey = "stripe_event"

// MaxWebhookBodyBytes matches the limit Stripe recommends for event payloads.
const MaxWebhookBodyBytes = int64(65536)

// StripeWebhookVerifier checks the Stripe-Signature header against secret and
// stores the parsed event under StripeEventKey.
func StripeWebhookVerifier(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			logger.Get().Error("webhook secret is missing in environment variables")
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing webhook secret"})
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxWebhookBodyBytes)
		b, err := c.GetRawData()
		if err != nil {
			logger.Get().Warn("unreadable webhook body", zap.Int("bytes", len(b)), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook handler failed"})
			c.Abort()
			return
		}

		event, err := webhook.ConstructEventWithOptions(b, c.GetHeader("Stripe-Signature"), secret,
			webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
		if err != nil {
			metrics.RecordWebhookEvent("", "bad_signature")
			logger.Get().Warn("webhook signature verification failed", zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook handler failed"})
			c.Abort()
			return
		}

		c.Set(StripeEventKey, event)
		c.Next()
	}
}

// StripeEventFromContext returns the event stored by StripeWebhookVerifier.
func StripeEventFromContext(c *gin.Context) (stripe.Event, bool) {
	v, ok := c.Get(StripeEventKey)
	if !ok {
		return stripe.Event{}, false
	}
	event, ok := v.(stripe.Event)
	return event, ok
}
