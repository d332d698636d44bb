// Package handlers is the HTTP surface: checkout and webhook endpoints, the
// authenticated task and profile API, the task stream and operator jobs.
package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/XeroHax/accountability-app/billing"
	"github.com/XeroHax/accountability-app/logger"
	"github.com/XeroHax/accountability-app/metrics"
	"github.com/XeroHax/accountability-app/middleware"
	"github.com/XeroHax/accountability-app/models"
	"github.com/XeroHax/accountability-app/sse"
	"github.com/XeroHax/accountability-app/tasks"
	"github.com/XeroHax/accountability-app/worker"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultKeepAlive = 25 * time.Second

// API holds the dependencies of every handler.
type API struct {
	Tasks         *tasks.Service
	Billing       *billing.Provisioner // nil when payments are disabled
	Subscriptions billing.SubscriptionStore
	Hub           *sse.Hub
	Pool          *worker.WorkerPool
	Auth          *middleware.Authenticator
	Limiter       *middleware.RateLimiter

	CorsOrigin     string
	WebhookSecret  string
	InternalAPIKey string
	KeepAlive      time.Duration
}

// Router builds the gin engine with every route registered.
func (a *API) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(), metrics.Middleware(), middleware.Cors(a.CorsOrigin))

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := router.Group("/api")
	{
		checkout := []gin.HandlerFunc{a.requirePayments}
		if a.Limiter != nil {
			checkout = append(checkout, a.Limiter.Handler())
		}
		api.POST("/create-checkout-session", append(checkout, a.HandleCreateCheckoutSession)...)
		api.POST("/webhook", a.requirePayments, middleware.StripeWebhookVerifier(a.WebhookSecret), a.HandleWebhook)
	}

	authed := api.Group("", a.Auth.Middleware(false))
	{
		authed.POST("/users/me", a.HandleEnsureProfile)
		authed.GET("/users/me", a.HandleGetProfile)
		authed.PUT("/users/me/goal", a.HandleSetGoal)

		authed.GET("/tasks", a.HandleListTasks)
		authed.POST("/tasks", a.HandleCreateTask)
		authed.POST("/tasks/bulk", a.HandleCreateTasks)
		authed.PUT("/tasks/:id", a.HandleEditTask)
		authed.DELETE("/tasks/:id", a.HandleDeleteTask)
		authed.POST("/tasks/:id/complete", a.HandleCompleteTask)
		authed.POST("/tasks/:id/decrement", a.HandleDecrementTask)

		authed.GET("/subscription", a.HandleGetSubscription)
	}
	api.GET("/tasks/stream", a.Auth.Middleware(true), a.HandleTaskStream)

	internal := router.Group("/internal", middleware.InternalAPIKey(a.InternalAPIKey))
	{
		internal.POST("/jobs/monthly-reset", a.HandleMonthlyReset)
		internal.POST("/jobs/rollover", a.HandleRollover)
		if a.Pool != nil {
			internal.GET("/workers", gin.WrapF(a.Pool.MetricsHandler))
		}
	}

	return router
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Get().Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (a *API) requirePayments(c *gin.Context) {
	if a.Billing == nil {
		logger.Get().Error("Stripe is not initialized")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Stripe is not initialized"})
		c.Abort()
		return
	}
	c.Next()
}

// currentUser returns the authenticated uid, answering 401 when there is none.
func currentUser(c *gin.Context) (string, bool) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok || claims.UID() == "" {
		logger.Get().Error("invalid user claims")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return "", false
	}
	return claims.UID(), true
}

// respondError maps service errors onto status codes. Anything unexpected is
// logged and reported as a 500 without detail.
func respondError(c *gin.Context, userID string, err error) {
	switch {
	case errors.Is(err, tasks.ErrEmptyDescription),
		errors.Is(err, tasks.ErrFrequencyOutOfRange),
		errors.Is(err, tasks.ErrPeriodOutOfRange),
		errors.Is(err, tasks.ErrEmptyGoal),
		errors.Is(err, tasks.ErrNoValidTasks):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, tasks.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Task not found"})
	case errors.Is(err, tasks.ErrUserNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	default:
		logger.Get().Error("request failed", zap.String("user_id", userID), zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
