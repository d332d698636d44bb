package handlers

import (
	"net/http"
	"time"

	"github.com/XeroHax/accountability-app/logger"
	"github.com/XeroHax/accountability-app/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleMonthlyReset runs the monthly reset on demand.
func (a *API) HandleMonthlyReset(c *gin.Context) {
	err := a.Tasks.ResetMonth(c.Request.Context(), time.Now())
	metrics.RecordJobRun("monthly_reset", err == nil)
	if err != nil {
		logger.Get().Error("monthly reset failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleRollover runs the period rollover on demand.
func (a *API) HandleRollover(c *gin.Context) {
	n, err := a.Tasks.RolloverPeriods(c.Request.Context(), time.Now())
	metrics.RecordJobRun("rollover", err == nil)
	if err != nil {
		logger.Get().Error("period rollover failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "rolled_over": n})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rolled_over": n})
}
