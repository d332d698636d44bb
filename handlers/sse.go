package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/XeroHax/accountability-app/logger"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandleTaskStream streams the caller's task events. The first event is a
// snapshot of the profile and live tasks; the subscription ends when the
// client disconnects.
func (a *API) HandleTaskStream(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	stream, unsubscribe := a.Hub.Subscribe(userID)
	defer unsubscribe()

	snapshot, err := a.Tasks.Snapshot(c.Request.Context(), userID)
	if err != nil {
		respondError(c, userID, err)
		return
	}
	first, err := json.Marshal(snapshot)
	if err != nil {
		respondError(c, userID, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	logger.Get().Info("task stream opened", zap.String("user_id", userID))
	defer logger.Get().Info("task stream closed", zap.String("user_id", userID))

	keepAlive := a.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	c.Status(http.StatusOK)
	writeEvent(c.Writer, first)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg := <-stream.Messages:
			writeEvent(w, msg)
			return true
		case <-ticker.C:
			io.WriteString(w, ": keep-alive\n\n")
			return true
		case <-stream.Done:
			return false
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func writeEvent(w io.Writer, data []byte) {
	io.WriteString(w, "data: ")
	w.Write(data)
	io.WriteString(w, "\n\n")
}
