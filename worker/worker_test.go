package worker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/XeroHax/accountability-app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []models.TaskEvent
}

func (c *collector) Send(evt models.TaskEvent) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
	return 1
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestPublishDeliversInOrderPerUser(t *testing.T) {
	sink := &collector{}
	wp := NewWorkerPool(4, sink)
	wp.Start()
	defer wp.Stop()

	for i := 0; i < 20; i++ {
		require.NoError(t, wp.Publish(context.Background(), models.TaskEvent{
			Type:      models.TaskCompleted,
			UserID:    "u1",
			Timestamp: int64(i),
		}))
	}

	require.Eventually(t, func() bool { return sink.len() == 20 }, time.Second, 5*time.Millisecond)
	sink.mu.Lock()
	for i, evt := range sink.events {
		assert.Equal(t, int64(i), evt.Timestamp)
	}
	sink.mu.Unlock()

	stats := wp.Stats()
	assert.Equal(t, uint64(20), stats.MessagesProcessed)
	assert.Equal(t, 4, stats.ActiveWorkers)
}

func TestPartitionIsStable(t *testing.T) {
	wp := NewWorkerPool(8, &collector{})
	p := wp.Partition("user-abc")
	assert.Equal(t, p, wp.Partition("user-abc"))
	assert.GreaterOrEqual(t, p, int32(0))
	assert.Less(t, p, int32(8))
}

func TestSubmitAfterStop(t *testing.T) {
	wp := NewWorkerPool(1, &collector{})
	wp.Start()
	wp.Stop()

	for i := 0; i < partitionBuffer; i++ {
		wp.partitions[0] <- []byte("{}")
	}
	err := wp.Submit(context.Background(), []byte("{}"), 0)
	assert.ErrorIs(t, err, ErrStopped)
	assert.Error(t, wp.Submit(context.Background(), []byte("{}"), 3))
	assert.Equal(t, uint64(2), wp.Stats().MessagesDropped)
}

func TestMetricsHandler(t *testing.T) {
	wp := NewWorkerPool(2, &collector{})
	w := httptest.NewRecorder()
	wp.MetricsHandler(w, httptest.NewRequest(http.MethodGet, "/internal/workers", nil))

	var stats Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.ActiveWorkers)
	assert.Len(t, stats.BufferLevels, 2)
}
