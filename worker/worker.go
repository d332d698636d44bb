// Package worker delivers task events to listeners on a fixed set of
// partitions. Events for one user always land on the same partition, so a
// user's listeners see that user's events in publish order.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"hash/fnv"
	"net/http"
	"sync"
	"time"

	"github.com/XeroHax/accountability-app/logger"
	"github.com/XeroHax/accountability-app/models"
	"go.uber.org/zap"
)

const partitionBuffer = 100

var ErrStopped = errors.New("worker pool is stopped")

// Sink receives decoded events.
type Sink interface {
	Send(evt models.TaskEvent) int
}

type WorkerPool struct {
	workers    int
	partitions []chan []byte
	sink       Sink
	wg         sync.WaitGroup
	ctx        context.Context
	cancelFunc context.CancelFunc

	// Metrics
	mu                 sync.RWMutex
	messagesProcessed  uint64
	processingDuration uint64
	bufferFillLevels   []uint64
	messagesDropped    uint64
}

func NewWorkerPool(workers int, sink Sink) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	partitions := make([]chan []byte, workers)
	bufferLevels := make([]uint64, workers)
	for i := range partitions {
		partitions[i] = make(chan []byte, partitionBuffer)
	}
	return &WorkerPool{
		workers:          workers,
		partitions:       partitions,
		sink:             sink,
		ctx:              ctx,
		cancelFunc:       cancel,
		bufferFillLevels: bufferLevels,
	}
}

func (wp *WorkerPool) Start() {
	logger.Get().Info("Starting worker pool", zap.Int("workers", wp.workers))
	for i := range wp.partitions {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop cancels the workers and waits for them. Queued jobs are discarded.
func (wp *WorkerPool) Stop() {
	logger.Get().Info("Stopping worker pool")
	wp.cancelFunc()
	wp.wg.Wait()
}

// Partition maps a user id onto one of the pool's partitions.
func (wp *WorkerPool) Partition(userID string) int32 {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int32(h.Sum32() % uint32(wp.workers))
}

// Publish queues evt on its user's partition. It implements the task
// service's publisher when no broker is configured.
func (wp *WorkerPool) Publish(ctx context.Context, evt models.TaskEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return wp.Submit(ctx, data, wp.Partition(evt.UserID))
}

func (wp *WorkerPool) Submit(ctx context.Context, job []byte, partition int32) error {
	if partition < 0 || int(partition) >= len(wp.partitions) {
		wp.mu.Lock()
		wp.messagesDropped++
		wp.mu.Unlock()
		logger.Get().Error("Invalid partition number",
			zap.Int32("partition", partition),
			zap.Int("max_partitions", len(wp.partitions)))
		return errors.New("invalid partition")
	}

	select {
	case wp.partitions[partition] <- job:
		wp.mu.Lock()
		wp.bufferFillLevels[partition]++
		wp.mu.Unlock()
		logger.Get().Debug("Job submitted to worker pool",
			zap.Int32("partition", partition))
		return nil
	case <-wp.ctx.Done():
		wp.dropped()
		logger.Get().Warn("Worker pool is stopped, job not submitted")
		return ErrStopped
	case <-ctx.Done():
		wp.dropped()
		return ctx.Err()
	}
}

func (wp *WorkerPool) dropped() {
	wp.mu.Lock()
	wp.messagesDropped++
	wp.mu.Unlock()
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	logger.Get().Info("Worker started", zap.Int("worker_id", id))

	for {
		select {
		case job := <-wp.partitions[id]:
			wp.mu.Lock()
			if wp.bufferFillLevels[id] > 0 {
				wp.bufferFillLevels[id]--
			}
			wp.mu.Unlock()

			startTime := time.Now()

			var evt models.TaskEvent
			if err := json.Unmarshal(job, &evt); err != nil {
				wp.dropped()
				logger.Get().Error("Failed to unmarshal task event",
					zap.Int("worker_id", id),
					zap.Error(err))
				continue
			}

			delivered := wp.sink.Send(evt)
			logger.Get().Debug("Delivered task event",
				zap.Int("worker_id", id),
				zap.String("user_id", evt.UserID),
				zap.String("type", string(evt.Type)),
				zap.Int("listeners", delivered))

			wp.mu.Lock()
			wp.messagesProcessed++
			wp.processingDuration += uint64(time.Since(startTime).Milliseconds())
			wp.mu.Unlock()

		case <-wp.ctx.Done():
			logger.Get().Info("Worker stopping due to context cancellation",
				zap.Int("worker_id", id))
			return
		}
	}
}

// Stats is a point-in-time view of the pool counters.
type Stats struct {
	MessagesProcessed uint64   `json:"messages_processed"`
	MessagesDropped   uint64   `json:"messages_dropped"`
	AvgProcessingMs   float64  `json:"avg_processing_ms"`
	BufferLevels      []uint64 `json:"buffer_levels"`
	ActiveWorkers     int      `json:"active_workers"`
}

func (wp *WorkerPool) Stats() Stats {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	var avgProcessingTime float64
	if wp.messagesProcessed > 0 {
		avgProcessingTime = float64(wp.processingDuration) / float64(wp.messagesProcessed)
	}
	return Stats{
		MessagesProcessed: wp.messagesProcessed,
		MessagesDropped:   wp.messagesDropped,
		AvgProcessingMs:   avgProcessingTime,
		BufferLevels:      append([]uint64(nil), wp.bufferFillLevels...),
		ActiveWorkers:     wp.workers,
	}
}

// MetricsHandler returns the current metrics as JSON
func (wp *WorkerPool) MetricsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(wp.Stats())
}
