package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rcoelho/apura/internal/logger"
)

// ErrAlreadyQueued rejects enqueueing a job that is waiting or running.
var ErrAlreadyQueued = errors.New("job already queued or running")

// QueueEntry describes one waiting job and its position.
type QueueEntry struct {
	Position int    `json:"position"`
	JobID    string `json:"job_id"`
}

// QueueStatus is a snapshot of the queue for the control surface.
type QueueStatus struct {
	IsProcessing bool         `json:"is_processing"`
	CurrentJob   string       `json:"current_job,omitempty"`
	QueueLength  int          `json:"queue_length"`
	Queue        []QueueEntry `json:"queue"`
}

// QueueManager runs import jobs strictly one at a time in submission
// order. A job failure never blocks the queue; the next job starts
// regardless of how the previous one ended.
type QueueManager struct {
	orch   *Orchestrator
	logger *logger.Logger

	mu      sync.Mutex
	waiting []string
	current string
	wake    chan struct{}
}

// NewQueueManager creates a new QueueManager.
func NewQueueManager(orch *Orchestrator, log *logger.Logger) *QueueManager {
	return &QueueManager{
		orch:   orch,
		logger: log,
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue appends a job to the queue.
// Parameters:
//   - jobID: job to run; must not already be waiting or running.
// Returns:
//   - int: 1-based queue position.
//   - error: ErrAlreadyQueued if the job is already known.
func (q *QueueManager) Enqueue(jobID string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == jobID {
		return 0, ErrAlreadyQueued
	}
	for _, id := range q.waiting {
		if id == jobID {
			return 0, ErrAlreadyQueued
		}
	}
	q.waiting = append(q.waiting, jobID)
	pos := len(q.waiting)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return pos, nil
}

// Status returns a snapshot of the queue.
// Parameters: none.
// Returns:
//   - QueueStatus: current job and waiting entries in order.
func (q *QueueManager) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	status := QueueStatus{
		IsProcessing: q.current != "",
		CurrentJob:   q.current,
		QueueLength:  len(q.waiting),
		Queue:        make([]QueueEntry, 0, len(q.waiting)),
	}
	for i, id := range q.waiting {
		status.Queue = append(status.Queue, QueueEntry{Position: i + 1, JobID: id})
	}
	return status
}

// Remove drops a waiting job from the queue, used when a queued job is
// cancelled before it starts.
// Parameters:
//   - jobID: job to drop.
// Returns:
//   - bool: true if the job was waiting and got removed.
func (q *QueueManager) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, id := range q.waiting {
		if id == jobID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			return true
		}
	}
	return false
}

// Start runs the queue loop until ctx is cancelled. It blocks, so call
// it from its own goroutine.
// Parameters:
//   - ctx: loop lifetime; in-flight jobs observe its cancellation.
// Returns: nothing.
func (q *QueueManager) Start(ctx context.Context) {
	q.logger.Info("Queue manager started")
	for {
		jobID, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				q.logger.Info("Queue manager stopped")
				return
			case <-q.wake:
			case <-time.After(time.Second):
			}
			continue
		}

		q.logger.WithField(logger.FieldJobID, jobID).Info("Dequeued job")
		if err := q.orch.Run(ctx, jobID); err != nil {
			q.logger.WithField(logger.FieldJobID, jobID).WithError(err).Error("Job run ended with error")
		}
		q.finish(jobID)

		if ctx.Err() != nil {
			q.logger.Info("Queue manager stopped")
			return
		}
	}
}

// Drain synchronously runs everything currently queued. Only tests and
// the one-shot importer command use it.
// Parameters:
//   - ctx: run lifetime.
// Returns: nothing.
func (q *QueueManager) Drain(ctx context.Context) {
	for {
		jobID, ok := q.next()
		if !ok {
			return
		}
		if err := q.orch.Run(ctx, jobID); err != nil {
			q.logger.WithField(logger.FieldJobID, jobID).WithError(err).Error("Job run ended with error")
		}
		q.finish(jobID)
	}
}

func (q *QueueManager) next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.waiting) == 0 {
		return "", false
	}
	jobID := q.waiting[0]
	q.waiting = q.waiting[1:]
	q.current = jobID
	return jobID, true
}

func (q *QueueManager) finish(jobID string) {
	q.mu.Lock()
	if q.current == jobID {
		q.current = ""
	}
	q.mu.Unlock()
}
