package events

import (
	"sync"
	"time"

	"github.com/rcoelho/apura/internal/domain"
)

// ProgressEvent is published on every meaningful job state change.
// Delivery is at-most-once per subscriber; consumers reconcile missed
// events through the pull-based job endpoint.
type ProgressEvent struct {
	JobID           string           `json:"job_id"`
	Status          domain.JobStatus `json:"status"`
	Stage           string           `json:"stage"`
	ProcessedRows   int64            `json:"processed_rows"`
	TotalRows       int64            `json:"total_rows"`
	DownloadedBytes int64            `json:"downloaded_bytes"`
	Timestamp       time.Time        `json:"timestamp"`
}

type subscriber struct {
	id    int
	jobID string // empty subscribes to all jobs
	ch    chan ProgressEvent
}

// Bus is an in-process publish/subscribe channel for progress events.
// Publish never blocks: a subscriber whose buffer is full misses the
// event.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

// NewBus creates an empty event bus.
// Parameters: none.
// Returns:
//   - *Bus: bus instance.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Subscribe registers a consumer for progress events.
// Parameters:
//   - jobID: only deliver events for this job; empty means all jobs.
//   - buffer: channel buffer size; minimum 1.
// Returns:
//   - <-chan ProgressEvent: event channel, closed on unsubscribe.
//   - func(): unsubscribe function, safe to call once.
func (b *Bus) Subscribe(jobID string, buffer int) (<-chan ProgressEvent, func()) {
	if buffer < 1 {
		buffer = 1
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	sub := &subscriber{
		id:    id,
		jobID: jobID,
		ch:    make(chan ProgressEvent, buffer),
	}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// Publish delivers an event to every matching subscriber without
// blocking.
// Parameters:
//   - ev: event to deliver; Timestamp is set when zero.
// Returns: none.
func (b *Bus) Publish(ev ProgressEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs {
		if sub.jobID != "" && sub.jobID != ev.JobID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			// Slow subscriber; it reconciles via the job endpoint.
		}
	}
}

// SubscriberCount reports how many subscribers are registered.
// Parameters: none.
// Returns:
//   - int: current subscriber count.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
