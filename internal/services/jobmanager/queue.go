package jobmanager

import (
	"sync"

	"github.com/naonao34567890/orcapipe/internal/models"
)

// fifoQueue is an in-memory, thread-safe FIFO of pending jobs. Submit
// enqueues; workers dequeue with a short timeout so fatal_seen and
// shutdown are observed promptly (§4.5).
type fifoQueue struct {
	mu     sync.Mutex
	items  []*models.Job
	notify chan struct{}
}

func newFifoQueue() *fifoQueue {
	return &fifoQueue{notify: make(chan struct{}, 1)}
}

// push appends job and wakes one waiting dequeuer, if any.
func (q *fifoQueue) push(job *models.Job) {
	q.mu.Lock()
	q.items = append(q.items, job)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// tryPop removes and returns the front job, or (nil, false) if empty.
func (q *fifoQueue) tryPop() (*models.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	job := q.items[0]
	q.items = q.items[1:]
	return job, true
}

// snapshot returns a copy of the currently pending jobs, for weighted
// pending count and introspection.
func (q *fifoQueue) snapshot() []*models.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*models.Job, len(q.items))
	copy(out, q.items)
	return out
}
