package archive

import (
	"context"
	"sync"
	"time"

	"github.com/yourorg/listings-proxy/internal/store"
)

type Job struct {
	// Key deduplicates in-flight jobs; it defaults to the payload checksum.
	Key      string
	Snapshot store.Snapshot
}

// Queue writes snapshots in the background with a fixed number of workers.
// When the buffer is full new jobs are dropped.
type Queue struct {
	ch      chan Job
	inFly   sync.Map // key -> struct{}
	Do      func(ctx context.Context, j Job)
	Timeout time.Duration

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func New(capacity int, workerCount int, do func(ctx context.Context, j Job)) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	if workerCount <= 0 {
		workerCount = 2
	}
	q := &Queue{ch: make(chan Job, capacity), Do: do, Timeout: 15 * time.Second}
	for i := 0; i < workerCount; i++ {
		q.wg.Add(1)
		go q.worker()
	}
	return q
}

// Enqueue reports whether the job was accepted.
func (q *Queue) Enqueue(j Job) bool {
	if j.Key == "" {
		j.Key = store.Checksum(j.Snapshot.Payload)
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	if _, exists := q.inFly.LoadOrStore(j.Key, struct{}{}); exists {
		return false
	}
	select {
	case q.ch <- j:
		return true
	default:
		// drop if saturated
		q.inFly.Delete(j.Key)
		return false
	}
}

// Archive satisfies the listings service hook.
func (q *Queue) Archive(endpoint, externalID string, payload []byte) {
	q.Enqueue(Job{Snapshot: store.Snapshot{Endpoint: endpoint, ExternalID: externalID, Payload: payload}})
}

// Close stops accepting jobs and waits for queued ones to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.Timeout)
		func() {
			defer func() {
				q.inFly.Delete(j.Key)
				cancel()
			}()
			if q.Do != nil {
				q.Do(ctx, j)
			}
		}()
	}
}
