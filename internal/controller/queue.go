package controller

import (
	"context"
	"sync"
)

// lane orders jobs by priority. Lower lanes are drained first.
type lane int

const (
	// laneIngestion carries host commits, notifications and seeding.
	laneIngestion lane = iota
	// laneMaintenance carries managed-record upkeep triggered by the
	// record store's own commits.
	laneMaintenance

	laneCount
)

func (l lane) String() string {
	switch l {
	case laneIngestion:
		return "ingestion"
	case laneMaintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// job is one unit of work for the processing loop.
type job struct {
	name string
	lane lane
	run  func(ctx context.Context) error
}

// jobQueue is a two-lane FIFO queue with a counting barrier.
//
// Every accepted job enters the barrier and leaves it when the processing
// loop calls Done, so Idle can report when all enqueued work, including
// work enqueued by other jobs, has finished.
//
// The queue is unbounded: a commit observer must never block the
// committing goroutine.
type jobQueue struct {
	mu     sync.Mutex
	lanes  [laneCount][]job
	closed bool
	signal chan struct{} // buffered, size 1

	pending int
	idle    chan struct{} // closed while pending == 0
}

func newJobQueue() *jobQueue {
	idle := make(chan struct{})
	close(idle)
	return &jobQueue{
		signal: make(chan struct{}, 1),
		idle:   idle,
	}
}

// Enqueue adds j to the back of its lane and enters the barrier.
// Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.lanes[j.lane] = append(q.lanes[j.lane], j)
	if q.pending == 0 {
		q.idle = make(chan struct{})
	}
	q.pending++

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front job of the highest-priority non-empty lane.
func (q *jobQueue) TryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for l := range q.lanes {
		jobs := q.lanes[l]
		if len(jobs) == 0 {
			continue
		}
		j := jobs[0]
		jobs[0] = job{}
		if len(jobs) == 1 {
			q.lanes[l] = jobs[:0]
		} else {
			q.lanes[l] = jobs[1:]
		}
		return j, true
	}
	return job{}, false
}

// Done leaves the barrier for one dequeued job.
func (q *jobQueue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.pending == 0 {
		return
	}
	q.pending--
	if q.pending == 0 {
		close(q.idle)
	}
}

// Idle returns a channel that is closed once every job accepted so far
// has called Done.
func (q *jobQueue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

// Pending returns the number of jobs that entered the barrier and have not
// left it.
func (q *jobQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// Wait returns a channel that signals when jobs may be available. It is
// closed when the queue is closed.
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued jobs across both lanes.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, jobs := range q.lanes {
		n += len(jobs)
	}
	return n
}

// IsClosed reports whether Close was called.
func (q *jobQueue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting jobs and wakes waiters. Queued jobs can still be
// dequeued.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
