// Package progress provides cancellable handles for long-running record
// operations such as version restores and conflict resolution.
package progress

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is reported by an operation that stopped because its handle
// was cancelled.
var ErrCancelled = errors.New("progress: cancelled")

// Progress reports fractional completion of one operation. The operation
// owns the handle: it calls Add as work completes and Finish exactly once.
// Observers read Fraction, call Cancel, or Wait for the result.
type Progress struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	total     int64
	completed int64
	err       error
	finished  bool
	done      chan struct{}
}

// New creates a handle for total units of work. Cancelling ctx cancels the
// handle.
func New(ctx context.Context, total int64) *Progress {
	ctx, cancel := context.WithCancel(ctx)
	return &Progress{
		ctx:    ctx,
		cancel: cancel,
		total:  total,
		done:   make(chan struct{}),
	}
}

// Context is cancelled when the handle is cancelled. Operations should stop
// at the next safe point once it is done.
func (p *Progress) Context() context.Context {
	return p.ctx
}

// SetTotal changes the number of units of work.
func (p *Progress) SetTotal(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
}

// Add records n completed units.
func (p *Progress) Add(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed += n
	if p.completed > p.total {
		p.completed = p.total
	}
}

// Completed returns the completed units.
func (p *Progress) Completed() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

// Total returns the total units.
func (p *Progress) Total() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Fraction returns completion in [0, 1]. A finished handle always reports 1.
func (p *Progress) Fraction() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished && p.err == nil {
		return 1
	}
	if p.total <= 0 {
		return 0
	}
	return float64(p.completed) / float64(p.total)
}

// Cancel asks the operation to stop.
func (p *Progress) Cancel() {
	p.cancel()
}

// IsCancelled reports whether Cancel was called or the parent context ended.
func (p *Progress) IsCancelled() bool {
	return p.ctx.Err() != nil
}

// Finish completes the handle with err. Later calls are ignored.
func (p *Progress) Finish(err error) {
	p.mu.Lock()
	if p.finished {
		p.mu.Unlock()
		return
	}
	p.finished = true
	p.err = err
	if err == nil {
		p.completed = p.total
	}
	p.mu.Unlock()

	close(p.done)
	p.cancel()
}

// Done is closed when the operation finishes.
func (p *Progress) Done() <-chan struct{} {
	return p.done
}

// Err returns the operation's result, or nil while it is still running.
func (p *Progress) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Wait blocks until the operation finishes or ctx ends.
func (p *Progress) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
