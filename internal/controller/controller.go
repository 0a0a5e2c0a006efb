package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/harmony/internal/persist"
	"github.com/roach88/harmony/internal/progress"
	"github.com/roach88/harmony/internal/record"
	"github.com/roach88/harmony/internal/store"
	"github.com/roach88/harmony/internal/syncable"
)

// Author tags container transactions made by the controller. Commits with
// this author are never ingested as local changes.
const Author = "harmony.controller"

// Controller is the record controller: it observes host commits, keeps
// local, remote and managed records current, and answers sync queries.
//
// All record-state transitions triggered by commits run on the single
// goroutine that calls Run. Host commits only enqueue work.
//
// Thread-safety model:
//   - commit callbacks, NotifyChanged, Seed: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - queries and record operations: safe from any goroutine; they use
//     their own store transactions
type Controller struct {
	container *persist.Container
	store     *store.Store
	registry  *syncable.Registry
	logger    *slog.Logger
	now       func() time.Time

	queue   *jobQueue
	running atomic.Bool

	// fileWatcher is set while a FileWatcher is running.
	fileWatcher atomic.Pointer[FileWatcher]
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithClock overrides the wall clock used for modification dates.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// New creates a controller and registers it with the container and the
// record store.
func New(container *persist.Container, s *store.Store, registry *syncable.Registry, opts ...Option) *Controller {
	c := &Controller{
		container: container,
		store:     s,
		registry:  registry,
		logger:    slog.Default(),
		now:       time.Now,
		queue:     newJobQueue(),
	}
	for _, opt := range opts {
		opt(c)
	}

	container.AddObserver(c)
	s.AddObserver(c)
	return c
}

// Store returns the record store.
func (c *Controller) Store() *store.Store {
	return c.store
}

// Container returns the observed container.
func (c *Controller) Container() *persist.Container {
	return c.container
}

// Registry returns the entity registry.
func (c *Controller) Registry() *syncable.Registry {
	return c.registry
}

func (c *Controller) enqueue(j job) error {
	if !c.queue.Enqueue(j) {
		return ErrStopped
	}
	return nil
}

// Start launches the processing loop on its own goroutine and seeds the
// record store if it has never been seeded. The returned handle tracks
// seeding and is nil when no seeding was needed.
func (c *Controller) Start(ctx context.Context) (*progress.Progress, error) {
	if !c.running.Load() {
		go func() {
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Error("controller stopped", "error", err)
			}
		}()
	}

	seeded, err := c.store.IsSeeded(ctx)
	if err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}
	if seeded {
		return nil, nil
	}
	return c.Seed(ctx), nil
}

// Run processes queued work until ctx is cancelled or Stop is called.
//
// A failed job is logged with its name and lane and processing continues.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("controller: already running")
	}
	defer c.running.Store(false)

	c.logger.Info("controller starting")

	for {
		if j, ok := c.queue.TryDequeue(); ok {
			if err := j.run(ctx); err != nil {
				c.logger.Error("job failed",
					"job", j.name,
					"lane", j.lane.String(),
					"error", err,
				)
			}
			c.queue.Done()
			continue
		}

		select {
		case <-ctx.Done():
			c.logger.Info("controller stopping: context cancelled")
			c.queue.Close()
			return ctx.Err()

		case <-c.queue.Wait():
			if c.queue.IsClosed() && c.queue.Len() == 0 {
				c.logger.Info("controller stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once queued work has drained.
func (c *Controller) Stop() {
	c.queue.Close()
}

// ProcessPendingUpdates blocks until every job enqueued so far, and every
// job those jobs enqueue, has finished.
func (c *Controller) ProcessPendingUpdates(ctx context.Context) error {
	select {
	case <-c.queue.Idle():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Seed creates a normal local record for every syncable entity that has
// none. Existing local records are never overwritten. Seeding runs on the
// processing loop; the returned handle reports its progress.
func (c *Controller) Seed(ctx context.Context) *progress.Progress {
	p := progress.New(ctx, 0)
	err := c.enqueue(job{
		name: "seed",
		lane: laneIngestion,
		run: func(context.Context) error {
			err := c.seed(p)
			p.Finish(err)
			return err
		},
	})
	if err != nil {
		p.Finish(err)
	}
	return p
}

func (c *Controller) seed(p *progress.Progress) error {
	ctx := p.Context()
	objects := c.container.All()
	p.SetTotal(int64(len(objects)))

	tx := c.store.Begin()
	created := 0
	for _, obj := range objects {
		if p.IsCancelled() {
			tx.Rollback()
			return progress.ErrCancelled
		}

		e, err := c.registry.Bind(obj, c.container)
		if err != nil {
			p.Add(1)
			continue
		}
		identifier, ok := e.SyncableIdentifier()
		if !ok || !e.IsSyncingEnabled() {
			p.Add(1)
			continue
		}

		id := record.NewRecordID(e.SyncableType(), identifier)
		m, err := tx.ManagedRecord(ctx, id)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			tx.Rollback()
			return fmt.Errorf("seed %s: %w", id, err)
		}
		if m != nil && m.Local != nil {
			p.Add(1)
			continue
		}

		lr, err := syncable.NewLocalRecord(e, obj.ID.String(), c.now())
		if err != nil {
			c.logger.Warn("skipping entity during seeding", "object", obj.ID.String(), "error", err)
			p.Add(1)
			continue
		}
		tx.SaveLocal(lr)
		created++
		p.Add(1)
	}

	if p.IsCancelled() {
		tx.Rollback()
		return progress.ErrCancelled
	}
	if _, err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if err := c.store.SetSeeded(ctx, true); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	c.logger.Info("seeded local records", "objects", len(objects), "created", created)
	return nil
}

// Reset clears the record store, including account change tokens and the
// seeding flag.
func (c *Controller) Reset(ctx context.Context) error {
	if err := c.store.Reset(ctx); err != nil {
		return err
	}
	return nil
}
