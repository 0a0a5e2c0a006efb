package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/harmony/internal/controller"
	"github.com/roach88/harmony/internal/persist"
	"github.com/roach88/harmony/internal/schema"
	"github.com/roach88/harmony/internal/store"
	"github.com/roach88/harmony/internal/syncable"
)

func addDBFlag(cmd *cobra.Command, db *string) {
	cmd.Flags().StringVar(db, "db", "", "record store path (default database.path from config)")
}

func (o *RootOptions) dbPath(flag string) string {
	if flag != "" {
		return flag
	}
	return o.Config.Database.Path
}

// openStore opens the record store. Unless create is set the database must
// already exist.
func (o *RootOptions) openStore(flag string, create bool) (*store.Store, error) {
	path := o.dbPath(flag)
	if !create {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", path))
		}
	}
	st, err := store.Open(path, store.WithLogger(o.Logger))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "opening record store", err)
	}
	o.Logger.Debug("record store opened", "path", path)
	return st, nil
}

// loadRegistry loads entity declarations from dir, or schema.dir from
// config when dir is empty.
func (o *RootOptions) loadRegistry(dir string) (*syncable.Registry, error) {
	if dir == "" {
		dir = o.Config.Schema.Dir
	}
	return schema.Load(dir, syncable.WithFilesRoot(o.Config.Files.Root))
}

// session is a controller running over a store and a container.
type session struct {
	c       *controller.Controller
	watcher *controller.FileWatcher
	drain   time.Duration
	cancel  context.CancelFunc
	done    chan error
}

// startSession attaches a controller to container and st and starts its
// processing loop. With controller.watch_files set, declared files are
// watched for the life of the session.
func (o *RootOptions) startSession(ctx context.Context, container *persist.Container, st *store.Store, reg *syncable.Registry) (*session, error) {
	c := controller.New(container, st, reg, controller.WithLogger(o.Logger))
	runCtx, cancel := context.WithCancel(ctx)
	s := &session{
		c:      c,
		drain:  o.Config.Controller.DrainTimeout.Std(),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	go func() { s.done <- c.Run(runCtx) }()

	if o.Config.Controller.WatchFiles {
		fw, err := controller.NewFileWatcher(c)
		if err == nil {
			err = fw.Start()
		}
		if err != nil {
			_ = s.close(ctx)
			return nil, fmt.Errorf("watch files: %w", err)
		}
		s.watcher = fw
	}
	return s, nil
}

// inspectSession starts a controller with no host entities, for commands
// that only read or rewrite records.
func (o *RootOptions) inspectSession(ctx context.Context, st *store.Store) (*session, error) {
	reg := syncable.NewRegistry()
	container := persist.NewContainer(reg, persist.WithLogger(o.Logger))
	return o.startSession(ctx, container, st, reg)
}

// close drains queued work within the drain timeout and stops the loop.
func (s *session) close(ctx context.Context) error {
	defer s.cancel()
	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.Stop())
	}

	drainCtx, cancel := context.WithTimeout(ctx, s.drain)
	defer cancel()
	if err := s.c.ProcessPendingUpdates(drainCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain: %w", err))
	}
	s.c.Stop()
	errs = append(errs, <-s.done)
	return errors.Join(errs...)
}
