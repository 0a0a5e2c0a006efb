package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/roach88/harmony/internal/controller"
	"github.com/roach88/harmony/internal/ir"
	"github.com/roach88/harmony/internal/persist"
	"github.com/roach88/harmony/internal/record"
	"github.com/roach88/harmony/internal/schema"
	"github.com/roach88/harmony/internal/store"
	"github.com/roach88/harmony/internal/syncable"
	"github.com/roach88/harmony/internal/testutil"
)

// settleTimeout bounds how long a step may keep the controller busy.
const settleTimeout = 10 * time.Second

// Harness executes scenario steps against a live controller.
type Harness struct {
	registry   *syncable.Registry
	store      *store.Store
	container  *persist.Container
	controller *controller.Controller
	clock      *testutil.FixedClock
	logger     *slog.Logger
}

// Option configures Run.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger routes store, container and controller logs to l.
// Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory record store. A step that fails
// is an error unless the step names the failure in expect_error; a failed
// assertion only marks the result as failing.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	reg, err := schema.Load(scenario.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	st, err := store.Open(":memory:", store.WithLogger(o.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	clock := testutil.NewFixedClock(time.Time{})
	container := persist.NewContainer(reg,
		persist.WithLogger(o.logger),
		persist.WithUUIDGenerator(testutil.NewSequentialLocators().Next),
	)
	c := controller.New(container, st, reg,
		controller.WithClock(clock.Now),
		controller.WithLogger(o.logger),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.Run(runCtx) }()
	defer func() {
		c.Stop()
		<-done
	}()

	h := &Harness{
		registry:   reg,
		store:      st,
		container:  container,
		controller: c,
		clock:      clock,
		logger:     o.logger,
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		event, err := h.execute(runCtx, step)
		if err != nil {
			if step.ExpectError == "" || !strings.Contains(err.Error(), step.ExpectError) {
				return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
			}
			event.Detail = "error: " + step.ExpectError
		} else if step.ExpectError != "" {
			return nil, fmt.Errorf("step %d (%s): expected error containing %q", i, step.Op, step.ExpectError)
		}

		if err := h.settle(runCtx); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
		if event.Record != "" {
			event.Action = h.actionOf(runCtx, step.recordID())
		}
		result.AddTrace(event)

		h.logger.Debug("scenario step completed",
			"step", i,
			"op", step.Op,
			"record", event.Record,
			"action", event.Action,
		)
	}

	var dump bytes.Buffer
	if err := c.Dump(runCtx, &dump); err != nil {
		return nil, fmt.Errorf("failed to dump records: %w", err)
	}
	result.Records = strings.Split(strings.TrimSuffix(dump.String(), "\n"), "\n")

	actx := &AssertionContext{Ctx: runCtx, Controller: c}
	for _, msg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

func (s Step) recordID() record.RecordID {
	return record.NewRecordID(s.Entity, s.Identifier)
}

func (h *Harness) settle(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()
	return h.controller.ProcessPendingUpdates(ctx)
}

func (h *Harness) actionOf(ctx context.Context, id record.RecordID) string {
	m, err := h.store.ManagedRecord(ctx, id)
	if err != nil {
		return "absent"
	}
	return m.SyncAction().String()
}

// execute runs one step. The returned event is filled in even on error.
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	event := TraceEvent{Op: step.Op}
	if step.Entity != "" && step.Identifier != "" {
		event.Record = step.recordID().String()
	}

	switch step.Op {
	case OpInsert:
		id, err := h.insert(step)
		if err == nil && event.Record == "" {
			if rid, ok := h.container.RecordID(id); ok {
				event.Record = rid.String()
			}
		}
		return event, err

	case OpUpdate:
		return event, h.update(step)

	case OpDelete:
		obj, err := h.lookup(step)
		if err != nil {
			return event, err
		}
		tx := h.container.Begin()
		if err := tx.Delete(obj.ID); err != nil {
			tx.Rollback()
			return event, err
		}
		_, err = tx.Commit()
		return event, err

	case OpNotify:
		obj, err := h.lookup(step)
		if err != nil {
			return event, err
		}
		return event, h.controller.NotifyChanged(obj.ID)

	case OpRemote:
		return event, h.controller.ApplyRemote(ctx, h.remoteRecord(ctx, step, record.StatusUpdated))

	case OpUploaded:
		return event, h.controller.MarkUploaded(ctx, h.remoteRecord(ctx, step, record.StatusNormal))

	case OpDownloaded:
		return event, h.controller.MarkDownloaded(ctx, step.recordID())

	case OpEnable, OpDisable:
		return event, h.controller.SetSyncingEnabled(ctx, step.recordID(), step.Op == OpEnable)

	case OpArbitrate:
		n, err := h.controller.ArbitrateConflicts(ctx)
		event.Detail = fmt.Sprintf("examined %d", n)
		return event, err

	case OpKeepLocal:
		p := h.controller.KeepLocal(ctx, step.recordID())
		return event, p.Wait(ctx)

	case OpSeed:
		p := h.controller.Seed(ctx)
		if err := p.Wait(ctx); err != nil {
			return event, err
		}
		event.Detail = fmt.Sprintf("objects %d", p.Completed())
		return event, nil

	case OpAdvance:
		d, err := time.ParseDuration(step.By)
		if err != nil {
			return event, err
		}
		h.clock.Advance(d)
		event.Detail = step.By
		return event, nil

	default:
		return event, fmt.Errorf("unknown op %q", step.Op)
	}
}

func (h *Harness) lookup(step Step) (*persist.Object, error) {
	obj, ok := h.container.Lookup(step.recordID())
	if !ok {
		return nil, fmt.Errorf("no %s entity with identifier %q", step.Entity, step.Identifier)
	}
	return obj, nil
}

func (h *Harness) insert(step Step) (persist.ObjectID, error) {
	fields, err := convertFieldsToIRObject(step.Fields)
	if err != nil {
		return "", err
	}
	if step.Identifier != "" {
		pk, ok := h.registry.PrimaryKey(step.Entity)
		if !ok {
			return "", fmt.Errorf("unknown entity %q", step.Entity)
		}
		fields[pk] = ir.IRString(step.Identifier)
	}

	tx := h.container.Begin()
	id, err := tx.Insert(step.Entity, fields)
	if err != nil {
		tx.Rollback()
		return "", err
	}
	if err := h.linkRelationships(tx, id, step); err != nil {
		tx.Rollback()
		return "", err
	}
	if _, err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

func (h *Harness) update(step Step) error {
	obj, err := h.lookup(step)
	if err != nil {
		return err
	}
	fields, err := convertFieldsToIRObject(step.Fields)
	if err != nil {
		return err
	}

	tx := h.container.Begin()
	for _, key := range sortedKeys(fields) {
		if err := tx.Set(obj.ID, key, fields[key]); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := h.linkRelationships(tx, obj.ID, step); err != nil {
		tx.Rollback()
		return err
	}
	_, err = tx.Commit()
	return err
}

// linkRelationships points each named relationship at the entity with the
// given identifier. The target must already exist.
func (h *Harness) linkRelationships(tx *persist.Tx, id persist.ObjectID, step Step) error {
	if len(step.Relationships) == 0 {
		return nil
	}
	t, ok := h.registry.Type(step.Entity)
	if !ok {
		return fmt.Errorf("unknown entity %q", step.Entity)
	}
	for _, key := range sortedKeys(step.Relationships) {
		targetType, ok := t.Relationships[key]
		if !ok {
			return fmt.Errorf("%s has no relationship %q", step.Entity, key)
		}
		target, ok := tx.Lookup(record.NewRecordID(targetType, step.Relationships[key]))
		if !ok {
			return fmt.Errorf("relationship %s: no %s entity %q", key, targetType, step.Relationships[key])
		}
		if err := tx.SetRelationship(id, key, target.ID); err != nil {
			return err
		}
	}
	return nil
}

// remoteRecord builds the remote side a step reports. The version is dated
// now. An omitted hash copies the local hash, as a faithful remote would.
func (h *Harness) remoteRecord(ctx context.Context, step Step, defaultStatus record.Status) *record.RemoteRecord {
	status := defaultStatus
	if step.Status != "" {
		// Validated when the scenario was loaded.
		status, _ = record.ParseStatus(step.Status)
	}

	rr := &record.RemoteRecord{
		Identifier: "remote-" + step.Identifier,
		ID:         step.recordID(),
		Status:     status,
		Version:    record.Version{Identifier: step.Version, Date: h.clock.Now()},
		SHA1Hash:   step.Hash,
	}
	if rr.SHA1Hash == "" {
		if m, err := h.store.ManagedRecord(ctx, rr.ID); err == nil && m.Local != nil {
			rr.SHA1Hash = m.Local.SHA1Hash
		} else if err != nil && !errors.Is(err, store.ErrNotFound) {
			h.logger.Warn("reading local hash", "record", rr.ID.String(), "error", err)
		}
	}
	if step.Locked {
		rr.SetLocked(true)
	}
	return rr
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// convertFieldsToIRObject converts YAML-parsed fields to an ir.IRObject.
// A YAML null clears the field.
func convertFieldsToIRObject(fields map[string]any) (ir.IRObject, error) {
	result := make(ir.IRObject, len(fields))
	for key, val := range fields {
		irVal, err := ir.FromAny(val)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
		result[key] = irVal
	}
	return result, nil
}
