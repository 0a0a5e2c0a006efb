package harness

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/harmony/internal/controller"
	"github.com/roach88/harmony/internal/record"
	"github.com/roach88/harmony/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Record   string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Record != "" {
		fmt.Fprintf(&buf, " (%s)", e.Record)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// AssertionContext provides what assertions read from.
type AssertionContext struct {
	Ctx        context.Context
	Controller *controller.Controller
}

// parseRecordID splits "Type-identifier" at the first dash.
func parseRecordID(s string) (record.RecordID, error) {
	recordType, identifier, ok := strings.Cut(s, "-")
	if !ok || recordType == "" || identifier == "" {
		return record.RecordID{}, fmt.Errorf("record %q: want Type-identifier", s)
	}
	return record.NewRecordID(recordType, identifier), nil
}

func (actx *AssertionContext) managed(id string) (*record.ManagedRecord, error) {
	rid, err := parseRecordID(id)
	if err != nil {
		return nil, err
	}
	return actx.Controller.Store().ManagedRecord(actx.Ctx, rid)
}

func statusName(s *record.Status) string {
	if s == nil {
		return "nil"
	}
	return s.String()
}

func assertAction(actx *AssertionContext, a Assertion) error {
	m, err := actx.managed(a.Record)
	if err != nil {
		return &AssertionError{Type: a.Type, Record: a.Record, Expected: a.Expect, Actual: err.Error()}
	}
	want, _ := record.ParseSyncAction(a.Expect)
	if got := m.SyncAction(); got != want {
		return &AssertionError{Type: a.Type, Record: a.Record, Expected: want.String(), Actual: got.String()}
	}
	return nil
}

func assertStatus(actx *AssertionContext, a Assertion) error {
	m, err := actx.managed(a.Record)
	if err != nil {
		return &AssertionError{Type: a.Type, Record: a.Record, Expected: a.Expect, Actual: err.Error()}
	}
	got := statusName(m.LocalStatus())
	if a.Type == AssertRemoteStatus {
		got = statusName(m.RemoteStatus())
	}
	if !strings.EqualFold(got, a.Expect) {
		return &AssertionError{Type: a.Type, Record: a.Record, Expected: a.Expect, Actual: got}
	}
	return nil
}

func assertConflicted(actx *AssertionContext, a Assertion) error {
	m, err := actx.managed(a.Record)
	if err != nil {
		return &AssertionError{Type: a.Type, Record: a.Record, Expected: "conflicted", Actual: err.Error()}
	}
	if !m.IsConflicted {
		return &AssertionError{Type: a.Type, Record: a.Record, Expected: "conflicted", Actual: "not conflicted"}
	}
	return nil
}

func assertAbsent(actx *AssertionContext, a Assertion) error {
	m, err := actx.managed(a.Record)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return &AssertionError{Type: a.Type, Record: a.Record, Expected: "no record", Actual: controller.DumpLine(m)}
}

// assertQuery checks that exactly the listed records need the action, in
// store order.
func assertQuery(actx *AssertionContext, a Assertion) error {
	action, _ := record.ParseSyncAction(a.Action)
	records, err := actx.Controller.RecordsNeeding(actx.Ctx, action)
	if err != nil {
		return err
	}

	got := make([]string, 0, len(records))
	for _, m := range records {
		got = append(got, m.ID.String())
	}
	want := a.Records
	if want == nil {
		want = []string{}
	}
	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("%s: %v", action, want),
			Actual:   fmt.Sprintf("%s: %v", action, got),
		}
	}
	return nil
}

// EvaluateAssertions evaluates all assertions and returns a message for
// each one that failed.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var failures []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertAction:
			err = assertAction(actx, assertion)
		case AssertLocalStatus, AssertRemoteStatus:
			err = assertStatus(actx, assertion)
		case AssertConflicted:
			err = assertConflicted(actx, assertion)
		case AssertAbsent:
			err = assertAbsent(actx, assertion)
		case AssertQuery:
			err = assertQuery(actx, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}
