package controller

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/harmony/internal/record"
	"github.com/roach88/harmony/internal/store"
)

// Dump writes one line per managed record, sorted by type then identifier,
// followed by the number of remote files. Hashes and locators are left out
// so the output is stable across runs.
func (c *Controller) Dump(ctx context.Context, w io.Writer) error {
	records, err := c.store.ManagedRecords(ctx, store.Filter{})
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}

	files := 0
	for _, m := range records {
		if m.Local != nil {
			files += len(m.Local.RemoteFiles)
		}
		if _, err := io.WriteString(w, DumpLine(m)+"\n"); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "Remote Files: %d\n", files)
	return err
}

// DumpLine renders one managed record the way Dump does.
func DumpLine(m *record.ManagedRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Record: %s", m.ID)

	if lr := m.Local; lr != nil {
		fmt.Fprintf(&b, " LR: %s", lr.Status)
		if lr.Version != nil {
			fmt.Fprintf(&b, " (%s)", lr.Version.Identifier)
		}
	} else {
		b.WriteString(" LR: nil")
	}

	if rr := m.Remote; rr != nil {
		fmt.Fprintf(&b, " RR: %s (%s)", rr.Status, rr.Version.Identifier)
		if rr.IsLocked {
			b.WriteString(" locked")
		}
	} else {
		b.WriteString(" RR: nil")
	}

	fmt.Fprintf(&b, " action=%s", m.SyncAction())
	if m.IsConflicted {
		b.WriteString(" conflicted")
	}
	if !m.IsSyncingEnabled {
		b.WriteString(" disabled")
	}
	return b.String()
}
