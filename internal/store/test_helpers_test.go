package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/harmony/internal/record"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testLocal(id record.RecordID, status record.Status) *record.LocalRecord {
	return &record.LocalRecord{
		ID:               id,
		Locator:          "x-harmony://c/" + id.Type + "/" + id.Identifier,
		Status:           status,
		ModificationDate: testTime,
		SHA1Hash:         "hash-" + id.Identifier,
	}
}

func testRemote(id record.RecordID, status record.Status, version string) *record.RemoteRecord {
	return &record.RemoteRecord{
		Identifier: "remote-" + id.Identifier,
		ID:         id,
		Status:     status,
		Version:    record.Version{Identifier: version, Date: testTime},
	}
}

type recordingObserver struct {
	calls [][]record.RecordID
}

func (o *recordingObserver) RecordsChanged(ids []record.RecordID) {
	o.calls = append(o.calls, ids)
}
