package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harmony/internal/record"
)

func TestParseRecordID(t *testing.T) {
	id, err := parseRecordID("SaveState-slot-1")
	require.NoError(t, err)
	assert.Equal(t, record.NewRecordID("SaveState", "slot-1"), id)

	for _, bad := range []string{"", "Game", "-g1", "Game-"} {
		_, err := parseRecordID(bad)
		assert.Error(t, err, bad)
	}
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{
		Type:     AssertAction,
		Record:   "Game-g1",
		Expected: "upload",
		Actual:   "conflict",
	}
	assert.Equal(t,
		"Assertion failed: action (Game-g1)\n  Expected: upload\n  Actual: conflict",
		err.Error())

	err = &AssertionError{Type: AssertQuery, Expected: "upload: []", Actual: "upload: [Game-g1]"}
	assert.Equal(t,
		"Assertion failed: query\n  Expected: upload: []\n  Actual: upload: [Game-g1]",
		err.Error())
}

func TestStatusName(t *testing.T) {
	assert.Equal(t, "nil", statusName(nil))
	assert.Equal(t, "deleted", statusName(record.StatusDeleted.Ptr()))
}
