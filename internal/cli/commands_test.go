package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harmony/internal/record"
	"github.com/roach88/harmony/internal/store"
)

const librarySchema = `entity: Game: {
	keys: ["name"]
	nameField:  "name"
	resolution: "newest"
}

entity: Cache: {
	syncable: false
}
`

const libraryFixture = `entities:
  - entity: Game
    fields: {identifier: g1, name: Sonic}
  - entity: Game
    fields: {identifier: g2, name: Tails}
`

// isolateConfig points config loading at a missing file and clears
// HARMONY_* overrides so the developer's environment cannot leak in.
func isolateConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, key := range []string{
		"HARMONY_DB_PATH", "HARMONY_SCHEMA_DIR", "HARMONY_FILES_ROOT",
		"HARMONY_LOG_LEVEL", "HARMONY_LOG_FORMAT", "HARMONY_LOG_FILE",
		"HARMONY_LOG_MAX_SIZE_MB", "HARMONY_LOG_MAX_BACKUPS",
		"HARMONY_WATCH_FILES", "HARMONY_DRAIN_TIMEOUT",
		"HARMONY_ACCOUNT_SERVICE", "HARMONY_ACCOUNT_NAME", "HARMONY_ACCOUNT_EMAIL",
	} {
		t.Setenv(key, "")
	}
	t.Setenv("HARMONY_CONFIG_PATH", filepath.Join(dir, "missing.yaml"))
	return dir
}

func silence(cmd *cobra.Command) {
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
}

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// seeded returns a database seeded with the library fixture.
func seeded(t *testing.T) (db, schemaDir string) {
	t.Helper()
	dir := isolateConfig(t)
	schemaDir = filepath.Join(dir, "schema")
	writeFile(t, filepath.Join(schemaDir, "library.cue"), librarySchema)
	fixture := writeFile(t, filepath.Join(dir, "fixture.yaml"), libraryFixture)
	db = filepath.Join(dir, "harmony.db")

	out, _, err := execute(t, "seed", "--db", db, "--schema", schemaDir, "--fixture", fixture)
	require.NoError(t, err)
	require.Equal(t, "Seeded 2 objects, 2 new records\n", out)
	return db, schemaDir
}

func decodeData(t *testing.T, out string, data any) {
	t.Helper()
	resp := CLIResponse{Data: data}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
}

func TestSchemaCommand(t *testing.T) {
	dir := isolateConfig(t)
	schemaDir := filepath.Join(dir, "schema")
	writeFile(t, filepath.Join(schemaDir, "library.cue"), librarySchema)

	out, _, err := execute(t, "schema", schemaDir)
	require.NoError(t, err)
	assert.Equal(t, "Cache (not syncable)\nGame key=identifier fields=[name] resolution=newest\n2 entity types\n", out)

	out, _, err = execute(t, "--format", "json", "schema", schemaDir)
	require.NoError(t, err)
	var summaries []EntitySummary
	decodeData(t, out, &summaries)
	require.Len(t, summaries, 2)
	assert.Equal(t, "Game", summaries[1].Name)
	assert.True(t, summaries[1].Syncable)
	assert.Equal(t, []string{"name"}, summaries[1].Keys)
}

func TestSchemaCommand_Invalid(t *testing.T) {
	dir := isolateConfig(t)
	path := writeFile(t, filepath.Join(dir, "bad.cue"), "entity: Game: {keys: 42}\n")

	out, _, err := execute(t, "schema", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [E101]: invalid entity declarations")
}

func TestSchemaCommand_MissingDir(t *testing.T) {
	dir := isolateConfig(t)

	_, _, err := execute(t, "schema", filepath.Join(dir, "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSeedIsIdempotent(t *testing.T) {
	db, schemaDir := seeded(t)
	fixture := filepath.Join(filepath.Dir(db), "fixture.yaml")
	t.Setenv("HARMONY_WATCH_FILES", "true")

	out, _, err := execute(t, "--format", "json", "seed", "--db", db, "--schema", schemaDir, "--fixture", fixture)
	require.NoError(t, err)
	var result SeedResult
	decodeData(t, out, &result)
	assert.Equal(t, SeedResult{Objects: 2, Created: 0}, result)
}

func TestSeedCommand_SavesConfiguredAccount(t *testing.T) {
	dir := isolateConfig(t)
	schemaDir := filepath.Join(dir, "schema")
	writeFile(t, filepath.Join(schemaDir, "library.cue"), librarySchema)
	fixture := writeFile(t, filepath.Join(dir, "fixture.yaml"), "entities: []\n")
	db := filepath.Join(dir, "harmony.db")
	cfg := writeFile(t, filepath.Join(dir, "harmony.yaml"), `database:
  path: `+db+`
schema:
  dir: `+schemaDir+`
account:
  service_identifier: dropbox
  name: Riley
  email: riley@example.com
`)

	out, _, err := execute(t, "--config", cfg, "seed", "--fixture", fixture)
	require.NoError(t, err)
	assert.Equal(t, "Seeded 0 objects, 0 new records\n", out)

	st, err := store.Open(db, store.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	defer st.Close()
	acct, err := st.Account(context.Background(), "dropbox")
	require.NoError(t, err)
	assert.Equal(t, "Riley", acct.Name)
	require.NotNil(t, acct.Email)
	assert.Equal(t, "riley@example.com", *acct.Email)
	assert.False(t, acct.HasChangeToken())
}

func TestSeedCommand_Errors(t *testing.T) {
	dir := isolateConfig(t)
	schemaDir := filepath.Join(dir, "schema")
	writeFile(t, filepath.Join(schemaDir, "library.cue"), librarySchema)
	db := filepath.Join(dir, "harmony.db")

	tests := []struct {
		name    string
		fixture string
		wantErr string
	}{
		{"unknown key", "entities:\n  - entity: Game\n    field: {}\n", "parse fixture"},
		{"missing entity", "entities:\n  - fields: {identifier: g1}\n", "entity is required"},
		{"unknown entity", "entities:\n  - entity: Nope\n    fields: {identifier: n1}\n", "undeclared entity \"Nope\""},
		{"float field", "entities:\n  - entity: Game\n    fields: {identifier: g1, rating: 4.5}\n", "floats are forbidden"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fixture := writeFile(t, filepath.Join(t.TempDir(), "fixture.yaml"), tt.fixture)
			_, _, err := execute(t, "seed", "--db", db, "--schema", schemaDir, "--fixture", fixture)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStatusCommand(t *testing.T) {
	db, _ := seeded(t)

	out, _, err := execute(t, "--format", "json", "status", "--db", db)
	require.NoError(t, err)
	var rows []RecordStatus
	decodeData(t, out, &rows)
	require.Len(t, rows, 2)
	assert.Equal(t, RecordStatus{
		Record:         "Game-g1",
		Local:          "normal",
		Remote:         "-",
		Action:         "upload",
		SyncingEnabled: true,
	}, rows[0])
	assert.Equal(t, "Game-g2", rows[1].Record)

	out, _, err = execute(t, "status", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "RECORD")
	assert.Contains(t, out, "Game-g1")

	out, _, err = execute(t, "status", "--db", db, "--action", "download")
	require.NoError(t, err)
	assert.Equal(t, "No records.\n", out)

	out, _, err = execute(t, "status", "--db", db, "--type", "Cheat")
	require.NoError(t, err)
	assert.Equal(t, "No records.\n", out)
}

func TestStatusCommand_Errors(t *testing.T) {
	db, _ := seeded(t)

	_, _, err := execute(t, "status", "--db", db, "--action", "sideways")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(t, "status", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestDumpCommand(t *testing.T) {
	db, _ := seeded(t)

	out, _, err := execute(t, "dump", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Game-g1")
	assert.Contains(t, out, "Game-g2")

	out, _, err = execute(t, "--format", "json", "dump", "--db", db)
	require.NoError(t, err)
	var lines []string
	decodeData(t, out, &lines)
	assert.NotEmpty(t, lines)
}

// conflicted writes a Game record that arbitration flagged as conflicted.
func conflicted(t *testing.T, db, identifier string) {
	t.Helper()
	st, err := store.Open(db, store.WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	defer st.Close()

	id := record.NewRecordID("Game", identifier)
	date := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	_, err = st.Update(context.Background(), func(tx *store.Tx) error {
		m := record.NewManagedRecord(id)
		m.IsConflicted = true
		m.Local = &record.LocalRecord{
			ID:               id,
			Locator:          "x-harmony://" + identifier,
			Status:           record.StatusUpdated,
			ModificationDate: date,
			SHA1Hash:         "aaaa",
			Version:          &record.Version{Identifier: "v1", Date: date},
		}
		m.Remote = &record.RemoteRecord{
			Identifier: "remote-" + identifier,
			ID:         id,
			Status:     record.StatusUpdated,
			Version:    record.Version{Identifier: "v2", Date: date.Add(time.Hour)},
			SHA1Hash:   "bbbb",
		}
		tx.Save(m)
		return nil
	})
	require.NoError(t, err)
}

func TestConflictsAndResolve(t *testing.T) {
	db, _ := seeded(t)

	out, _, err := execute(t, "conflicts", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "No conflicted records.\n", out)

	conflicted(t, db, "g3")

	out, _, err = execute(t, "conflicts", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "Game-g3 local=updated (v1) remote=updated (v2)\n", out)

	out, _, err = execute(t, "resolve", "Game", "g3", "--keep-local", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "Resolved Game-g3: action=upload\n", out)

	out, _, err = execute(t, "--format", "json", "status", "--db", db, "--action", "upload")
	require.NoError(t, err)
	var rows []RecordStatus
	decodeData(t, out, &rows)
	require.Len(t, rows, 3)
	assert.Equal(t, RecordStatus{
		Record:         "Game-g3",
		Local:          "updated",
		LocalVersion:   "v2",
		Remote:         "normal",
		RemoteVersion:  "v2",
		Action:         "upload",
		SyncingEnabled: true,
	}, rows[2])

	out, _, err = execute(t, "conflicts", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, "No conflicted records.\n", out)
}

func TestResolveCommand_Errors(t *testing.T) {
	db, _ := seeded(t)

	tests := []struct {
		name     string
		args     []string
		wantCode int
		wantErr  string
	}{
		{"no resolution", []string{"resolve", "Game", "g1", "--db", db}, ExitCommandError, "--keep-local"},
		{"not conflicted", []string{"resolve", "Game", "g1", "--keep-local", "--db", db}, ExitFailure, "not in conflict"},
		{"unknown record", []string{"resolve", "Game", "nope", "--keep-local", "--db", db}, ExitCommandError, "no record Game-nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestScenarioCommand(t *testing.T) {
	isolateConfig(t)
	scenarios := filepath.Join("..", "harness", "testdata", "scenarios")

	out, _, err := execute(t, "scenario",
		filepath.Join(scenarios, "sync_lifecycle.yaml"),
		filepath.Join(scenarios, "relationships.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "✓ sync_lifecycle")
	assert.Contains(t, out, "✓ relationships")
	assert.Contains(t, out, "2 passed, 0 failed, 2 total")
	assert.NotContains(t, out, "scenario: sync_lifecycle")
}

func TestScenarioCommand_Failures(t *testing.T) {
	dir := isolateConfig(t)
	writeFile(t, filepath.Join(dir, "schema.cue"), librarySchema)
	failing := writeFile(t, filepath.Join(dir, "failing.yaml"), `name: failing
description: expects the wrong action
schema: schema.cue
steps:
  - op: insert
    entity: Game
    identifier: g1
    fields: {name: Sonic}
assertions:
  - type: action
    record: Game-g1
    expect: download
`)
	broken := writeFile(t, filepath.Join(dir, "broken.yaml"), "name: broken\n")

	out, _, err := execute(t, "--format", "json", "scenario", failing, broken)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var report ScenarioReport
	decodeData(t, out, &report)
	assert.Equal(t, 0, report.Passed)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 2, report.Total)
	require.Len(t, report.Scenarios, 2)
	assert.Equal(t, "failing", report.Scenarios[0].Name)
	assert.NotEmpty(t, report.Scenarios[0].Errors)
	assert.NotEmpty(t, report.Scenarios[0].Trace)
	assert.Equal(t, "broken.yaml", report.Scenarios[1].Name)
	assert.Contains(t, report.Scenarios[1].Errors[0], "failed to load scenario")
}
