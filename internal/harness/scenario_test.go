package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes a schema and a scenario into a temp dir and returns
// the scenario path.
func writeScenario(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "schema.cue"), []byte(`entity: Game: {keys: ["name"]}`), 0o644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
schema: schema.cue
steps:
  - op: insert
    entity: Game
    identifier: g1
    fields:
      name: Sonic
      plays: 3
  - op: advance
    by: 30m
assertions:
  - type: action
    record: Game-g1
    expect: upload
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "schema.cue"), scenario.Schema)
	require.Len(t, scenario.Steps, 2)
	assert.Equal(t, OpInsert, scenario.Steps[0].Op)
	assert.Equal(t, "Sonic", scenario.Steps[0].Fields["name"])
	assert.Equal(t, 3, scenario.Steps[0].Fields["plays"])
	assert.Equal(t, "30m", scenario.Steps[1].By)
	require.Len(t, scenario.Assertions, 1)
	assert.Equal(t, "Game-g1", scenario.Assertions[0].Record)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "misspelled key"
schema: schema.cue
steps:
  - op: seed
assertion:
  - type: absent
    record: Game-g1
`)

	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Validation(t *testing.T) {
	header := "name: n\ndescription: d\nschema: schema.cue\n"
	okAssertion := "assertions:\n  - type: absent\n    record: Game-g1\n"

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing name",
			body:    "description: d\nschema: schema.cue\nsteps:\n  - op: seed\n" + okAssertion,
			wantErr: "name is required",
		},
		{
			name:    "missing schema file",
			body:    "name: n\ndescription: d\nschema: other.cue\nsteps:\n  - op: seed\n" + okAssertion,
			wantErr: "schema not found",
		},
		{
			name:    "no steps",
			body:    header + okAssertion,
			wantErr: "steps list is required",
		},
		{
			name:    "no assertions",
			body:    header + "steps:\n  - op: seed\n",
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown op",
			body:    header + "steps:\n  - op: teleport\n" + okAssertion,
			wantErr: `unknown op "teleport"`,
		},
		{
			name:    "update without fields",
			body:    header + "steps:\n  - op: update\n    entity: Game\n    identifier: g1\n" + okAssertion,
			wantErr: "fields or relationships are required",
		},
		{
			name:    "remote without version",
			body:    header + "steps:\n  - op: remote\n    entity: Game\n    identifier: g1\n" + okAssertion,
			wantErr: "version is required",
		},
		{
			name:    "remote with bad status",
			body:    header + "steps:\n  - op: remote\n    entity: Game\n    identifier: g1\n    version: v1\n    status: lost\n" + okAssertion,
			wantErr: "unknown record status",
		},
		{
			name:    "delete without identifier",
			body:    header + "steps:\n  - op: delete\n    entity: Game\n" + okAssertion,
			wantErr: "entity and identifier are required",
		},
		{
			name:    "advance without duration",
			body:    header + "steps:\n  - op: advance\n" + okAssertion,
			wantErr: "advance needs a duration",
		},
		{
			name:    "bad action",
			body:    header + "steps:\n  - op: seed\nassertions:\n  - type: action\n    record: Game-g1\n    expect: sideways\n",
			wantErr: "unknown sync action",
		},
		{
			name:    "bad assertion type",
			body:    header + "steps:\n  - op: seed\nassertions:\n  - type: eventually\n",
			wantErr: `unknown assertion type "eventually"`,
		},
		{
			name:    "status nil is allowed",
			body:    header + "steps:\n  - op: seed\nassertions:\n  - type: local_status\n    record: Game-g1\n    expect: nil\n",
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		_, err := LoadScenario(path)
		assert.NoError(t, err, path)
	}
}
