package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/harmony/internal/record"
)

// Scenario drives a controller through a sequence of steps and checks the
// resulting managed records.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is a CUE file or directory declaring the entities.
	// Relative paths are resolved against the scenario file.
	Schema string `yaml:"schema"`

	// Steps run in order. The controller settles after each one.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final records.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation. Which fields apply depends on Op.
type Step struct {
	Op         string         `yaml:"op"`
	Entity     string         `yaml:"entity,omitempty"`
	Identifier string         `yaml:"identifier,omitempty"`
	Fields     map[string]any `yaml:"fields,omitempty"`

	// Relationships maps a relationship field to the target's identifier,
	// used by insert and update.
	Relationships map[string]string `yaml:"relationships,omitempty"`

	// Remote record fields, used by remote and uploaded.
	Status  string `yaml:"status,omitempty"`
	Version string `yaml:"version,omitempty"`
	Locked  bool   `yaml:"locked,omitempty"`
	Hash    string `yaml:"hash,omitempty"`

	// Duration, used by advance.
	By string `yaml:"by,omitempty"`

	// ExpectError makes the step pass only if it fails with an error
	// containing this text.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step operations.
const (
	OpInsert     = "insert"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpNotify     = "notify"
	OpRemote     = "remote"
	OpUploaded   = "uploaded"
	OpDownloaded = "downloaded"
	OpEnable     = "enable"
	OpDisable    = "disable"
	OpArbitrate  = "arbitrate"
	OpKeepLocal  = "keep_local"
	OpSeed       = "seed"
	OpAdvance    = "advance"
)

// Assertion validates the final record state.
type Assertion struct {
	// Type is one of action, local_status, remote_status, conflicted,
	// query or absent.
	Type string `yaml:"type"`

	// Record is a "Type-identifier" record id.
	Record string `yaml:"record,omitempty"`

	// Expect is the expected action or status name.
	Expect string `yaml:"expect,omitempty"`

	// Action and Records are used by query.
	Action  string   `yaml:"action,omitempty"`
	Records []string `yaml:"records,omitempty"`
}

// Assertion type constants.
const (
	AssertAction       = "action"
	AssertLocalStatus  = "local_status"
	AssertRemoteStatus = "remote_status"
	AssertConflicted   = "conflicted"
	AssertQuery        = "query"
	AssertAbsent       = "absent"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// KnownFields catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schema != "" && !filepath.IsAbs(scenario.Schema) {
		scenario.Schema = filepath.Join(filepath.Dir(path), scenario.Schema)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if _, err := os.Stat(s.Schema); os.IsNotExist(err) {
		return fmt.Errorf("schema not found: %s", s.Schema)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	needsRecord := func() error {
		if s.Entity == "" || s.Identifier == "" {
			return fmt.Errorf("steps[%d]: entity and identifier are required for %s", index, s.Op)
		}
		return nil
	}

	switch s.Op {
	case "":
		return fmt.Errorf("steps[%d]: op is required", index)
	case OpInsert:
		if s.Entity == "" {
			return fmt.Errorf("steps[%d]: entity is required for insert", index)
		}
	case OpUpdate:
		if err := needsRecord(); err != nil {
			return err
		}
		if len(s.Fields) == 0 && len(s.Relationships) == 0 {
			return fmt.Errorf("steps[%d]: fields or relationships are required for update", index)
		}
	case OpDelete, OpNotify, OpDownloaded, OpEnable, OpDisable, OpKeepLocal:
		return needsRecord()
	case OpRemote, OpUploaded:
		if err := needsRecord(); err != nil {
			return err
		}
		if s.Version == "" {
			return fmt.Errorf("steps[%d]: version is required for %s", index, s.Op)
		}
		if s.Status != "" {
			if _, err := record.ParseStatus(s.Status); err != nil {
				return fmt.Errorf("steps[%d]: %w", index, err)
			}
		}
	case OpArbitrate, OpSeed:
	case OpAdvance:
		if _, err := time.ParseDuration(s.By); err != nil {
			return fmt.Errorf("steps[%d]: advance needs a duration: %w", index, err)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown op %q", index, s.Op)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertAction:
		if a.Record == "" {
			return fmt.Errorf("assertions[%d]: record is required for action", index)
		}
		if _, err := record.ParseSyncAction(a.Expect); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertLocalStatus, AssertRemoteStatus:
		if a.Record == "" {
			return fmt.Errorf("assertions[%d]: record is required for %s", index, a.Type)
		}
		if a.Expect != "nil" {
			if _, err := record.ParseStatus(a.Expect); err != nil {
				return fmt.Errorf("assertions[%d]: %w", index, err)
			}
		}
	case AssertConflicted, AssertAbsent:
		if a.Record == "" {
			return fmt.Errorf("assertions[%d]: record is required for %s", index, a.Type)
		}
	case AssertQuery:
		if _, err := record.ParseSyncAction(a.Action); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
