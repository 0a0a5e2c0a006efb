package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/harmony/internal/ir"
	"github.com/roach88/harmony/internal/persist"
	"github.com/roach88/harmony/internal/record"
	"github.com/roach88/harmony/internal/store"
	"github.com/roach88/harmony/internal/syncable"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	DB      string
	Schema  string
	Fixture string
}

// Fixture lists host entities to load before seeding.
type Fixture struct {
	Entities []FixtureEntity `yaml:"entities"`
}

// FixtureEntity is one host entity.
type FixtureEntity struct {
	Entity string         `yaml:"entity"`
	Fields map[string]any `yaml:"fields"`
}

// SeedResult reports what seeding did.
type SeedResult struct {
	Objects int64  `json:"objects"`
	Created int    `json:"created"`
	Account string `json:"account,omitempty"`
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed --fixture <file>",
		Short: "Create local records for host entities",
		Long: `Load host entities from a YAML fixture and create a normal local record
for every syncable entity that has none. Existing records are left alone.

When account.service_identifier is configured, the account is saved too.

Fixture format:
  entities:
    - entity: Game
      fields: { identifier: g1, name: Sonic }`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, cmd)
		},
	}

	addDBFlag(cmd, &opts.DB)
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "entity declarations (default schema.dir from config)")
	cmd.Flags().StringVar(&opts.Fixture, "fixture", "", "YAML fixture of host entities")
	_ = cmd.MarkFlagRequired("fixture")

	return cmd
}

// LoadFixture reads a fixture file. Unknown keys are rejected.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var fx Fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	for i, e := range fx.Entities {
		if e.Entity == "" {
			return nil, fmt.Errorf("entities[%d]: entity is required", i)
		}
	}
	return &fx, nil
}

func insertFixture(container *persist.Container, reg *syncable.Registry, fx *Fixture) error {
	tx := container.Begin()
	for i, e := range fx.Entities {
		if _, ok := reg.Type(e.Entity); !ok {
			tx.Rollback()
			return fmt.Errorf("entities[%d]: undeclared entity %q", i, e.Entity)
		}
		fields := make(ir.IRObject, len(e.Fields))
		for k, v := range e.Fields {
			irVal, err := ir.FromAny(v)
			if err != nil {
				tx.Rollback()
				return fmt.Errorf("entities[%d].%s: %w", i, k, err)
			}
			fields[k] = irVal
		}
		if _, err := tx.Insert(e.Entity, fields); err != nil {
			tx.Rollback()
			return fmt.Errorf("entities[%d]: %w", i, err)
		}
	}
	_, err := tx.Commit()
	return err
}

func runSeed(opts *SeedOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	reg, err := opts.loadRegistry(opts.Schema)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeSchema, "loading entity declarations", err)
	}
	fx, err := LoadFixture(opts.Fixture)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "loading fixture", err)
	}

	st, err := opts.openStore(opts.DB, true)
	if err != nil {
		return err
	}
	defer st.Close()

	before, err := st.ManagedRecords(ctx, store.Filter{})
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "reading records", err)
	}

	// Entities go in before the controller attaches so seeding, not
	// ingestion, creates their records.
	container := persist.NewContainer(reg, persist.WithLogger(opts.Logger))
	if err := insertFixture(container, reg, fx); err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "loading fixture", err)
	}
	f.VerboseLog("loaded %d fixture entities", len(fx.Entities))

	s, err := opts.startSession(ctx, container, st, reg)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "starting controller", err)
	}
	p := s.c.Seed(ctx)
	seedErr := p.Wait(ctx)

	result := SeedResult{Objects: p.Completed()}
	if seedErr == nil && opts.Config.Account.ServiceIdentifier != "" {
		acct := opts.Config.Account
		a := &record.ManagedAccount{ServiceIdentifier: acct.ServiceIdentifier, Name: acct.Name}
		if acct.Email != "" {
			a.Email = &acct.Email
		}
		seedErr = s.c.SaveAccount(ctx, a)
		result.Account = acct.ServiceIdentifier
	}
	if err := s.close(ctx); err != nil && seedErr == nil {
		seedErr = err
	}
	if seedErr != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "seeding", seedErr)
	}

	after, err := st.ManagedRecords(ctx, store.Filter{})
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "reading records", err)
	}
	result.Created = len(after) - len(before)

	return f.Render(result, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Seeded %d objects, %d new records\n", result.Objects, result.Created)
		return err
	})
}
