package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/harmony/internal/schema"
)

// EntitySummary describes one declared entity type.
type EntitySummary struct {
	Name          string            `json:"name"`
	PrimaryKey    string            `json:"primary_key"`
	Keys          []string          `json:"keys"`
	Files         []string          `json:"files,omitempty"`
	Relationships map[string]string `json:"relationships,omitempty"`
	Syncable      bool              `json:"syncable"`
	Resolution    string            `json:"resolution"`
}

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "schema [path]",
		Short: "Validate entity declarations",
		Long: `Load and validate CUE entity declarations and list the entity types.

The path is a directory or a single .cue file and defaults to schema.dir
from the configuration.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runSchema(rootOpts, path, cmd)
		},
	}
}

func runSchema(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	reg, err := opts.loadRegistry(path)
	if err != nil {
		var schemaErr *schema.Error
		if errors.As(err, &schemaErr) {
			return f.Fail(ExitFailure, ErrCodeSchema, "invalid entity declarations", err)
		}
		return f.Fail(ExitCommandError, ErrCodeSchema, "loading entity declarations", err)
	}

	types := reg.Types()
	summaries := make([]EntitySummary, 0, len(types))
	for _, t := range types {
		s := EntitySummary{
			Name:          t.Name,
			PrimaryKey:    t.PrimaryKey,
			Keys:          t.Keys,
			Relationships: t.Relationships,
			Syncable:      t.Syncable,
			Resolution:    t.Resolution.String(),
		}
		for _, file := range t.Files {
			s.Files = append(s.Files, file.Identifier+"="+file.Field)
		}
		summaries = append(summaries, s)
	}
	f.VerboseLog("loaded %d entity types", len(summaries))

	return f.Render(summaries, func(w io.Writer) error {
		for _, s := range summaries {
			if !s.Syncable {
				fmt.Fprintf(w, "%s (not syncable)\n", s.Name)
				continue
			}
			fmt.Fprintf(w, "%s key=%s fields=[%s] resolution=%s\n",
				s.Name, s.PrimaryKey, strings.Join(s.Keys, ","), s.Resolution)
		}
		_, err := fmt.Fprintf(w, "%d entity types\n", len(summaries))
		return err
	})
}
