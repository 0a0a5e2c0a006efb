package cli

import (
	"bytes"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

// NewDumpCommand creates the dump command.
func NewDumpCommand(rootOpts *RootOptions) *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:           "dump",
		Short:         "Print a debug listing of every managed record",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDump(rootOpts, db, cmd)
		},
	}
	addDBFlag(cmd, &db)
	return cmd
}

func runDump(opts *RootOptions, db string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	st, err := opts.openStore(db, false)
	if err != nil {
		return err
	}
	defer st.Close()

	s, err := opts.inspectSession(ctx, st)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "starting controller", err)
	}
	var buf bytes.Buffer
	dumpErr := s.c.Dump(ctx, &buf)
	if err := s.close(ctx); err != nil && dumpErr == nil {
		dumpErr = err
	}
	if dumpErr != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "dumping records", dumpErr)
	}

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	return f.Render(lines, func(w io.Writer) error {
		_, err := w.Write(buf.Bytes())
		return err
	})
}
