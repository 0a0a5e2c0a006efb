package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/harmony/internal/record"
	"github.com/roach88/harmony/internal/store"
)

// ResolveOptions holds flags for the resolve command.
type ResolveOptions struct {
	*RootOptions
	DB        string
	KeepLocal bool
}

// NewResolveCommand creates the resolve command.
func NewResolveCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResolveOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resolve <type> <identifier> --keep-local",
		Short: "Resolve a conflicted record",
		Long: `Resolve a record in conflict.

--keep-local keeps the local state: the record is rebased on the remote
head and marked updated, so the next sync uploads it.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResolve(opts, record.NewRecordID(args[0], args[1]), cmd)
		},
	}

	addDBFlag(cmd, &opts.DB)
	cmd.Flags().BoolVar(&opts.KeepLocal, "keep-local", false, "keep the local state and re-upload it")

	return cmd
}

func runResolve(opts *ResolveOptions, id record.RecordID, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	ctx := cmd.Context()

	if !opts.KeepLocal {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "choose a resolution: --keep-local", nil)
	}

	st, err := opts.openStore(opts.DB, false)
	if err != nil {
		return err
	}
	defer st.Close()

	m, err := st.ManagedRecord(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return f.Fail(ExitCommandError, ErrCodeRecord, fmt.Sprintf("no record %s", id), nil)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "reading record", err)
	}
	if !m.IsConflicted && m.SyncAction() != record.ActionConflict {
		return f.Fail(ExitFailure, ErrCodeRecord, fmt.Sprintf("record %s is not in conflict", id), nil)
	}

	s, err := opts.inspectSession(ctx, st)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeGeneric, "starting controller", err)
	}
	resolveErr := s.c.KeepLocal(ctx, id).Wait(ctx)
	if err := s.close(ctx); err != nil && resolveErr == nil {
		resolveErr = err
	}
	if resolveErr != nil {
		return f.Fail(ExitCommandError, ErrCodeRecord, "keeping local state", resolveErr)
	}

	m, err = st.ManagedRecord(ctx, id)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "reading record", err)
	}
	row := newRecordStatus(m)
	f.VerboseLog("resolved %s with keep-local", id)

	return f.Render(row, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "Resolved %s: action=%s\n", row.Record, row.Action)
		return err
	})
}
