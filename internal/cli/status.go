package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/harmony/internal/record"
	"github.com/roach88/harmony/internal/store"
)

// RecordStatus is one row of the status table.
type RecordStatus struct {
	Record         string `json:"record"`
	Local          string `json:"local"`
	LocalVersion   string `json:"local_version,omitempty"`
	Remote         string `json:"remote"`
	RemoteVersion  string `json:"remote_version,omitempty"`
	Action         string `json:"action"`
	Conflicted     bool   `json:"conflicted"`
	SyncingEnabled bool   `json:"syncing_enabled"`
}

func newRecordStatus(m *record.ManagedRecord) RecordStatus {
	rs := RecordStatus{
		Record:         m.ID.String(),
		Local:          "-",
		Remote:         "-",
		Action:         m.SyncAction().String(),
		Conflicted:     m.IsConflicted,
		SyncingEnabled: m.IsSyncingEnabled,
	}
	if m.Local != nil {
		rs.Local = m.Local.Status.String()
		if m.Local.Version != nil {
			rs.LocalVersion = m.Local.Version.Identifier
		}
	}
	if m.Remote != nil {
		rs.Remote = m.Remote.Status.String()
		rs.RemoteVersion = m.Remote.Version.Identifier
	}
	return rs
}

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	DB     string
	Action string
	Type   string
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show managed records and their sync actions",
		Long: `List every managed record with its local and remote status and the
sync action it needs.

Examples:
  harmony status
  harmony status --action upload
  harmony status --type Game --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, cmd)
		},
	}

	addDBFlag(cmd, &opts.DB)
	cmd.Flags().StringVar(&opts.Action, "action", "", "only records needing this action (none|upload|download|delete|conflict)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "only records of this type")

	return cmd
}

func runStatus(opts *StatusOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	var want *record.SyncAction
	if opts.Action != "" {
		a, err := record.ParseSyncAction(opts.Action)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeGeneric, "invalid --action", err)
		}
		want = &a
	}

	st, err := opts.openStore(opts.DB, false)
	if err != nil {
		return err
	}
	defer st.Close()

	records, err := st.ManagedRecords(cmd.Context(), store.Filter{Type: opts.Type})
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "reading records", err)
	}

	rows := make([]RecordStatus, 0, len(records))
	for _, m := range records {
		if want != nil && m.SyncAction() != *want {
			continue
		}
		rows = append(rows, newRecordStatus(m))
	}

	return f.Render(rows, func(w io.Writer) error {
		return writeStatusTable(w, rows)
	})
}

func writeStatusTable(w io.Writer, rows []RecordStatus) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "No records.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RECORD\tLOCAL\tREMOTE\tACTION\tFLAGS")
	for _, r := range rows {
		flags := ""
		if r.Conflicted {
			flags += "conflicted "
		}
		if !r.SyncingEnabled {
			flags += "disabled"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.Record, withVersion(r.Local, r.LocalVersion), withVersion(r.Remote, r.RemoteVersion), r.Action, flags)
	}
	return tw.Flush()
}

func withVersion(status, version string) string {
	if version == "" {
		return status
	}
	return status + " (" + version + ")"
}

// NewConflictsCommand creates the conflicts command.
func NewConflictsCommand(rootOpts *RootOptions) *cobra.Command {
	var db string

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List records flagged as conflicted",
		Long: `List records that conflict arbitration could not settle. Resolve them
with "harmony resolve <type> <identifier> --keep-local".`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConflicts(rootOpts, db, cmd)
		},
	}
	addDBFlag(cmd, &db)
	return cmd
}

func runConflicts(opts *RootOptions, db string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	st, err := opts.openStore(db, false)
	if err != nil {
		return err
	}
	defer st.Close()

	conflicted := true
	records, err := st.ManagedRecords(cmd.Context(), store.Filter{Conflicted: &conflicted})
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeStore, "reading records", err)
	}

	rows := make([]RecordStatus, 0, len(records))
	for _, m := range records {
		rows = append(rows, newRecordStatus(m))
	}

	return f.Render(rows, func(w io.Writer) error {
		if len(rows) == 0 {
			_, err := fmt.Fprintln(w, "No conflicted records.")
			return err
		}
		for _, r := range rows {
			fmt.Fprintf(w, "%s local=%s remote=%s\n",
				r.Record, withVersion(r.Local, r.LocalVersion), withVersion(r.Remote, r.RemoteVersion))
		}
		return nil
	})
}
