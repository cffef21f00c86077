package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/warrant/internal/sink"
)

// StatusResult is the payload of the status command.
type StatusResult struct {
	Archive        string `json:"archive"`
	Alerts         int    `json:"alerts"`
	Incidents      int    `json:"incidents"`
	SecurityEvents int    `json:"security_events"`
	Violations     int    `json:"violations"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize the archive database",
		Long: `Summarize what the runtime has archived so far.

Reports row totals for alerts, incidents, security events, and invariant
violations from the SQLite archive.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, dbPath, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "path to the archive database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runStatus(opts *RootOptions, dbPath string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	if _, err := os.Stat(dbPath); err != nil {
		msg := fmt.Sprintf("archive database not found: %s", dbPath)
		_ = formatter.Error(ErrCodeArchive, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	archive, err := sink.OpenArchive(dbPath)
	if err != nil {
		msg := fmt.Sprintf("failed to open archive: %v", err)
		_ = formatter.Error(ErrCodeArchive, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	defer archive.Close()

	counts, err := archive.Count()
	if err != nil {
		msg := fmt.Sprintf("failed to read archive: %v", err)
		_ = formatter.Error(ErrCodeArchive, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	result := StatusResult{
		Archive:        dbPath,
		Alerts:         counts.Alerts,
		Incidents:      counts.Incidents,
		SecurityEvents: counts.SecurityEvents,
		Violations:     counts.Violations,
	}

	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "Archive: %s\n\n", dbPath)
	fmt.Fprintf(formatter.Writer, "Alerts:          %d\n", counts.Alerts)
	fmt.Fprintf(formatter.Writer, "Incidents:       %d\n", counts.Incidents)
	fmt.Fprintf(formatter.Writer, "Security events: %d\n", counts.SecurityEvents)
	fmt.Fprintf(formatter.Writer, "Violations:      %d\n", counts.Violations)
	return nil
}
