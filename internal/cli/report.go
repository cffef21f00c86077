package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/warrant/internal/invariant"
	"github.com/roach88/warrant/internal/sink"
)

// ReportResult is the payload of the report command.
type ReportResult struct {
	Total      int                   `json:"total"`
	Violations []invariant.Violation `json:"violations,omitempty"`
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render archived invariant violations",
		Long: `Render the most recently archived invariant violations.

Text output is the Markdown violation report grouped by severity; JSON
output is the raw violation records.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(rootOpts, dbPath, limit, cmd)
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "", "path to the archive database (required)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of violations to include")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runReport(opts *RootOptions, dbPath string, limit int, cmd *cobra.Command) error {
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

	violations, err := archive.RecentViolations(limit)
	if err != nil {
		msg := fmt.Sprintf("failed to read violations: %v", err)
		_ = formatter.Error(ErrCodeArchive, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}
	formatter.VerboseLog("Loaded %d violation(s) from %s", len(violations), dbPath)

	// RecentViolations is newest first; the report reads better in the
	// order the violations happened.
	for i, j := 0, len(violations)-1; i < j; i, j = i+1, j-1 {
		violations[i], violations[j] = violations[j], violations[i]
	}

	if formatter.Format == "json" {
		return formatter.Success(ReportResult{
			Total:      len(violations),
			Violations: violations,
		})
	}

	fmt.Fprint(formatter.Writer, invariant.FormatReport(violations, time.Now()))
	return nil
}
