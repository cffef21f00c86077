package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/warrant/internal/canonical"
	"github.com/roach88/warrant/internal/invariant"
)

// CheckPatchResult is the payload of the check-patch command.
type CheckPatchResult struct {
	Canonical     bool                  `json:"canonical"`
	CanonicalHash string                `json:"canonical_hash"`
	Violations    []invariant.Violation `json:"violations,omitempty"`
}

// NewCheckPatchCommand creates the check-patch command.
func NewCheckPatchCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-patch <patch-file>",
		Short: "Check a patch against canonical form",
		Long: `Check whether a patch file is in canonical form.

Reports every deviation (BOM, CRLF line endings, trailing whitespace,
hunk ordering, missing trailing newline) and the hash the patch would
have after canonicalization.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckPatch(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runCheckPatch(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		msg := fmt.Sprintf("failed to read patch: %v", err)
		_ = formatter.Error(ErrCodePatch, msg, nil)
		return NewExitError(ExitCommandError, msg)
	}

	engine := invariant.New(invariant.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	result := engine.ValidateAll(invariant.PatchSubject{Text: string(data)}, invariant.Context{
		Operation: "check_patch",
	})

	canon, err := invariant.CanonicalizePatch(string(data))
	if err != nil {
		msg := fmt.Sprintf("patch cannot be canonicalized: %v", err)
		_ = formatter.Error(ErrCodePatch, msg, nil)
		return NewExitError(ExitFailure, msg)
	}

	out := CheckPatchResult{
		Canonical:     result.Passed && len(result.Violations) == 0,
		CanonicalHash: canonical.HashBytes(canonical.DomainPatch, []byte(canon)),
		Violations:    result.Violations,
	}

	if formatter.Format == "json" {
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else {
		if out.Canonical {
			fmt.Fprintln(formatter.Writer, "✓ Patch is canonical")
		} else {
			fmt.Fprintln(formatter.Writer, "✗ Patch is not canonical")
			fmt.Fprintln(formatter.Writer)
			for _, v := range out.Violations {
				fmt.Fprintf(formatter.Writer, "  %s: %s\n", v.Severity, v.Message)
				if issues, ok := v.Details["issues"]; ok {
					fmt.Fprintf(formatter.Writer, "    issues: %v\n", issues)
				}
			}
			fmt.Fprintln(formatter.Writer)
		}
		fmt.Fprintf(formatter.Writer, "Canonical hash: %s\n", out.CanonicalHash)
	}

	if !out.Canonical {
		return NewExitError(ExitFailure, fmt.Sprintf("patch deviates from canonical form with %d violation(s)", len(out.Violations)))
	}
	return nil
}
