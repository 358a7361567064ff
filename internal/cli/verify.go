package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/durable/internal/oplog"
)

// VerifyResult holds the reports of every verified worker.
type VerifyResult struct {
	Workers []oplog.VerifyReport `json:"workers"`
	Total   int                  `json:"total"`
	AllOK   bool                 `json:"all_ok"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [worker...]",
		Short: "Check oplogs for structural problems",
		Long: `Read every entry of the given workers' oplogs (all workers when none are
named) and check that the log can be replayed: indexes are contiguous, every
entry decodes, external payloads exist and match their hashes, end markers
close a matching begin, and deleted regions do not partially overlap.

Exit codes:
  0 - Every oplog is sound
  1 - At least one problem was found
  2 - Command error (database not found, unknown worker, etc.)

Examples:
  durable verify
  durable verify order-7 order-8 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(cmd.Context(), rootOpts, args, cmd)
		},
	}
}

func runVerify(ctx context.Context, opts *RootOptions, names []string, cmd *cobra.Command) error {
	n, err := openNode(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer n.Close()

	ids := make([]oplog.WorkerID, 0, len(names))
	for _, name := range names {
		ids = append(ids, oplog.WorkerID(name))
	}
	if len(ids) == 0 {
		regs, err := n.backend.ListWorkers(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list workers", err)
		}
		for _, reg := range regs {
			ids = append(ids, reg.ID)
		}
	}

	result := VerifyResult{
		Workers: make([]oplog.VerifyReport, 0, len(ids)),
		Total:   len(ids),
		AllOK:   true,
	}
	for _, id := range ids {
		o, err := n.open(ctx, id, opts.Config)
		if err != nil {
			return err
		}
		report, err := oplog.Verify(ctx, o)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to verify %s", id), err)
		}
		result.Workers = append(result.Workers, report)
		if !report.OK() {
			result.AllOK = false
		}
	}

	out := opts.formatter(cmd)
	if out.JSON() {
		if result.AllOK {
			return out.Success(result)
		}
		if err := out.Failure(result, "E_VERIFY", "oplog verification failed"); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "oplog verification failed")
	}
	return outputVerifyText(out, result)
}

func outputVerifyText(out *OutputFormatter, result VerifyResult) error {
	w := out.Writer
	if result.Total == 0 {
		fmt.Fprintln(w, "No workers registered.")
		return nil
	}

	for _, r := range result.Workers {
		status := "✓"
		if !r.OK() {
			status = "✗"
		}
		fmt.Fprintf(w, "%s %s: %d entries, %d external payload(s), %d region(s)\n",
			status, r.Worker, r.Length, r.External, len(r.Regions))
		for _, p := range r.Problems {
			fmt.Fprintf(w, "  %s\n", p)
		}
		if out.Verbose {
			for _, kind := range slices.Sorted(maps.Keys(r.Kinds)) {
				fmt.Fprintf(w, "  %s: %d\n", kind, r.Kinds[kind])
			}
		}
	}
	fmt.Fprintln(w)

	if result.AllOK {
		fmt.Fprintf(w, "✓ %d oplog(s) verified\n", result.Total)
		return nil
	}
	fmt.Fprintln(w, "✗ Oplog verification failed")
	return NewExitError(ExitFailure, "oplog verification failed")
}
