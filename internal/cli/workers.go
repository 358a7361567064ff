package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/durable/internal/engine"
	"github.com/roach88/durable/internal/oplog"
)

// WorkerRow is one line of the workers listing.
type WorkerRow struct {
	ID        oplog.WorkerID        `json:"id"`
	Component string                `json:"component"`
	Parent    oplog.WorkerID        `json:"parent,omitempty"`
	ForkedAt  oplog.Index           `json:"forked_at,omitempty"`
	Length    oplog.Index           `json:"length"`
	State     engine.ExecutionState `json:"state"`
	Completed int                   `json:"completed_invocations"`
}

// NewWorkersCommand creates the workers command.
func NewWorkersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "workers",
		Short: "List registered workers",
		Long: `List every registered worker with its oplog length and the state its
oplog was last left in.

Examples:
  durable workers
  durable workers --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkers(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runWorkers(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	n, err := openNode(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer n.Close()

	regs, err := n.backend.ListWorkers(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list workers", err)
	}
	rows := make([]WorkerRow, 0, len(regs))
	for _, reg := range regs {
		o, err := n.open(ctx, reg.ID, opts.Config)
		if err != nil {
			return err
		}
		st, err := engine.FoldStatus(ctx, o)
		if err != nil {
			return WrapExitError(ExitFailure, fmt.Sprintf("failed to read worker %s", reg.ID), err)
		}
		rows = append(rows, WorkerRow{
			ID:        reg.ID,
			Component: reg.Component,
			Parent:    reg.Parent,
			ForkedAt:  reg.ForkedAt,
			Length:    o.Length(),
			State:     st.State,
			Completed: st.Completed,
		})
	}

	out := opts.formatter(cmd)
	if out.JSON() {
		return out.Success(rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(out.Writer, "No workers registered.")
		return nil
	}
	tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tCOMPONENT\tLENGTH\tSTATE\tFORKED FROM")
	for _, r := range rows {
		parent := "-"
		if r.Parent != "" {
			parent = fmt.Sprintf("%s@%d", r.Parent, r.ForkedAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", r.ID, r.Component, r.Length, r.State, parent)
	}
	return tw.Flush()
}
