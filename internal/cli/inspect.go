package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/durable/internal/engine"
	"github.com/roach88/durable/internal/ir"
	"github.com/roach88/durable/internal/oplog"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	From uint64
	To   uint64 // 0 means the end of the oplog
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect <worker>",
		Short: "Print a worker's oplog",
		Long: `Print the entries of a worker's oplog. Entries inside deleted regions are
marked; they stay in the oplog but are never replayed.

Examples:
  durable inspect order-7
  durable inspect order-7 --from 10 --to 20
  durable inspect order-7 --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd.Context(), opts, oplog.WorkerID(args[0]), cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.From, "from", 1, "first index to print")
	cmd.Flags().Uint64Var(&opts.To, "to", 0, "last index to print (default: end of oplog)")

	return cmd
}

func runInspect(ctx context.Context, opts *InspectOptions, id oplog.WorkerID, cmd *cobra.Command) error {
	n, err := openNode(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer n.Close()

	o, err := n.open(ctx, id, opts.Config)
	if err != nil {
		return err
	}
	st, err := engine.FoldStatus(ctx, o)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read oplog", err)
	}
	regions := oplog.DeletedRegionsFromJumps(st.Regions)

	from, to := oplog.IndexFromUint64(opts.From), oplog.IndexFromUint64(opts.To)
	if to == oplog.None {
		to = o.Length()
	}
	if from < oplog.Initial || to > o.Length() || from > to {
		if o.Length() == oplog.None {
			return opts.formatter(cmd).Success(ir.Array{})
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("range %d..%d outside 1..%d", from, to, o.Length()))
	}
	entries, err := o.ReadRange(ctx, from, to)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read oplog", err)
	}

	out := opts.formatter(cmd)
	if out.JSON() {
		arr := make(ir.Array, 0, len(entries))
		for _, ie := range entries {
			pub, err := oplog.ToPublic(ie.Index, ie.Entry)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to describe entry", err)
			}
			obj := pub.Object()
			obj["deleted"] = ir.Bool(regions.IsInDeletedRegion(ie.Index))
			arr = append(arr, obj)
		}
		return out.Success(arr)
	}

	tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
	for _, ie := range entries {
		mark := ""
		if regions.IsInDeletedRegion(ie.Index) {
			mark = "deleted"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", ie.Index, oplog.Summary(ie.Entry), mark)
	}
	return tw.Flush()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <worker>",
		Short: "Show the last known status of a worker",
		Long: `Fold a worker's oplog into the status it was last left in: whether an
invocation is pending, whether it was suspended, interrupted or failed, and
which retry policy is in effect.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := foldWorker(cmd.Context(), rootOpts, oplog.WorkerID(args[0]))
			if err != nil {
				return err
			}
			out := rootOpts.formatter(cmd)
			if out.JSON() {
				return out.Success(st)
			}
			printStatus(out, args[0], st)
			return nil
		},
	}
}

// NewRegionsCommand creates the regions command.
func NewRegionsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "regions <worker>",
		Short:         "List the deleted regions of a worker's oplog",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := foldWorker(cmd.Context(), rootOpts, oplog.WorkerID(args[0]))
			if err != nil {
				return err
			}
			out := rootOpts.formatter(cmd)
			if out.JSON() {
				return out.Success(st.Regions)
			}
			if len(st.Regions) == 0 {
				fmt.Fprintln(out.Writer, "No deleted regions.")
				return nil
			}
			for _, j := range st.Regions {
				fmt.Fprintf(out.Writer, "%s\tentries %d..%d\n", j, j.Source.Next(), j.Target)
			}
			return nil
		},
	}
}

func foldWorker(ctx context.Context, opts *RootOptions, id oplog.WorkerID) (engine.LastKnownStatus, error) {
	n, err := openNode(ctx, opts.Config)
	if err != nil {
		return engine.LastKnownStatus{}, err
	}
	defer n.Close()

	o, err := n.open(ctx, id, opts.Config)
	if err != nil {
		return engine.LastKnownStatus{}, err
	}
	st, err := engine.FoldStatus(ctx, o)
	if err != nil {
		return st, WrapExitError(ExitFailure, "failed to read oplog", err)
	}
	return st, nil
}

func printStatus(out *OutputFormatter, id string, st engine.LastKnownStatus) {
	w := out.Writer
	fmt.Fprintf(w, "Worker:     %s (%s)\n", id, st.Component)
	fmt.Fprintf(w, "Length:     %d\n", st.Length)
	state := st.State.String()
	if st.Interrupt != 0 {
		state += " (" + st.Interrupt.String() + ")"
	}
	fmt.Fprintf(w, "State:      %s\n", state)
	if st.Pending != "" {
		fmt.Fprintf(w, "Pending:    %s\n", st.Pending)
	}
	if st.Error != "" {
		fmt.Fprintf(w, "Error:      %s\n", st.Error)
	}
	fmt.Fprintf(w, "Completed:  %d invocation(s)\n", st.Completed)
	fmt.Fprintf(w, "Regions:    %d\n", len(st.Regions))
	out.VerboseLog("retry policy: %+v", st.RetryPolicy)
}
