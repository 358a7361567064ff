package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/durable/internal/fork"
	"github.com/roach88/durable/internal/oplog"
	"github.com/roach88/durable/internal/store"
)

// ForkOptions holds flags for the fork command.
type ForkOptions struct {
	*RootOptions
	Cut          uint64
	RedirectTail bool
}

// NewForkCommand creates the fork command.
func NewForkCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ForkOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fork <source> <target>",
		Short: "Create a worker from a prefix of another worker's oplog",
		Long: `Create target with the entries 1..cut of source's oplog. The new worker
replays that prefix and then continues live, independently of source.

With --redirect-tail the whole oplog is copied and the entries after the cut
are marked deleted, so they can still be inspected.

Exit codes:
  0 - Worker forked
  2 - Unknown source, taken target, or a cut that splits a remote write

Examples:
  durable fork order-7 order-7-retry --cut 12
  durable fork order-7 order-7-retry --cut 12 --redirect-tail`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFork(cmd.Context(), opts, oplog.WorkerID(args[0]), oplog.WorkerID(args[1]), cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.Cut, "cut", 0, "last index of source to keep (required)")
	_ = cmd.MarkFlagRequired("cut")
	cmd.Flags().BoolVar(&opts.RedirectTail, "redirect-tail", false, "copy the whole oplog and delete the tail")

	return cmd
}

func runFork(ctx context.Context, opts *ForkOptions, source, target oplog.WorkerID, cmd *cobra.Command) error {
	n, err := openNode(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer n.Close()

	svc := fork.New(n.backend, n.backend, n.backend)
	var forkOpts []fork.ForkOption
	if opts.RedirectTail {
		forkOpts = append(forkOpts, fork.WithRedirectedTail())
	}
	res, err := svc.Fork(ctx, source, target, oplog.IndexFromUint64(opts.Cut), forkOpts...)
	if err != nil {
		return forkError("fork failed", err)
	}

	out := opts.formatter(cmd)
	if out.JSON() {
		return out.Success(res)
	}
	fmt.Fprintf(out.Writer, "Forked %s at %d into %s (%d entries)\n", res.Source, res.Cut, res.Target, res.Length)
	return nil
}

// RevertOptions holds flags for the revert command.
type RevertOptions struct {
	*RootOptions
	To uint64
}

// NewRevertCommand creates the revert command.
func NewRevertCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RevertOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "revert <worker>",
		Short: "Delete everything after an index of a worker's oplog",
		Long: `Append a revert entry that deletes the entries after --to. The next time
the worker runs it replays 1..to and continues live from there.

The worker must not be running while it is reverted.

Examples:
  durable revert order-7 --to 9`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRevert(cmd.Context(), opts, oplog.WorkerID(args[0]), cmd)
		},
	}

	cmd.Flags().Uint64Var(&opts.To, "to", 0, "last index to keep (required)")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func runRevert(ctx context.Context, opts *RevertOptions, id oplog.WorkerID, cmd *cobra.Command) error {
	n, err := openNode(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer n.Close()

	dropped, err := fork.New(n.backend, n.backend, n.backend).Revert(ctx, id, oplog.IndexFromUint64(opts.To))
	if err != nil {
		return forkError("revert failed", err)
	}

	out := opts.formatter(cmd)
	if out.JSON() {
		return out.Success(dropped)
	}
	fmt.Fprintf(out.Writer, "Reverted %s to %d; entries %d..%d deleted\n", id, dropped.Source, dropped.Source.Next(), dropped.Target)
	return nil
}

func forkError(message string, err error) error {
	switch {
	case errors.Is(err, oplog.ErrWorkerNotFound),
		errors.Is(err, store.ErrWorkerExists),
		errors.Is(err, fork.ErrInvalidCut),
		errors.Is(err, fork.ErrOpenRemoteWrite):
		return WrapExitError(ExitCommandError, message, err)
	default:
		return WrapExitError(ExitFailure, message, err)
	}
}
