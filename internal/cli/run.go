package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/durable/internal/demo"
	"github.com/roach88/durable/internal/engine"
	"github.com/roach88/durable/internal/oplog"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Key       string
	Component string
}

// InvokeResult is the output of the run command.
type InvokeResult struct {
	Worker   oplog.WorkerID `json:"worker"`
	Function string         `json:"function"`
	Key      string         `json:"key,omitempty"`
	Output   string         `json:"output"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <worker> <function> [args]",
		Short: "Invoke a function on a worker",
		Long: `Start a worker, replay its oplog, invoke one exported function and stop.
The worker is created if it does not exist yet.

Invoking again with the same --key returns the recorded result without
running the function a second time.

Exit codes:
  0 - Invocation succeeded
  1 - The function or the worker failed
  2 - Command error (unknown function, database not found, etc.)

Examples:
  durable run acct-1 deposit alice:10 --key d1
  durable run acct-1 balance alice`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var payload string
			if len(args) == 3 {
				payload = args[2]
			}
			return runInvoke(opts, oplog.WorkerID(args[0]), args[1], payload, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Key, "key", "", "idempotency key (default: random)")
	cmd.Flags().StringVar(&opts.Component, "component", demo.Name, "component of a new worker")

	return cmd
}

func runInvoke(opts *RunOptions, id oplog.WorkerID, function, payload string, cmd *cobra.Command) error {
	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	n, err := openNode(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer n.Close()

	exec := engine.NewExecutor(n.backend, demo.Components(), workerOptions(opts.Config, n.kv)...)
	exec.Start(ctx)

	if _, err := n.backend.GetWorker(ctx, id); errors.Is(err, oplog.ErrWorkerNotFound) {
		if _, err := exec.Spawn(ctx, id, opts.Component); err != nil {
			return WrapExitError(ExitCommandError, "failed to create worker", err)
		}
		opts.formatter(cmd).VerboseLog("created worker %s (%s)", id, opts.Component)
	} else if err != nil {
		return WrapExitError(ExitCommandError, "failed to read worker", err)
	} else if _, err := exec.Attach(ctx, id); err != nil {
		return WrapExitError(ExitCommandError, "failed to start worker", err)
	}

	output, invokeErr := exec.Invoke(ctx, id, function, []byte(payload), opts.Key)
	shutdownErr := exec.Shutdown()

	if invokeErr != nil {
		if engine.IsUnknownFunction(invokeErr) {
			return WrapExitError(ExitCommandError, "invocation rejected", invokeErr)
		}
		return WrapExitError(ExitFailure, "invocation failed", invokeErr)
	}
	if shutdownErr != nil {
		return WrapExitError(ExitFailure, "worker failed", shutdownErr)
	}

	out := opts.formatter(cmd)
	if out.JSON() {
		return out.Success(InvokeResult{
			Worker:   id,
			Function: function,
			Key:      opts.Key,
			Output:   string(output),
		})
	}
	fmt.Fprintln(out.Writer, string(output))
	return nil
}

// interruptContext returns a context cancelled by SIGINT or SIGTERM.
func interruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
