package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/durable/internal/demo"
	"github.com/roach88/durable/internal/engine"
	"github.com/roach88/durable/internal/inspect"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen string

	// ready, when set, receives the bound address once the server listens.
	ready func(addr string)
}

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run every registered worker behind the HTTP API",
		Long: `Recover every registered worker, replaying its oplog, and serve the
inspection and control API until interrupted.

Routes:
  GET  /workers                         registered workers
  GET  /workers/{id}/oplog?from=&to=    public oplog entries
  GET  /workers/{id}/status             last known status
  POST /workers/{id}/invoke/{function}  invoke (Idempotency-Key header)
  POST /workers/{id}/interrupt?kind=    interrupt, suspend or restart
  POST /workers/{id}/resume             resume
  GET  /metrics                         Prometheus metrics

Examples:
  durable serve
  durable serve --listen :9090 --config node.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (default: listen_addr from config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	ctx, stop := interruptContext(cmd.Context())
	defer stop()

	addr := opts.Config.ListenAddr
	if opts.Listen != "" {
		addr = opts.Listen
	}

	n, err := openNode(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			slog.Error("error closing storage", "error", err)
		}
	}()

	exec := engine.NewExecutor(n.backend, demo.Components(), workerOptions(opts.Config, n.kv)...)
	exec.Start(ctx)
	workers, err := exec.Recover(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to recover workers", err)
	}
	slog.Info("workers recovered", "count", len(workers))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{
		Handler:           inspect.NewServer(n.backend, inspect.WithExecutor(exec), inspect.WithLogger(slog.Default())).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Listening on http://%s\n", ln.Addr())
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
	if opts.ready != nil {
		opts.ready(ln.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		// Workers stop with ctx. A failed worker stays visible through the
		// inspection routes and does not stop the server.
		if err := exec.Wait(); err != nil {
			slog.Warn("workers failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	slog.Info("server stopped gracefully")
	return nil
}
