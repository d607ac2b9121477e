package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/roach88/grab/internal/api"
)

// shutdownTimeout bounds how long serve waits for in-flight requests.
const shutdownTimeout = 5 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr  string
	Pprof bool

	// Ready, when set, receives the bound address once the listener is open
	// (for testing with port 0).
	Ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only HTTP API",
		Long: `Serve runs, export rows, duplicate diagnostics and table counts as JSON.

Routes:
  GET /healthz
  GET /api/runs?limit=20
  GET /api/runs/:correlation_id
  GET /api/export?store=<code>
  GET /api/duplicates
  GET /api/counts

Example:
  grab serve --addr 127.0.0.1:8080
  grab serve --pprof`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&opts.Pprof, "pprof", false, "mount /debug/pprof")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	env, err := openEnvironment(cmd, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer env.Close()

	addr := opts.Addr
	if addr == "" {
		addr = env.settings.ServeAddr
	}
	mode := gin.ReleaseMode
	if opts.Verbose {
		mode = gin.DebugMode
	}
	router := api.NewRouter(env.store, env.log, api.Options{Mode: mode, Pprof: opts.Pprof})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	srv := &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	bound := ln.Addr().String()
	env.log.WithField("addr", bound).WithField("pprof", opts.Pprof).Info("api listening")
	fmt.Fprintf(cmd.ErrOrStderr(), "Listening on http://%s\n", bound)
	if opts.Ready != nil {
		opts.Ready(bound)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "server error", err)
		}
		return nil
	case <-ctx.Done():
	}

	env.log.Info("shutting down api")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "server shutdown", err)
	}
	return nil
}
