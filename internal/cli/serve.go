package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/alryyan1/salesync/internal/catalog"
	"github.com/alryyan1/salesync/internal/facade"
	"github.com/alryyan1/salesync/internal/identity"
	"github.com/alryyan1/salesync/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr        string
	Secret      string
	CatalogPath string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the in-memory sale server",
		Long: `Start the development sale server backed by the in-memory service.

The server speaks the same wire contract as the production sale API,
so a cart client can be pointed at it unchanged. State lives in memory
and is lost on shutdown. A signed operator token is printed on startup
for immediate use.

Example:
  salesync serve --secret dev-secret
  salesync serve --addr :9000 --secret dev-secret --catalog products.cue`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8380", "listen address")
	cmd.Flags().StringVar(&opts.Secret, "secret", "", "HMAC secret for operator tokens (required)")
	cmd.Flags().StringVar(&opts.CatalogPath, "catalog", "", "CUE product catalog to expose at /api/products")
	_ = cmd.MarkFlagRequired("secret")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	// Configure logging based on verbose flag
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))

	var cat *catalog.Catalog
	if opts.CatalogPath != "" {
		slog.Info("loading catalog", "path", opts.CatalogPath)
		loaded, err := catalog.Load(opts.CatalogPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load catalog", err)
		}
		cat = loaded
		slog.Info("catalog loaded", "products", cat.Len())
	}

	ids := identity.NewManager(opts.Secret, 0)
	devOperator := identity.Operator{ID: 1, Name: "dev", Role: "supervisor"}
	token, err := ids.Sign(devOperator)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to sign operator token", err)
	}

	svc := facade.NewMemory()
	serverOpts := []server.Option{server.WithLogger(slog.Default())}
	if cat != nil {
		serverOpts = append(serverOpts, server.WithCatalog(cat))
	}
	srv := server.New(svc, ids, serverOpts...)

	httpSrv := &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	slog.Info("sale server starting", "addr", opts.Addr)
	fmt.Fprintf(cmd.OutOrStdout(), "Sale server listening on %s\n", opts.Addr)
	fmt.Fprintf(cmd.OutOrStdout(), "Operator token (id=%d): %s\n", devOperator.ID, token)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitCommandError, "server error", err)
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			slog.Error("forced shutdown", "error", err)
		}
		<-errCh
	}

	slog.Info("sale server stopped")
	return nil
}
