package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/backend/httpapi"
	"github.com/clientdossiers/dsync/internal/backend/memory"
	"github.com/clientdossiers/dsync/internal/config"
	"github.com/clientdossiers/dsync/internal/ui"
)

var backendCmd = &cobra.Command{
	Use:     "backend",
	GroupID: "dev",
	Short:   "Local development backend",
}

var backendServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve an in-memory backend over HTTP",
	Long: `Serve an in-memory backend that enforces the same rules as production:
callers must present a bearer token, interventions can only be edited or
deleted by the employee who logged them, and unknown records are rejected.

Tokens map to employees through backend.tokens in the config file, e.g.

  backend:
    tokens:
      tok-alice: alice
      tok-bob: bob

State is lost when the server stops.`,
	Run: func(cmd *cobra.Command, args []string) {
		tokens := make(map[string]backend.Principal, len(cfg.BackendTokens))
		for token, who := range cfg.BackendTokens {
			tokens[token] = backend.Principal(who)
		}
		if len(tokens) == 0 {
			tokens["dev"] = "dev"
			fmt.Printf("%s No backend.tokens configured; accepting token %q as employee \"dev\"\n",
				ui.RenderWarn("!"), "dev")
		}

		srv := &http.Server{
			Addr:              cfg.BackendListen,
			Handler:           httpapi.NewHandler(memory.New(), tokens, logs.For("backend")),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()

		fmt.Printf("%s Development backend listening on http://%s\n", ui.RenderPass("✓"), cfg.BackendListen)
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				fatalf("backend server: %v", err)
			}
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fatalf("failed to shut down backend: %v", err)
		}
		fmt.Println("\nDevelopment backend stopped")
	},
}

func init() {
	backendServeCmd.Flags().String("listen", "", "Listen address (default 127.0.0.1:8700)")
	_ = v.BindPFlag(config.KeyBackendListen, backendServeCmd.Flags().Lookup("listen"))

	backendCmd.AddCommand(backendServeCmd)
	rootCmd.AddCommand(backendCmd)
}
