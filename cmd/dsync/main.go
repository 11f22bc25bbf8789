// Command dsync queues client-record changes made offline and replays them
// against the backend when connectivity returns.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/backend/httpapi"
	"github.com/clientdossiers/dsync/internal/config"
	"github.com/clientdossiers/dsync/internal/logging"
	"github.com/clientdossiers/dsync/internal/offline/outbox"
	"github.com/clientdossiers/dsync/internal/offline/store"
)

var (
	v          = config.New()
	configPath string

	cfg  *config.Config
	logs *logging.Set
)

var rootCmd = &cobra.Command{
	Use:   "dsync",
	Short: "Offline outbox and sync engine for client dossiers",
	Long: `dsync keeps client, intervention, blacklist and technical-file changes
made without connectivity in a local outbox, and replays them against the
backend in the order they were made once the device is back online.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(v, configPath)
		if err != nil {
			return err
		}
		logs, err = logging.Open(logging.Options{
			File:       cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logs != nil {
			_ = logs.Close()
		}
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "outbox", Title: "Offline changes:"},
		&cobra.Group{ID: "sync", Title: "Synchronization:"},
		&cobra.Group{ID: "dev", Title: "Development:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Config file (default ~/.dsync/config.yaml)")
	flags.String("db", "", "Outbox database path")
	flags.String("backend", "", "Backend base URL")
	flags.String("token", "", "Backend bearer token")
	flags.String("log-file", "", "Write logs to this rotated file instead of stderr")

	_ = v.BindPFlag(config.KeyDBPath, flags.Lookup("db"))
	_ = v.BindPFlag(config.KeyBackendURL, flags.Lookup("backend"))
	_ = v.BindPFlag(config.KeyBackendToken, flags.Lookup("token"))
	_ = v.BindPFlag(config.KeyLogFile, flags.Lookup("log-file"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// openOutbox opens the local store and wraps it in an Outbox. The caller
// closes the returned store.
func openOutbox() (*outbox.Outbox, *store.DB) {
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		fatalf("failed to open outbox database: %v", err)
	}
	if err := db.InitSchema(); err != nil {
		db.Close()
		fatalf("failed to initialize outbox schema: %v", err)
	}
	return outbox.New(db, logs.For("outbox")), db
}

// connector dials the configured backend lazily, at the start of each run.
func connector() backend.Connector {
	if cfg.BackendURL == "" {
		fatalf("no backend configured (set backend.url, DSYNC_BACKEND_URL or --backend)")
	}
	return func(ctx context.Context) (backend.Backend, error) {
		return httpapi.NewClient(cfg.BackendURL, cfg.BackendToken, nil), nil
	}
}
