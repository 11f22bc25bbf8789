package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/clientdossiers/dsync/internal/config"
	"github.com/clientdossiers/dsync/internal/offline/connectivity"
	"github.com/clientdossiers/dsync/internal/offline/daemon"
	"github.com/clientdossiers/dsync/internal/offline/dashboard"
	"github.com/clientdossiers/dsync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Replay queued changes automatically whenever the device is online",
	Long: `Run the sync coordinator in the foreground.

The daemon watches the connectivity state file written by the app shell
("online" or "offline"; a missing file means online), polls the outbox for new
changes, and replays them whenever the device is online. Runs never overlap.

A WebSocket dashboard streams status to the app:
  ws://127.0.0.1:<port>/ws     status, invalidate, operation_discarded, sync_complete
  GET  /status                 current status as JSON
  POST /sync                   sync now (409 while a sync runs, 503 offline)
  GET|PUT /views/<key>         cached read views, dropped when a sync invalidates them`,
	Run: func(cmd *cobra.Command, args []string) {
		ob, db := openOutbox()
		defer db.Close()

		observer, err := connectivity.NewFileObserver(cfg.StateFile, logs.For("connectivity"))
		if err != nil {
			fatalf("%v", err)
		}
		if err := observer.Start(); err != nil {
			fatalf("failed to watch %s: %v", cfg.StateFile, err)
		}
		defer observer.Stop()

		server := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.DashboardPort,
			Views:  db,
			Logger: logs.For("dashboard"),
		})
		handler := dashboard.NewHandler(server, nil)

		listeners := daemon.Listeners{handler, printer{}}
		coord, err := daemon.NewWithConfig(ob, connector(), observer, coordinatorConfig(listeners, db))
		if err != nil {
			fatalf("%v", err)
		}
		server.SetController(coord)

		if err := server.Start(); err != nil {
			fatalf("failed to start dashboard: %v", err)
		}
		defer server.Stop()

		fmt.Printf("%s Sync daemon started (%s)\n", ui.RenderPass("✓"), ui.RenderOnline(observer.IsOnline()))
		fmt.Printf("  Outbox:       %s\n", db.Path())
		fmt.Printf("  Connectivity: %s\n", cfg.StateFile)
		fmt.Printf("  Dashboard:    ws://%s/ws\n", server.GetAddr())
		fmt.Println("\nPress Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := coord.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}

		fmt.Println("\nSync daemon stopped")
	},
}

var connectivityCmd = &cobra.Command{
	Use:       "connectivity online|offline",
	GroupID:   "dev",
	Short:     "Write the connectivity state file the daemon watches",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"online", "offline"},
	Run: func(cmd *cobra.Command, args []string) {
		var online bool
		switch args[0] {
		case "online":
			online = true
		case "offline":
		default:
			fatalf("want online or offline, got %q", args[0])
		}
		if err := connectivity.WriteStateFile(cfg.StateFile, online); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s %s\n", ui.RenderOnline(online), ui.RenderMuted(cfg.StateFile))
	},
}

func init() {
	daemonCmd.Flags().IntP("port", "p", 8080, "Dashboard port")
	_ = v.BindPFlag(config.KeyDashboardPort, daemonCmd.Flags().Lookup("port"))
	daemonCmd.Flags().String("state-file", "", "Connectivity state file")
	_ = v.BindPFlag(config.KeyStateFile, daemonCmd.Flags().Lookup("state-file"))

	rootCmd.AddCommand(daemonCmd, connectivityCmd)
}
