package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/clientdossiers/dsync/internal/offline/connectivity"
	"github.com/clientdossiers/dsync/internal/offline/daemon"
	"github.com/clientdossiers/dsync/internal/offline/sync"
	"github.com/clientdossiers/dsync/internal/ui"
)

// printer reports discards on the terminal as they happen.
type printer struct {
	daemon.NopListener
}

func (printer) OperationDiscarded(d sync.Discard) {
	fmt.Printf("%s %s\n", ui.RenderFail("✗"), daemon.DiscardMessage(d))
}

func coordinatorConfig(listener daemon.Listener, inv daemon.Invalidator) *daemon.Config {
	return &daemon.Config{
		PollInterval: cfg.PollInterval,
		Policy:       cfg.Policy,
		CallTimeout:  cfg.CallTimeout,
		Invalidator:  inv,
		Listener:     listener,
		Logger:       logs.For("daemon"),
		EngineLogger: logs.For("sync"),
	}
}

func printReport(r sync.Report) {
	fmt.Printf("  Applied:   %s\n", ui.RenderPass(fmt.Sprint(r.Applied)))
	if r.Discarded > 0 {
		fmt.Printf("  Discarded: %s\n", ui.RenderFail(fmt.Sprint(r.Discarded)))
	}
	if r.Retained > 0 {
		fmt.Printf("  Retained:  %s (will retry)\n", ui.RenderWarn(fmt.Sprint(r.Retained)))
	}
	if r.Halted {
		fmt.Println(ui.RenderMuted("  Stopped at the first transient failure (halt policy)"))
	}
}

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Replay queued changes against the backend once",
	Long: `Replay every queued change against the backend, oldest first.

Changes the backend accepts are removed from the outbox. Changes it rejects
for good (unknown record, invalid data, someone else's intervention) are
removed and reported. Changes that fail for any other reason stay queued for
the next sync.`,
	Run: func(cmd *cobra.Command, args []string) {
		force, _ := cmd.Flags().GetBool("force")

		online, err := connectivity.ReadStateFile(cfg.StateFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
		if force {
			online = true
		}

		ob, db := openOutbox()
		defer db.Close()

		c, err := daemon.NewWithConfig(ob, connector(), connectivity.NewSwitch(online), coordinatorConfig(printer{}, db))
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s Syncing %s...\n", ui.RenderAccent("🔄"), db.Path())
		start := time.Now()

		_, err = c.SyncNow(context.Background())
		if errors.Is(err, daemon.ErrOffline) {
			fatalf("device is offline (use --force to try anyway)")
		}

		status := c.Status()
		printReport(status.Last)
		if err != nil {
			fatalf("sync failed: %v", err)
		}
		fmt.Printf("%s Sync complete in %v, %d change(s) still queued\n",
			ui.RenderPass("✓"), time.Since(start).Round(time.Millisecond), status.Pending)
	},
}

func init() {
	syncCmd.Flags().Bool("force", false, "Sync even if the connectivity state file says offline")
	rootCmd.AddCommand(syncCmd)
}
