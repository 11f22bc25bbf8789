package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/clientdossiers/dsync/internal/offline/connectivity"
	"github.com/clientdossiers/dsync/internal/offline/migrate"
	"github.com/clientdossiers/dsync/internal/offline/schema"
	"github.com/clientdossiers/dsync/internal/ui"
)

var outboxCmd = &cobra.Command{
	Use:     "outbox",
	GroupID: "outbox",
	Short:   "Inspect queued changes",
}

// listedOperation is the export shape of a queued operation: the payload is
// decoded so YAML output stays readable.
type listedOperation struct {
	ID         int64          `json:"id" yaml:"id" toml:"id"`
	Kind       schema.Kind    `json:"kind" yaml:"kind" toml:"kind"`
	EnqueuedAt string         `json:"enqueued_at" yaml:"enqueued_at" toml:"enqueued_at"`
	Payload    map[string]any `json:"payload" yaml:"payload" toml:"payload"`
}

// tomlDocument wraps the list since TOML has no top-level arrays.
type tomlDocument struct {
	Operations []listedOperation `toml:"operation"`
}

func toListed(ops []schema.QueuedOperation) ([]listedOperation, error) {
	out := make([]listedOperation, 0, len(ops))
	for _, op := range ops {
		var payload map[string]any
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode operation %d: %w", op.ID, err)
		}
		out = append(out, listedOperation{
			ID:         op.ID,
			Kind:       op.Kind,
			EnqueuedAt: op.EnqueuedAt.Format("2006-01-02T15:04:05Z07:00"),
			Payload:    payload,
		})
	}
	return out, nil
}

// writeOperations renders ops in the requested format.
func writeOperations(w io.Writer, ops []schema.QueuedOperation, format string) error {
	switch format {
	case "table", "":
		if len(ops) == 0 {
			_, err := fmt.Fprintln(w, "Outbox is empty")
			return err
		}
		rows := make([][]string, 0, len(ops))
		for _, op := range ops {
			rows = append(rows, []string{
				strconv.FormatInt(op.ID, 10),
				string(op.Kind),
				op.EnqueuedAt.Local().Format("2006-01-02 15:04:05"),
				summarize(op),
			})
		}
		_, err := fmt.Fprintln(w, ui.Table([]string{"ID", "KIND", "QUEUED", "TARGET"}, rows))
		return err

	case "json":
		listed, err := toListed(ops)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(listed)

	case "yaml":
		listed, err := toListed(ops)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(listed); err != nil {
			return err
		}
		return enc.Close()

	case "toml":
		listed, err := toListed(ops)
		if err != nil {
			return err
		}
		return toml.NewEncoder(w).Encode(tomlDocument{Operations: listed})

	default:
		return fmt.Errorf("unknown format %q (want table, json, yaml or toml)", format)
	}
}

// summarize names the record an operation targets.
func summarize(op schema.QueuedOperation) string {
	p, err := op.Decode()
	if err != nil {
		return ui.RenderFail("undecodable")
	}
	switch p := p.(type) {
	case *schema.ClientPayload:
		return "client " + p.ID
	case *schema.AddInterventionPayload:
		return fmt.Sprintf("client %s on %s", p.ClientID, p.Date)
	case *schema.UpdateInterventionPayload:
		return "intervention " + p.InterventionID
	case *schema.DeleteInterventionPayload:
		return "intervention " + p.InterventionID
	case *schema.MarkBlacklistedPayload:
		return "client " + p.ClientID
	case *schema.UnmarkBlacklistedPayload:
		return "client " + p.ClientID
	case *schema.UploadFilePayload:
		return p.Path
	case *schema.MoveFilePayload:
		return p.OldPath + " → " + p.NewPath
	case *schema.RenameFolderPayload:
		return p.OldPath + " → " + p.NewName
	case *schema.CreateFolderPayload:
		return p.Path
	default:
		return ""
	}
}

var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued changes in replay order",
	Run: func(cmd *cobra.Command, args []string) {
		format, _ := cmd.Flags().GetString("format")

		ob, db := openOutbox()
		defer db.Close()

		ops, err := ob.DrainCandidates(context.Background())
		if err != nil {
			fatalf("%v", err)
		}
		if err := writeOperations(os.Stdout, ops, format); err != nil {
			fatalf("%v", err)
		}
	},
}

var outboxStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the pending count and connectivity",
	Run: func(cmd *cobra.Command, args []string) {
		ob, db := openOutbox()
		defer db.Close()

		count, err := ob.PendingCount(context.Background())
		if err != nil {
			fatalf("%v", err)
		}

		online, err := connectivity.ReadStateFile(cfg.StateFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}

		fmt.Printf("Outbox:       %s\n", db.Path())
		fmt.Printf("Pending:      %s\n", ui.RenderBold(strconv.Itoa(count)))
		fmt.Printf("Connectivity: %s\n", ui.RenderOnline(online))
		if online && count > 0 {
			fmt.Printf("\nRun %s to replay now.\n", ui.RenderAccent("dsync sync"))
		}
	},
}

var outboxExportCmd = &cobra.Command{
	Use:   "export <file.jsonl>",
	Short: "Write queued changes to a JSONL file",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		_, db := openOutbox()
		defer db.Close()

		n, err := migrate.Export(context.Background(), db, args[0])
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Exported %d operation(s) to %s\n", ui.RenderPass("✓"), n, args[0])
	},
}

var outboxImportCmd = &cobra.Command{
	Use:   "import <file.jsonl>",
	Short: "Queue the changes of a JSONL export after the current ones",
	Long: `Append the operations of a JSONL export to the outbox, keeping their order
and original timestamps. Operations that fail validation are skipped.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		_, db := openOutbox()
		defer db.Close()

		result, err := migrate.Import(context.Background(), db, migrate.ImportOptions{
			FromJSONL: args[0],
			DryRun:    dryRun,
		})
		if err != nil {
			fatalf("%v", err)
		}

		for _, msg := range result.Errors {
			fmt.Printf("%s %s\n", ui.RenderWarn("skipped"), msg)
		}
		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d operation(s), skipped %d\n", ui.RenderPass("✓"), verb, result.Imported, result.Skipped)
	},
}

func init() {
	outboxListCmd.Flags().StringP("format", "f", "table", "Output format: table, json, yaml or toml")
	outboxImportCmd.Flags().Bool("dry-run", false, "Validate without queuing anything")

	outboxCmd.AddCommand(outboxListCmd, outboxStatusCmd, outboxExportCmd, outboxImportCmd)
	rootCmd.AddCommand(outboxCmd)
}
