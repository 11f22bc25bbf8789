package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/clientdossiers/dsync/internal/offline/schema"
	"github.com/clientdossiers/dsync/internal/ui"
)

var enqueueCmd = &cobra.Command{
	Use:     "enqueue",
	GroupID: "outbox",
	Short:   "Queue a change for the next sync",
	Long: `Queue a mutation in the local outbox instead of sending it to the backend.

Queued changes are replayed in the order they were made by "dsync sync" or
by a running "dsync daemon" once the device is online.`,
}

// enqueue validates and stores p, then reports the assigned operation id.
func enqueue(p schema.Payload) {
	ob, db := openOutbox()
	defer db.Close()

	id, err := ob.Enqueue(context.Background(), p)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("%s Queued %s as operation #%d\n", ui.RenderPass("✓"), p.Kind(), id)
}

func mustBlobs(cmd *cobra.Command) []schema.Blob {
	refs, _ := cmd.Flags().GetStringSlice("media")
	blobs, err := loadBlobs(refs)
	if err != nil {
		fatalf("%v", err)
	}
	return blobs
}

func mustDate(cmd *cobra.Command) schema.Date {
	text, _ := cmd.Flags().GetString("date")
	d, err := parseDate(text, time.Now())
	if err != nil {
		fatalf("%v", err)
	}
	return d
}

var enqueueClientCmd = &cobra.Command{
	Use:   "client",
	Short: "Create or update a client",
	Long: `Create or update a client record. Without --id a new client id is
generated and printed so later changes can refer to it.`,
	Run: func(cmd *cobra.Command, args []string) {
		id, _ := cmd.Flags().GetString("id")
		interactive, _ := cmd.Flags().GetBool("interactive")
		name, _ := cmd.Flags().GetString("name")
		street, _ := cmd.Flags().GetString("street")
		city, _ := cmd.Flags().GetString("city")
		state, _ := cmd.Flags().GetString("state")
		zip, _ := cmd.Flags().GetString("zip")
		phone, _ := cmd.Flags().GetString("phone")
		email, _ := cmd.Flags().GetString("email")

		p := &schema.ClientPayload{
			ID:      id,
			Name:    name,
			Address: schema.Address{Street: street, City: city, State: state, Zip: zip},
			Phone:   phone,
			Email:   email,
		}

		if interactive {
			if !ui.IsTerminal(os.Stdin) {
				fatalf("--interactive needs a terminal")
			}
			if err := promptClient(p); err != nil {
				fatalf("%v", err)
			}
		} else if p.Name == "" {
			fatalf("--name is required (or use --interactive)")
		}

		if p.ID == "" {
			p.ID = uuid.NewString()
			fmt.Printf("New client id: %s\n", ui.RenderAccent(p.ID))
		}
		enqueue(p)
	},
}

var enqueueInterventionCmd = &cobra.Command{
	Use:   "intervention",
	Short: "Add, update or delete an intervention",
}

var enqueueInterventionAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Log a service visit",
	Run: func(cmd *cobra.Command, args []string) {
		clientID, _ := cmd.Flags().GetString("client")
		comments, _ := cmd.Flags().GetString("comments")
		enqueue(&schema.AddInterventionPayload{
			ClientID: clientID,
			Comments: comments,
			Media:    mustBlobs(cmd),
			Date:     mustDate(cmd),
		})
	},
}

var enqueueInterventionUpdateCmd = &cobra.Command{
	Use:   "update <intervention-id>",
	Short: "Replace an intervention you logged",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		clientID, _ := cmd.Flags().GetString("client")
		comments, _ := cmd.Flags().GetString("comments")
		enqueue(&schema.UpdateInterventionPayload{
			InterventionID: args[0],
			ClientID:       clientID,
			Comments:       comments,
			Media:          mustBlobs(cmd),
			Date:           mustDate(cmd),
		})
	},
}

var enqueueInterventionDeleteCmd = &cobra.Command{
	Use:   "delete <intervention-id>",
	Short: "Delete an intervention you logged",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		clientID, _ := cmd.Flags().GetString("client")
		enqueue(&schema.DeleteInterventionPayload{InterventionID: args[0], ClientID: clientID})
	},
}

var enqueueBlacklistCmd = &cobra.Command{
	Use:   "blacklist",
	Short: "Mark or unmark a client as blacklisted",
}

var enqueueBlacklistMarkCmd = &cobra.Command{
	Use:   "mark",
	Short: "Blacklist a client",
	Run: func(cmd *cobra.Command, args []string) {
		clientID, _ := cmd.Flags().GetString("client")
		comments, _ := cmd.Flags().GetString("comments")
		enqueue(&schema.MarkBlacklistedPayload{
			ClientID: clientID,
			Comments: comments,
			Media:    mustBlobs(cmd),
		})
	},
}

var enqueueBlacklistUnmarkCmd = &cobra.Command{
	Use:   "unmark",
	Short: "Remove a client from the blacklist",
	Run: func(cmd *cobra.Command, args []string) {
		clientID, _ := cmd.Flags().GetString("client")
		enqueue(&schema.UnmarkBlacklistedPayload{ClientID: clientID})
	},
}

var enqueueFileCmd = &cobra.Command{
	Use:   "file",
	Short: "Upload or move a technical file",
}

var enqueueFileUploadCmd = &cobra.Command{
	Use:   "upload <local-file|url> <path>",
	Short: "Upload a document into the technical folder tree",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		blob, err := loadBlob(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		enqueue(&schema.UploadFilePayload{Path: args[1], Blob: blob})
	},
}

var enqueueFileMoveCmd = &cobra.Command{
	Use:   "move <old-path> <new-path>",
	Short: "Move a technical file",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		enqueue(&schema.MoveFilePayload{OldPath: args[0], NewPath: args[1]})
	},
}

var enqueueFolderCmd = &cobra.Command{
	Use:   "folder",
	Short: "Create or rename a technical folder",
}

var enqueueFolderCreateCmd = &cobra.Command{
	Use:   "create <path>",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		enqueue(&schema.CreateFolderPayload{Path: args[0]})
	},
}

var enqueueFolderRenameCmd = &cobra.Command{
	Use:   "rename <path> <new-name>",
	Short: "Rename the last segment of a folder path",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		enqueue(&schema.RenameFolderPayload{OldPath: args[0], NewName: args[1]})
	},
}

func init() {
	f := enqueueClientCmd.Flags()
	f.String("id", "", "Client id (default: a new UUID)")
	f.String("name", "", "Client name (required unless --interactive)")
	f.String("street", "", "Street address")
	f.String("city", "", "City")
	f.String("state", "", "State or region")
	f.String("zip", "", "Postal code")
	f.String("phone", "", "Phone number")
	f.String("email", "", "Email address")
	f.BoolP("interactive", "i", false, "Prompt for the client fields")

	for _, c := range []*cobra.Command{enqueueInterventionAddCmd, enqueueInterventionUpdateCmd} {
		c.Flags().String("client", "", "Client id (required)")
		c.Flags().String("comments", "", "Visit notes")
		c.Flags().String("date", "today", `Visit date: YYYY-MM-DD or natural language ("yesterday", "last monday")`)
		c.Flags().StringSlice("media", nil, "Attachment file or URL (repeatable)")
		_ = c.MarkFlagRequired("client")
	}
	enqueueInterventionDeleteCmd.Flags().String("client", "", "Client id (required)")
	_ = enqueueInterventionDeleteCmd.MarkFlagRequired("client")

	enqueueBlacklistMarkCmd.Flags().String("client", "", "Client id (required)")
	enqueueBlacklistMarkCmd.Flags().String("comments", "", "Reason for blacklisting")
	enqueueBlacklistMarkCmd.Flags().StringSlice("media", nil, "Supporting file or URL (repeatable)")
	_ = enqueueBlacklistMarkCmd.MarkFlagRequired("client")
	enqueueBlacklistUnmarkCmd.Flags().String("client", "", "Client id (required)")
	_ = enqueueBlacklistUnmarkCmd.MarkFlagRequired("client")

	enqueueInterventionCmd.AddCommand(enqueueInterventionAddCmd, enqueueInterventionUpdateCmd, enqueueInterventionDeleteCmd)
	enqueueBlacklistCmd.AddCommand(enqueueBlacklistMarkCmd, enqueueBlacklistUnmarkCmd)
	enqueueFileCmd.AddCommand(enqueueFileUploadCmd, enqueueFileMoveCmd)
	enqueueFolderCmd.AddCommand(enqueueFolderCreateCmd, enqueueFolderRenameCmd)
	enqueueCmd.AddCommand(enqueueClientCmd, enqueueInterventionCmd, enqueueBlacklistCmd, enqueueFileCmd, enqueueFolderCmd)

	rootCmd.AddCommand(enqueueCmd)
}
