package sync

import (
	"context"
	"fmt"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/offline/schema"
)

// Dispatch invokes the backend call matching p's kind with p's arguments.
func Dispatch(ctx context.Context, b backend.Backend, p schema.Payload) error {
	switch p := p.(type) {
	case *schema.ClientPayload:
		return b.CreateOrUpdateClient(ctx, p.ID, p.Name, p.Address, p.Phone, p.Email)
	case *schema.AddInterventionPayload:
		day, month, year := p.Date.Parts()
		return b.AddIntervention(ctx, p.ClientID, p.Comments, p.Media, day, month, year)
	case *schema.UpdateInterventionPayload:
		day, month, year := p.Date.Parts()
		return b.UpdateIntervention(ctx, p.InterventionID, p.ClientID, p.Comments, p.Media, day, month, year)
	case *schema.DeleteInterventionPayload:
		return b.DeleteIntervention(ctx, p.InterventionID, p.ClientID)
	case *schema.MarkBlacklistedPayload:
		return b.MarkAsBlacklisted(ctx, p.ClientID, p.Comments, p.Media)
	case *schema.UnmarkBlacklistedPayload:
		return b.UnmarkAsBlacklisted(ctx, p.ClientID)
	case *schema.UploadFilePayload:
		return b.UploadTechnicalFile(ctx, p.Path, p.Blob)
	case *schema.MoveFilePayload:
		return b.MoveTechnicalFile(ctx, p.OldPath, p.NewPath)
	case *schema.RenameFolderPayload:
		return b.RenameFolder(ctx, p.OldPath, p.NewName)
	case *schema.CreateFolderPayload:
		return b.CreateFolder(ctx, p.Path)
	default:
		return backend.New(backend.CodeInvalid, fmt.Sprintf("no backend call for payload %T", p))
	}
}
