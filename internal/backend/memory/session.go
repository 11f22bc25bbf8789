package memory

import (
	"context"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/offline/schema"
)

// As returns a connection to b on which every call is made by p, whatever
// principal the call's context carries.
func (b *Backend) As(p backend.Principal) backend.Backend {
	return session{b: b, principal: p}
}

type session struct {
	b         *Backend
	principal backend.Principal
}

func (s session) ctx(ctx context.Context) context.Context {
	return backend.WithPrincipal(ctx, s.principal)
}

func (s session) CreateOrUpdateClient(ctx context.Context, id, name string, address schema.Address, phone, email string) error {
	return s.b.CreateOrUpdateClient(s.ctx(ctx), id, name, address, phone, email)
}

func (s session) AddIntervention(ctx context.Context, clientID, comments string, media []schema.Blob, day, month, year uint64) error {
	return s.b.AddIntervention(s.ctx(ctx), clientID, comments, media, day, month, year)
}

func (s session) UpdateIntervention(ctx context.Context, interventionID, clientID, comments string, media []schema.Blob, day, month, year uint64) error {
	return s.b.UpdateIntervention(s.ctx(ctx), interventionID, clientID, comments, media, day, month, year)
}

func (s session) DeleteIntervention(ctx context.Context, interventionID, clientID string) error {
	return s.b.DeleteIntervention(s.ctx(ctx), interventionID, clientID)
}

func (s session) MarkAsBlacklisted(ctx context.Context, clientID, comments string, media []schema.Blob) error {
	return s.b.MarkAsBlacklisted(s.ctx(ctx), clientID, comments, media)
}

func (s session) UnmarkAsBlacklisted(ctx context.Context, clientID string) error {
	return s.b.UnmarkAsBlacklisted(s.ctx(ctx), clientID)
}

func (s session) UploadTechnicalFile(ctx context.Context, path string, blob schema.Blob) error {
	return s.b.UploadTechnicalFile(s.ctx(ctx), path, blob)
}

func (s session) MoveTechnicalFile(ctx context.Context, oldPath, newPath string) error {
	return s.b.MoveTechnicalFile(s.ctx(ctx), oldPath, newPath)
}

func (s session) RenameFolder(ctx context.Context, oldPath, newName string) error {
	return s.b.RenameFolder(s.ctx(ctx), oldPath, newName)
}

func (s session) CreateFolder(ctx context.Context, path string) error {
	return s.b.CreateFolder(s.ctx(ctx), path)
}
