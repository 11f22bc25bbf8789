// Package backend defines the contract of the authoritative remote backend as
// seen by the offline sync engine.
//
// Obtaining an authenticated connection is the caller's concern. Each method
// applies one mutation and returns nil or an error classifiable with CodeOf.
package backend

import (
	"context"

	"github.com/clientdossiers/dsync/internal/offline/schema"
)

// Backend exposes one call per replayable mutation.
//
// Date parts are the backend's natural-number wire type.
type Backend interface {
	CreateOrUpdateClient(ctx context.Context, id, name string, address schema.Address, phone, email string) error
	AddIntervention(ctx context.Context, clientID, comments string, media []schema.Blob, day, month, year uint64) error
	UpdateIntervention(ctx context.Context, interventionID, clientID, comments string, media []schema.Blob, day, month, year uint64) error
	DeleteIntervention(ctx context.Context, interventionID, clientID string) error
	MarkAsBlacklisted(ctx context.Context, clientID, comments string, media []schema.Blob) error
	UnmarkAsBlacklisted(ctx context.Context, clientID string) error
	UploadTechnicalFile(ctx context.Context, path string, blob schema.Blob) error
	MoveTechnicalFile(ctx context.Context, oldPath, newPath string) error
	RenameFolder(ctx context.Context, oldPath, newName string) error
	CreateFolder(ctx context.Context, path string) error
}

// Connector returns a usable backend connection, e.g. after refreshing the
// user's session.
type Connector func(ctx context.Context) (Backend, error)

// Static returns a Connector that always yields b.
func Static(b Backend) Connector {
	return func(context.Context) (Backend, error) {
		return b, nil
	}
}
