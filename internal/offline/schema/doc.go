// Package schema defines the operations that can be deferred while the
// device is offline.
//
// # Operation Kinds
//
// Every queued operation carries a Kind naming the backend mutation it
// replays. The set is closed: ParseKind rejects unknown tags and the Payload
// interface cannot be implemented outside this package.
//
//	createOrUpdateClient   ClientPayload
//	addIntervention        AddInterventionPayload
//	updateIntervention     UpdateInterventionPayload
//	deleteIntervention     DeleteInterventionPayload
//	markAsBlacklisted      MarkBlacklistedPayload
//	unmarkAsBlacklisted    UnmarkBlacklistedPayload
//	uploadFile             UploadFilePayload
//	moveFile               MoveFilePayload
//	renameFolder           RenameFolderPayload
//	createFolder           CreateFolderPayload
//
// # Storage Shape
//
// A QueuedOperation keeps its payload as raw JSON so the store never needs to
// know about individual kinds:
//
//	kind, raw, err := schema.Encode(&schema.DeleteInterventionPayload{
//	    InterventionID: "iv-1",
//	    ClientID:       "acme",
//	})
//	...
//	payload, err := op.Decode()
//
// The on-disk encoding is not a compatibility surface; it only has to round
// trip within one build.
//
// # Read Views
//
// InvalidationKeys reports which cached read views an operation makes stale
// once it is applied. Keys are slash-separated; invalidating "client" also
// drops "client/<id>".
package schema
