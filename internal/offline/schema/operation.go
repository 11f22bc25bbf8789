package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// QueuedOperation is one deferred mutation as persisted in the outbox.
//
// ID is assigned by the store and is zero until the operation has been
// appended. Operations are never modified once stored.
type QueuedOperation struct {
	ID         int64           `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Decode parses the raw payload into the struct matching op.Kind.
func (op QueuedOperation) Decode() (Payload, error) {
	p, err := newPayload(op.Kind)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(op.Payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(p); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload of operation %d: %w", op.Kind, op.ID, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s payload of operation %d: %w", op.Kind, op.ID, err)
	}
	return p, nil
}

// Encode validates p and serializes it for storage.
func Encode(p Payload) (Kind, json.RawMessage, error) {
	if p == nil {
		return "", nil, fmt.Errorf("payload is nil")
	}
	if err := p.Validate(); err != nil {
		return "", nil, fmt.Errorf("invalid %s payload: %w", p.Kind(), err)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal %s payload: %w", p.Kind(), err)
	}
	return p.Kind(), data, nil
}

func newPayload(k Kind) (Payload, error) {
	switch k {
	case KindCreateOrUpdateClient:
		return &ClientPayload{}, nil
	case KindAddIntervention:
		return &AddInterventionPayload{}, nil
	case KindUpdateIntervention:
		return &UpdateInterventionPayload{}, nil
	case KindDeleteIntervention:
		return &DeleteInterventionPayload{}, nil
	case KindMarkBlacklisted:
		return &MarkBlacklistedPayload{}, nil
	case KindUnmarkBlacklisted:
		return &UnmarkBlacklistedPayload{}, nil
	case KindUploadFile:
		return &UploadFilePayload{}, nil
	case KindMoveFile:
		return &MoveFilePayload{}, nil
	case KindRenameFolder:
		return &RenameFolderPayload{}, nil
	case KindCreateFolder:
		return &CreateFolderPayload{}, nil
	default:
		return nil, fmt.Errorf("unknown operation kind %q", k)
	}
}
