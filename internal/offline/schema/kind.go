package schema

import "fmt"

// Kind identifies which backend mutation a queued operation replays.
type Kind string

const (
	KindCreateOrUpdateClient Kind = "createOrUpdateClient"
	KindAddIntervention      Kind = "addIntervention"
	KindUpdateIntervention   Kind = "updateIntervention"
	KindDeleteIntervention   Kind = "deleteIntervention"
	KindMarkBlacklisted      Kind = "markAsBlacklisted"
	KindUnmarkBlacklisted    Kind = "unmarkAsBlacklisted"
	KindUploadFile           Kind = "uploadFile"
	KindMoveFile             Kind = "moveFile"
	KindRenameFolder         Kind = "renameFolder"
	KindCreateFolder         Kind = "createFolder"
)

// AllKinds lists every supported kind.
var AllKinds = []Kind{
	KindCreateOrUpdateClient,
	KindAddIntervention,
	KindUpdateIntervention,
	KindDeleteIntervention,
	KindMarkBlacklisted,
	KindUnmarkBlacklisted,
	KindUploadFile,
	KindMoveFile,
	KindRenameFolder,
	KindCreateFolder,
}

// ParseKind converts a stored tag back into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown operation kind %q", s)
	}
	return k, nil
}

// Valid reports whether k is one of AllKinds.
func (k Kind) Valid() bool {
	for _, known := range AllKinds {
		if k == known {
			return true
		}
	}
	return false
}

// OwnershipFixed reports whether the record targeted by this kind has an owner
// that can never change. An ownership rejection for such a kind is final.
func (k Kind) OwnershipFixed() bool {
	return k == KindUpdateIntervention || k == KindDeleteIntervention
}

func (k Kind) String() string {
	return string(k)
}
