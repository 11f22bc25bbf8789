package sync

import (
	"strings"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/offline/schema"
)

// Outcome is what happens to a queued operation after one attempt.
type Outcome int

const (
	// Retained leaves the operation queued for the next run.
	Retained Outcome = iota
	// Applied means the backend accepted the operation; it is removed.
	Applied
	// Discarded means the backend rejected the operation for good; it is
	// removed and the user is told.
	Discarded
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Discarded:
		return "discarded"
	default:
		return "retained"
	}
}

// ownershipPhrase is how backends without coded errors word an ownership
// rejection.
const ownershipPhrase = "You can only"

// Classify decides the outcome of dispatching an operation of the given kind
// that returned err. It has no side effects.
//
// Ownership rejections are final only for kinds whose target record can never
// change owner; for the others the caller's rights may still change, so the
// operation is kept.
func Classify(kind schema.Kind, err error) Outcome {
	if err == nil {
		return Applied
	}

	code := backend.CodeOf(err)
	if code == backend.CodeUnknown && strings.Contains(err.Error(), ownershipPhrase) {
		code = backend.CodeOwnership
	}

	switch code {
	case backend.CodeNotFound, backend.CodeInvalid:
		return Discarded
	case backend.CodeOwnership:
		if kind.OwnershipFixed() {
			return Discarded
		}
		return Retained
	default:
		// Unauthorized, Unavailable and anything unrecognized.
		return Retained
	}
}
