package sync

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/offline/schema"
)

func TestClassify(t *testing.T) {
	ownership := backend.New(backend.CodeOwnership, "You can only edit your own interventions")

	tests := []struct {
		name string
		kind schema.Kind
		err  error
		want Outcome
	}{
		{"success", schema.KindCreateFolder, nil, Applied},
		{"not found", schema.KindMarkBlacklisted, backend.ErrNotFound, Discarded},
		{"invalid", schema.KindAddIntervention, backend.New(backend.CodeInvalid, "bad date"), Discarded},
		{"ownership on update", schema.KindUpdateIntervention, ownership, Discarded},
		{"ownership on delete", schema.KindDeleteIntervention, fmt.Errorf("call: %w", ownership), Discarded},
		{"ownership on blacklist", schema.KindMarkBlacklisted, ownership, Retained},
		{"ownership on client", schema.KindCreateOrUpdateClient, backend.ErrOwnership, Retained},
		{"uncoded ownership message", schema.KindDeleteIntervention, errors.New("You can only delete your own interventions"), Discarded},
		{"uncoded ownership on folder", schema.KindCreateFolder, errors.New("You can only touch your folders"), Retained},
		{"unauthorized", schema.KindUpdateIntervention, backend.ErrUnauthorized, Retained},
		{"unavailable", schema.KindCreateFolder, backend.ErrUnavailable, Retained},
		{"deadline", schema.KindUploadFile, context.DeadlineExceeded, Retained},
		{"unknown", schema.KindMoveFile, errors.New("boom"), Retained},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.kind, tt.err); got != tt.want {
				t.Errorf("Classify(%s, %v) = %s, want %s", tt.kind, tt.err, got, tt.want)
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyContinue, false},
		{"continue", PolicyContinue, false},
		{"halt", PolicyHaltOnTransient, false},
		{"halt-on-transient", PolicyHaltOnTransient, false},
		{"retry-forever", 0, true},
	}

	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParsePolicy(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParsePolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
