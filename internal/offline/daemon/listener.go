package daemon

import "github.com/clientdossiers/dsync/internal/offline/sync"

// Listener receives coordinator notifications. Calls are synchronous and
// may come from any goroutine; implementations must not block.
type Listener interface {
	// StatusChanged is called whenever the snapshot may have changed.
	StatusChanged(Status)
	// Invalidated is called once per run with the stale read views.
	Invalidated(keys []string)
	// OperationDiscarded is called for each operation rejected for good.
	OperationDiscarded(sync.Discard)
	// SyncCompleted is called at the end of every run.
	SyncCompleted(report sync.Report, err error)
}

// NopListener ignores every notification.
type NopListener struct{}

func (NopListener) StatusChanged(Status) {}
func (NopListener) Invalidated([]string) {}
func (NopListener) OperationDiscarded(sync.Discard) {}
func (NopListener) SyncCompleted(sync.Report, error) {}

// Listeners fans notifications out to several listeners in order.
type Listeners []Listener

func (ls Listeners) StatusChanged(s Status) {
	for _, l := range ls {
		l.StatusChanged(s)
	}
}

func (ls Listeners) Invalidated(keys []string) {
	for _, l := range ls {
		l.Invalidated(keys)
	}
}

func (ls Listeners) OperationDiscarded(d sync.Discard) {
	for _, l := range ls {
		l.OperationDiscarded(d)
	}
}

func (ls Listeners) SyncCompleted(r sync.Report, err error) {
	for _, l := range ls {
		l.SyncCompleted(r, err)
	}
}
