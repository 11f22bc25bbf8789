package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/offline/daemon"
	"github.com/clientdossiers/dsync/internal/offline/sync"
)

// InvalidateData lists the read views made stale by a run
type InvalidateData struct {
	Keys []string `json:"keys"`
}

// DiscardData describes an operation dropped after a permanent rejection
type DiscardData struct {
	OperationID int64     `json:"operation_id"`
	Kind        string    `json:"kind"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	Code        string    `json:"code"`
	Message     string    `json:"message"`
}

// SyncCompleteData contains sync completion information
type SyncCompleteData struct {
	Report sync.Report `json:"report"`
	Error  string      `json:"error,omitempty"`
}

// Handler turns coordinator notifications into dashboard messages.
type Handler struct {
	server *Server
	logger *log.Logger
}

var _ daemon.Listener = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, logger *log.Logger) *Handler {
	if logger == nil {
		logger = server.logger
	}
	return &Handler{
		server: server,
		logger: logger,
	}
}

// StatusChanged broadcasts the new status snapshot.
func (h *Handler) StatusChanged(s daemon.Status) {
	h.send(MessageTypeStatus, s)
}

// Invalidated tells the UI which views to reload.
func (h *Handler) Invalidated(keys []string) {
	h.send(MessageTypeInvalidate, InvalidateData{Keys: keys})
}

// OperationDiscarded surfaces a permanently rejected change to the user.
func (h *Handler) OperationDiscarded(d sync.Discard) {
	h.logger.Printf("Operation %d discarded: %v", d.Operation.ID, d.Err)
	h.send(MessageTypeOperationDiscarded, DiscardData{
		OperationID: d.Operation.ID,
		Kind:        string(d.Operation.Kind),
		EnqueuedAt:  d.Operation.EnqueuedAt,
		Code:        string(backend.CodeOf(d.Err)),
		Message:     daemon.DiscardMessage(d),
	})
}

// SyncCompleted broadcasts the run report.
func (h *Handler) SyncCompleted(report sync.Report, err error) {
	data := SyncCompleteData{Report: report}
	if err != nil {
		data.Error = err.Error()
	}
	h.send(MessageTypeSyncComplete, data)
}

func (h *Handler) send(typ MessageType, v interface{}) {
	dataJSON, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}

	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      dataJSON,
	})
}
