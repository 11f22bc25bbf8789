package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/clientdossiers/dsync/internal/backend"
	"github.com/clientdossiers/dsync/internal/offline/daemon"
	"github.com/clientdossiers/dsync/internal/offline/schema"
	"github.com/clientdossiers/dsync/internal/offline/store"
	"github.com/clientdossiers/dsync/internal/offline/sync"
)

var quiet = log.New(io.Discard, "", 0)

// fakeController answers SyncNow with a canned result.
type fakeController struct {
	status daemon.Status
	ran    bool
	err    error
	calls  int
}

func (f *fakeController) Status() daemon.Status { return f.status }

func (f *fakeController) SyncNow(context.Context) (bool, error) {
	f.calls++
	return f.ran, f.err
}

func startServer(t *testing.T, ctl Controller) *Server {
	t.Helper()

	server := NewServer(&Config{Port: 0, Controller: ctl, Logger: quiet})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() {
		if err := server.Stop(); err != nil {
			t.Errorf("Stop() failed: %v", err)
		}
	})
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("failed to unmarshal message: %v", err)
	}
	return msg
}

func waitClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", server.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: quiet})

	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if addr := server.GetAddr(); addr == "" || addr == "127.0.0.1:0" {
		t.Errorf("GetAddr() = %q, want the bound address", addr)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}

func TestWelcomeCarriesStatus(t *testing.T) {
	ctl := &fakeController{status: daemon.Status{Online: true, Pending: 3, CanSync: true}}
	server := startServer(t, ctl)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	msg := readMessage(t, ctx, conn)
	if msg.Type != MessageTypeStatus {
		t.Fatalf("welcome type = %s, want %s", msg.Type, MessageTypeStatus)
	}

	var status daemon.Status
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		t.Fatalf("failed to unmarshal status: %v", err)
	}
	if status.Pending != 3 || !status.CanSync {
		t.Errorf("welcome status = %+v", status)
	}
	waitClients(t, server, 1)
}

func TestHandlerBroadcasts(t *testing.T) {
	server := startServer(t, nil)
	handler := NewHandler(server, quiet)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, server)
	readMessage(t, ctx, conn)
	waitClients(t, server, 1)

	handler.StatusChanged(daemon.Status{Online: true, Syncing: true})
	handler.Invalidated([]string{schema.ViewClients, schema.ClientView("acme")})
	handler.OperationDiscarded(sync.Discard{
		Operation: schema.QueuedOperation{ID: 7, Kind: schema.KindUnmarkBlacklisted, EnqueuedAt: time.Now()},
		Err:       backend.New(backend.CodeNotFound, "Client not found"),
	})
	handler.SyncCompleted(sync.Report{Attempted: 2, Applied: 1, Discarded: 1}, nil)

	if msg := readMessage(t, ctx, conn); msg.Type != MessageTypeStatus {
		t.Errorf("message 1 type = %s, want status", msg.Type)
	}

	msg := readMessage(t, ctx, conn)
	var inv InvalidateData
	if err := json.Unmarshal(msg.Data, &inv); err != nil {
		t.Fatalf("failed to unmarshal invalidate data: %v", err)
	}
	if msg.Type != MessageTypeInvalidate || len(inv.Keys) != 2 {
		t.Errorf("message 2 = %s %+v", msg.Type, inv)
	}

	msg = readMessage(t, ctx, conn)
	var discard DiscardData
	if err := json.Unmarshal(msg.Data, &discard); err != nil {
		t.Fatalf("failed to unmarshal discard data: %v", err)
	}
	if msg.Type != MessageTypeOperationDiscarded || discard.OperationID != 7 || discard.Code != string(backend.CodeNotFound) {
		t.Errorf("message 3 = %s %+v", msg.Type, discard)
	}
	if discard.Message == "" {
		t.Error("discard message is empty")
	}

	msg = readMessage(t, ctx, conn)
	var done SyncCompleteData
	if err := json.Unmarshal(msg.Data, &done); err != nil {
		t.Fatalf("failed to unmarshal sync data: %v", err)
	}
	if msg.Type != MessageTypeSyncComplete || done.Report.Applied != 1 || done.Error != "" {
		t.Errorf("message 4 = %s %+v", msg.Type, done)
	}
}

func TestClientDisconnect(t *testing.T) {
	server := startServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	readMessage(t, ctx, conn)
	waitClients(t, server, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitClients(t, server, 0)
}

func TestSyncEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		ctl    *fakeController
		status int
	}{
		{"ran", &fakeController{ran: true}, http.StatusOK},
		{"already running", &fakeController{ran: false}, http.StatusConflict},
		{"offline", &fakeController{err: daemon.ErrOffline}, http.StatusServiceUnavailable},
		{"run failed", &fakeController{ran: true, err: errors.New("boom")}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := startServer(t, tt.ctl)

			resp, err := http.Post("http://"+server.GetAddr()+"/sync", "application/json", nil)
			if err != nil {
				t.Fatalf("POST /sync failed: %v", err)
			}
			resp.Body.Close()

			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.ctl.calls != 1 {
				t.Errorf("SyncNow() called %d times, want 1", tt.ctl.calls)
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	server := startServer(t, &fakeController{status: daemon.Status{Online: false, Pending: 2}})

	resp, err := http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()

	var status daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	if resp.StatusCode != http.StatusOK || status.Pending != 2 || status.Online {
		t.Errorf("GET /status = %d %+v", resp.StatusCode, status)
	}

	resp2, err := http.Get("http://" + server.GetAddr() + "/sync")
	if err != nil {
		t.Fatalf("GET /sync failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET /sync status = %d, want 405", resp2.StatusCode)
	}
}

func TestNoController(t *testing.T) {
	server := startServer(t, nil)

	resp, err := http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestViews_CachedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	server := NewServer(&Config{Port: 0, Views: db, Logger: quiet})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer server.Stop()

	key := schema.InterventionsView("acme")
	url := "http://" + server.GetAddr() + "/views/" + key

	do := func(method, body string) (int, string) {
		t.Helper()
		req, _ := http.NewRequest(method, url, strings.NewReader(body))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s failed: %v", method, url, err)
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return resp.StatusCode, string(data)
	}

	if status, _ := do(http.MethodGet, ""); status != http.StatusNotFound {
		t.Errorf("GET before PUT = %d, want 404", status)
	}
	if status, _ := do(http.MethodPut, "{not json"); status != http.StatusBadRequest {
		t.Errorf("PUT invalid JSON = %d, want 400", status)
	}

	view := `[{"id":"iv-1","comments":"visit"}]`
	if status, _ := do(http.MethodPut, view); status != http.StatusNoContent {
		t.Fatalf("PUT = %d, want 204", status)
	}
	status, body := do(http.MethodGet, "")
	if status != http.StatusOK || body != view {
		t.Errorf("GET = %d %q, want 200 %q", status, body, view)
	}

	if err := db.Invalidate(ctx, []string{key}); err != nil {
		t.Fatalf("Invalidate() failed: %v", err)
	}
	if status, _ := do(http.MethodGet, ""); status != http.StatusNotFound {
		t.Errorf("GET after invalidation = %d, want 404", status)
	}
}

func TestViews_NoCache(t *testing.T) {
	server := startServer(t, nil)

	resp, err := http.Get("http://" + server.GetAddr() + "/views/clients")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}
