package connectivity

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestSwitch_EdgesOnly(t *testing.T) {
	sw := NewSwitch(false)

	var got []bool
	sw.Subscribe(func(online bool) { got = append(got, online) })

	for _, v := range []bool{false, true, true, false, true} {
		sw.Set(v)
	}

	if want := []bool{true, false, true}; !reflect.DeepEqual(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if !sw.IsOnline() {
		t.Error("IsOnline() = false, want true")
	}
}

func TestSwitch_Unsubscribe(t *testing.T) {
	sw := NewSwitch(true)

	calls := 0
	cancel := sw.Subscribe(func(bool) { calls++ })
	sw.Set(false)
	cancel()
	sw.Set(true)

	if calls != 1 {
		t.Errorf("subscriber called %d times, want 1", calls)
	}
}

func TestSwitch_SerialDelivery(t *testing.T) {
	sw := NewSwitch(false)

	var mu sync.Mutex
	inFlight, maxInFlight := 0, 0
	sw.Subscribe(func(bool) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(v bool) {
			defer wg.Done()
			sw.Set(v)
		}(i%2 == 0)
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Errorf("max concurrent callbacks = %d, want 1", maxInFlight)
	}
}

func TestReadStateFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		contents *string
		want     bool
		wantErr  bool
	}{
		{"missing", nil, true, false},
		{"empty", ptr(""), true, false},
		{"online", ptr("online\n"), true, false},
		{"offline", ptr("  OFFLINE "), false, false},
		{"garbage", ptr("maybe"), false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name)
			if tt.contents != nil {
				if err := os.WriteFile(path, []byte(*tt.contents), 0o644); err != nil {
					t.Fatalf("WriteFile() failed: %v", err)
				}
			}

			got, err := ReadStateFile(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ReadStateFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ReadStateFile() = %v, want %v", got, tt.want)
			}
		})
	}
}

func ptr(s string) *string { return &s }

func TestFileObserver_FollowsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "connectivity")
	if err := WriteStateFile(path, false); err != nil {
		t.Fatalf("WriteStateFile() failed: %v", err)
	}

	obs, err := NewFileObserver(path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewFileObserver() failed: %v", err)
	}
	defer obs.Stop()

	if obs.IsOnline() {
		t.Fatal("IsOnline() = true before start, want false from file")
	}

	changes := make(chan bool, 4)
	obs.Subscribe(func(online bool) { changes <- online })

	if err := obs.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if !obs.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}

	if err := WriteStateFile(path, true); err != nil {
		t.Fatalf("WriteStateFile() failed: %v", err)
	}
	expectChange(t, changes, true)

	if err := WriteStateFile(path, false); err != nil {
		t.Fatalf("WriteStateFile() failed: %v", err)
	}
	expectChange(t, changes, false)

	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	expectChange(t, changes, true)

	if err := obs.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
	if err := obs.Stop(); err != nil {
		t.Errorf("second Stop() failed: %v", err)
	}
}

func TestFileObserver_StopWithoutStart(t *testing.T) {
	obs, err := NewFileObserver(filepath.Join(t.TempDir(), "connectivity"), log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("NewFileObserver() failed: %v", err)
	}
	if err := obs.Stop(); err != nil {
		t.Errorf("Stop() failed: %v", err)
	}
	if err := obs.Start(); err == nil {
		t.Error("Start() after Stop() succeeded")
	}
}

func expectChange(t *testing.T, changes <-chan bool, want bool) {
	t.Helper()
	select {
	case got := <-changes:
		if got != want {
			t.Errorf("transition = %v, want %v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no transition to online=%v observed", want)
	}
}
