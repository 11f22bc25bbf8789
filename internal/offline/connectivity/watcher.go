package connectivity

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// File contents understood by FileObserver.
const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// FileObserver follows a state file written by the host platform. The file
// holds "online" or "offline"; a missing or empty file means online.
//
// The parent directory is watched rather than the file itself so that atomic
// replace-by-rename writes are seen.
type FileObserver struct {
	*Switch

	path    string
	logger  *log.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	stopped bool
}

// NewFileObserver creates an observer for path, initialized from the file's
// current contents. It must be started with Start before it follows changes.
func NewFileObserver(path string, logger *log.Logger) (*FileObserver, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state file path: %w", err)
	}

	online, err := ReadStateFile(abs)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileObserver{
		Switch:  NewSwitch(online),
		path:    abs,
		logger:  logger,
		watcher: watcher,
		done:    make(chan struct{}),
	}, nil
}

// ReadStateFile parses a connectivity state file.
func ReadStateFile(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	switch state := strings.ToLower(strings.TrimSpace(string(data))); state {
	case "", StateOnline:
		return true, nil
	case StateOffline:
		return false, nil
	default:
		return false, fmt.Errorf("unrecognized connectivity state %q in %s", state, path)
	}
}

// WriteStateFile records online as the state in path.
func WriteStateFile(path string, online bool) error {
	state := StateOffline
	if online {
		state = StateOnline
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(state+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// IsRunning reports whether the observer is following the file.
func (o *FileObserver) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Path returns the watched state file.
func (o *FileObserver) Path() string {
	return o.path
}

// Start begins following the state file.
func (o *FileObserver) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return fmt.Errorf("observer already running")
	}
	if o.stopped {
		return fmt.Errorf("observer stopped")
	}

	dir := filepath.Dir(o.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	if err := o.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch state directory %s: %w", dir, err)
	}

	// Catch writes that landed between construction and Add.
	o.reload()

	o.running = true
	o.wg.Add(1)
	go o.processEvents()

	return nil
}

// Stop stops following the file and waits for the event loop to exit.
// The last observed state remains readable.
func (o *FileObserver) Stop() error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return nil
	}
	wasRunning := o.running
	o.running = false
	o.stopped = true
	o.mu.Unlock()

	if wasRunning {
		close(o.done)
	}

	if err := o.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	o.wg.Wait()
	return nil
}

func (o *FileObserver) processEvents() {
	defer o.wg.Done()

	for {
		select {
		case <-o.done:
			return

		case event, ok := <-o.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != o.path {
				continue
			}
			if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
				continue
			}
			o.reload()

		case err, ok := <-o.watcher.Errors:
			if !ok {
				return
			}
			o.logger.Printf("Watcher error: %v", err)
		}
	}
}

func (o *FileObserver) reload() {
	online, err := ReadStateFile(o.path)
	if err != nil {
		o.logger.Printf("Ignoring state file change: %v", err)
		return
	}
	if o.Set(online) {
		o.logger.Printf("Connectivity changed: online=%v", online)
	}
}
