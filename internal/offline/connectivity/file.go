package connectivity

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileSource feeds a Setter from a state file maintained by the host, for
// example a NetworkManager dispatcher script that runs
//
//	echo down > ~/.taskmaster/connectivity
//
// The file holds a single word (online/offline, up/down). The parent
// directory is watched rather than the file so atomic replace-by-rename
// is observed. No polling is done.
type FileSource struct {
	path   string
	target Setter
	logger *log.Logger

	watcher *fsnotify.Watcher
	errors  chan error
	done    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewFileSource creates a source for path. It must be started with Start.
func NewFileSource(path string, target Setter, logger *log.Logger) (*FileSource, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[connectivity] ", log.LstdFlags)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state file %s: %w", path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &FileSource{
		path:    abs,
		target:  target,
		logger:  logger,
		watcher: watcher,
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Path returns the absolute path of the state file.
func (fs *FileSource) Path() string {
	return fs.path
}

// Start applies the current file contents, if any, and begins watching.
// The parent directory is created if missing.
func (fs *FileSource) Start() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.running {
		return fmt.Errorf("file source already running")
	}

	dir := filepath.Dir(fs.path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	if err := fs.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch state directory %s: %w", dir, err)
	}

	if err := fs.apply(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fs.logger.Printf("ignoring state file: %v", err)
	}

	fs.running = true
	fs.wg.Add(1)
	go fs.processEvents()
	return nil
}

// Stop stops watching and blocks until the event loop has exited.
func (fs *FileSource) Stop() error {
	fs.mu.Lock()
	if !fs.running {
		fs.mu.Unlock()
		return fs.watcher.Close()
	}
	fs.running = false
	fs.mu.Unlock()

	close(fs.done)

	if err := fs.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	fs.wg.Wait()
	close(fs.errors)
	return nil
}

// Set records state in the state file and applies it to the target, so
// other processes reading the file agree with this one. It reports whether
// the target changed.
func (fs *FileSource) Set(state State) bool {
	if err := WriteStateFile(fs.path, state); err != nil {
		fs.logger.Printf("failed to record %s in state file: %v", state, err)
	}
	return fs.target.Set(state)
}

// Errors returns watcher errors. The channel is closed by Stop.
func (fs *FileSource) Errors() <-chan error {
	return fs.errors
}

// IsRunning reports whether the source is watching.
func (fs *FileSource) IsRunning() bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.running
}

func (fs *FileSource) processEvents() {
	defer fs.wg.Done()

	for {
		select {
		case <-fs.done:
			return

		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != fs.path {
				continue
			}
			// Removal keeps the last known state.
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if err := fs.apply(); err != nil && !errors.Is(err, os.ErrNotExist) {
				fs.logger.Printf("ignoring state file update: %v", err)
			}

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			select {
			case fs.errors <- err:
			case <-fs.done:
				return
			default:
				fs.logger.Printf("watcher error: %v", err)
			}
		}
	}
}

// apply reads the state file and forwards its state to the target.
func (fs *FileSource) apply() error {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		return err
	}
	// Truncate-then-write produces an empty intermediate event.
	if len(data) == 0 {
		return nil
	}
	state, err := ParseState(string(data))
	if err != nil {
		return err
	}
	fs.target.Set(state)
	return nil
}

// ReadStateFile returns the state recorded in path. ok is false when the
// file is missing or empty.
func ReadStateFile(path string) (state State, ok bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Offline, false, nil
	}
	if err != nil {
		return Offline, false, fmt.Errorf("failed to read state file: %w", err)
	}
	if len(data) == 0 {
		return Offline, false, nil
	}
	state, err = ParseState(string(data))
	if err != nil {
		return Offline, false, err
	}
	return state, true, nil
}

// WriteStateFile records state in path with a rename, so a running
// FileSource sees one complete write.
func WriteStateFile(path string, state State) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create state directory %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".connectivity-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(state.String() + "\n"); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
