package editor

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FileSurface is an editing surface backed by a file on disk. The user
// edits the file with whatever editor they like; each write to the file is
// one user-driven edit.
//
// Replace writes the file directly and swallows the resulting filesystem
// event by content equality, so silent applies never come back around as
// change events. fsnotify is used for cross-platform write detection; the
// parent directory is watched because many editors save via rename.
type FileSurface struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *log.Logger

	mu     sync.Mutex
	last   string
	closed bool

	changes chan string
	wg      sync.WaitGroup
}

// NewFileSurface creates a surface over the file at path.
//
// The file is created empty if it does not exist. If logger is nil, a
// default logger writing to stderr is used.
func NewFileSurface(path string, logger *log.Logger) (*FileSurface, error) {
	if path == "" {
		return nil, fmt.Errorf("path cannot be empty")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[surface] ", log.LstdFlags)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	initial, err := os.ReadFile(abs)
	if os.IsNotExist(err) {
		if err := os.WriteFile(abs, nil, 0644); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", abs, err)
		}
		initial = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", abs, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	fs := &FileSurface{
		path:    abs,
		watcher: watcher,
		logger:  logger,
		last:    string(initial),
		changes: make(chan string, 64),
	}

	fs.wg.Add(1)
	go fs.watchEvents()

	return fs, nil
}

// Content returns the last-known file content.
func (fs *FileSurface) Content() (string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.last, nil
}

// Replace writes content to the file without emitting a change event.
func (fs *FileSurface) Replace(content string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return fmt.Errorf("surface is closed")
	}
	if err := os.WriteFile(fs.path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", fs.path, err)
	}
	fs.last = content
	return nil
}

// Changes returns the stream of user-driven edits.
func (fs *FileSurface) Changes() <-chan string {
	return fs.changes
}

// Ready always reports true: the surface is initialized once the file
// exists, which NewFileSurface guarantees.
func (fs *FileSurface) Ready() bool {
	return true
}

// Close stops watching and closes the change stream. Idempotent.
func (fs *FileSurface) Close() error {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return nil
	}
	fs.closed = true
	fs.mu.Unlock()

	err := fs.watcher.Close()
	fs.wg.Wait()
	return err
}

// watchEvents turns filesystem writes into change events, dropping writes
// whose content matches the last-known content (silent applies and
// editor-side no-ops).
func (fs *FileSurface) watchEvents() {
	defer fs.wg.Done()
	defer close(fs.changes)

	for {
		select {
		case event, ok := <-fs.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if filepath.Clean(event.Name) != fs.path {
				continue
			}
			fs.handleWrite()

		case err, ok := <-fs.watcher.Errors:
			if !ok {
				return
			}
			fs.logger.Printf("Watcher error: %v", err)
		}
	}
}

func (fs *FileSurface) handleWrite() {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		fs.logger.Printf("Failed to read %s: %v", fs.path, err)
		return
	}
	content := string(data)

	fs.mu.Lock()
	if fs.closed || content == fs.last {
		fs.mu.Unlock()
		return
	}
	fs.last = content
	fs.mu.Unlock()

	select {
	case fs.changes <- content:
	default:
		// A reader this far behind will resync from the next write.
		fs.logger.Printf("Change stream full, dropping event")
	}
}
