package editor

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// retryInterval is how often a queued silent apply is retried while the
// surface is still initializing.
const retryInterval = 25 * time.Millisecond

// Adapter wraps a Surface and exposes the three primitives the engine
// needs: read current content, apply content silently, and a stream of
// user-driven changes.
//
// The change stream is the surface's own, with no intermediate hop: an
// edit raised before a caller sweeps the stream is already buffered in
// it. That property is what lets a session discard pre-load keystrokes
// deterministically instead of racing a forwarding goroutine for them.
// The adapter's own work is the silent-apply path: equality suppression
// and queueing applies that arrive before the surface is ready.
type Adapter struct {
	surface Surface
	logger  *log.Logger

	mu       sync.Mutex
	applied  string
	pending  string
	queued   bool
	retrying bool
	closed   bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewAdapter creates an adapter around the given surface.
//
// If logger is nil, a default logger writing to stderr is used.
func NewAdapter(surface Surface, logger *log.Logger) (*Adapter, error) {
	if surface == nil {
		return nil, fmt.Errorf("surface cannot be nil")
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[editor] ", log.LstdFlags)
	}

	a := &Adapter{
		surface: surface,
		logger:  logger,
		done:    make(chan struct{}),
	}

	if surface.Ready() {
		content, err := surface.Content()
		if err != nil {
			return nil, fmt.Errorf("failed to read initial content: %w", err)
		}
		a.applied = content
	}

	return a, nil
}

// Content returns the current serialized content. Side-effect free.
func (a *Adapter) Content() string {
	content, err := a.surface.Content()
	if err != nil {
		a.logger.Printf("Failed to read content: %v", err)
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.applied
	}
	return content
}

// Changes returns the stream of user-driven edits. Each event carries the
// new serialized content. The channel is closed when the surface closes.
func (a *Adapter) Changes() <-chan string {
	return a.surface.Changes()
}

// SetContentSilent replaces the displayed content without emitting a
// change event.
//
// Applying content equal to what the surface already shows is a no-op: no
// re-render, no event, nothing. If the surface is not yet ready the
// content is queued and retried until the surface comes up; only the most
// recent queued content is ever applied.
func (a *Adapter) SetContentSilent(content string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	if !a.surface.Ready() {
		a.pending = content
		a.queued = true
		if !a.retrying {
			a.retrying = true
			a.wg.Add(1)
			go a.retryPending()
		}
		return
	}

	if current, err := a.surface.Content(); err == nil && content == current {
		return
	}
	if err := a.surface.Replace(content); err != nil {
		a.logger.Printf("Failed to apply content: %v", err)
		return
	}
	a.applied = content
}

// Close stops the adapter and closes the underlying surface. Idempotent.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.done)
	a.mu.Unlock()

	err := a.surface.Close()
	a.wg.Wait()
	return err
}

// retryPending applies the most recently queued content once the surface
// reports ready.
func (a *Adapter) retryPending() {
	defer a.wg.Done()

	ticker := time.NewTicker(retryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.done:
			return

		case <-ticker.C:
			a.mu.Lock()
			if !a.queued {
				a.retrying = false
				a.mu.Unlock()
				return
			}
			if !a.surface.Ready() {
				a.mu.Unlock()
				continue
			}

			content := a.pending
			a.queued = false
			a.retrying = false
			if current, err := a.surface.Content(); err != nil || content != current {
				if err := a.surface.Replace(content); err != nil {
					a.logger.Printf("Failed to apply queued content: %v", err)
				} else {
					a.applied = content
				}
			}
			a.mu.Unlock()
			return
		}
	}
}
