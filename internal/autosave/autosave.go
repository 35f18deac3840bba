// Package autosave provides the persistence scheduler: a debounced writer
// that turns keystroke-granularity edits into one store write per quiet
// period.
//
// Persisting every keystroke would overwhelm the store and serialize badly
// against concurrent broadcast traffic; batching to one write per pause
// bounds write volume to the number of pauses, not the number of edits.
package autosave

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/syncspace/syncspace/internal/docstore"
	"github.com/syncspace/syncspace/internal/editor"
)

// DefaultQuietPeriod is the debounce window: a save fires only after this
// long without a new edit.
const DefaultQuietPeriod = 2 * time.Second

// Saver persists one document revision. Satisfied by *docstore.Client.
type Saver interface {
	// Save upserts the document: the store updates an existing row by id
	// or fails if the id is unrecognized. The scheduler never branches
	// on create-vs-update; the store owns that distinction.
	Save(ctx context.Context, doc docstore.Document) (docstore.Document, error)
}

// Config holds scheduler configuration.
type Config struct {
	// QuietPeriod is the debounce duration. Defaults to DefaultQuietPeriod.
	QuietPeriod time.Duration

	// Sentinel is content that must never be written: the surface's
	// not-yet-loaded placeholder. Defaults to editor.PlaceholderContent.
	Sentinel string

	// SaveTimeout bounds each store write. Defaults to 10s.
	SaveTimeout time.Duration

	// Logger for scheduler activity.
	Logger *log.Logger
}

// Scheduler debounces document writes.
//
// At most one pending write exists at any time: each Schedule call cancels
// any timer that has not fired yet and arms a fresh one, so only the most
// recent content within a quiet period reaches the store.
type Scheduler struct {
	saver       Saver
	quiet       time.Duration
	sentinel    string
	saveTimeout time.Duration
	logger      *log.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// New creates a scheduler writing through the given saver.
func New(saver Saver, cfg *Config) (*Scheduler, error) {
	if saver == nil {
		return nil, fmt.Errorf("saver cannot be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	quiet := cfg.QuietPeriod
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	sentinel := cfg.Sentinel
	if sentinel == "" {
		sentinel = editor.PlaceholderContent
	}
	saveTimeout := cfg.SaveTimeout
	if saveTimeout <= 0 {
		saveTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[autosave] ", log.LstdFlags)
	}

	return &Scheduler{
		saver:       saver,
		quiet:       quiet,
		sentinel:    sentinel,
		saveTimeout: saveTimeout,
		logger:      logger,
	}, nil
}

// Schedule queues a debounced write of the given document.
//
// Any pending write is superseded. Empty content and the not-yet-loaded
// sentinel are refused so a slow initial load can never clobber a real
// document with placeholder content.
func (s *Scheduler) Schedule(doc docstore.Document) {
	if doc.Content == "" || doc.Content == s.sentinel {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(s.quiet, func() {
		s.save(t, doc)
	})
	s.timer = t
}

// Cancel drops any pending write without firing it. The unflushed edit is
// simply lost; the next edit reschedules.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Close cancels any pending write and refuses further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Pending reports whether a write is scheduled but not yet fired.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// save issues the single upsert write for a fired timer. Failure is
// logged, not retried: the next edit's debounce cycle saves again, so
// retry rides on user activity rather than a timer policy. The session
// that scheduled this write may already be gone by the time it completes;
// nothing here may assume otherwise.
//
// fired identifies the timer whose callback this is. A timer can fire in
// the instant before Schedule, Cancel, or Close takes the lock; by the
// time this runs, s.timer may already be a newer timer (or nil). Writing
// then would resurrect superseded content or dodge a cancellation, so a
// stale handle returns without touching s.timer or the store.
func (s *Scheduler) save(fired *time.Timer, doc docstore.Document) {
	s.mu.Lock()
	if s.closed || s.timer != fired {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.saveTimeout)
	defer cancel()

	if _, err := s.saver.Save(ctx, doc); err != nil {
		s.logger.Printf("Autosave failed for document %s: %v", doc.ID, err)
		return
	}
	s.logger.Printf("Autosaved document %s (%d bytes)", doc.ID, len(doc.Content))
}
