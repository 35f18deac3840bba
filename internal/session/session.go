// Package session provides the document session controller: the
// orchestrator that wires the editing surface, the broadcast relay, and
// the persistence scheduler together for one open document.
//
// A session serializes its three event sources through one loop, so local
// edits and inbound relay messages are handled strictly in arrival order
// with no locking inside the handlers. The loop-prevention rules live
// here: remote content is applied silently, equal content is dropped, and
// remote applies never publish or schedule saves.
package session

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/syncspace/syncspace/internal/autosave"
	"github.com/syncspace/syncspace/internal/docstore"
	"github.com/syncspace/syncspace/internal/editor"
)

// GlobalTopic is the single shared topic of the observed protocol, where
// every open session across every document receives every edit and relies
// on content equality to avoid misapplying another document's content.
// Per-document topics are the default; this remains available behind
// configuration for wire compatibility with legacy clients.
const GlobalTopic = "updates"

// Topic returns the relay topic for a document. With global set, all
// documents share one topic, matching the legacy protocol.
func Topic(documentID string, global bool) string {
	if global {
		return GlobalTopic
	}
	return "documents/" + documentID
}

// Loader fetches the initial document state. Satisfied by *docstore.Client.
type Loader interface {
	Get(ctx context.Context, id string) (docstore.Document, error)
}

// Broadcaster is the session's view of the relay client.
type Broadcaster interface {
	Connect(ctx context.Context) error
	Subscribe(topic string) <-chan string
	Publish(topic, content string)
	Connected() bool
	Close() error
}

// Config holds everything a session needs to open.
type Config struct {
	// DocumentID identifies the document to open.
	DocumentID string

	// Store loads the initial document state.
	Store Loader

	// Relay is the broadcast client. A connect failure is not fatal:
	// the session degrades to local-only with autosave still working.
	Relay Broadcaster

	// Adapter is the content model adapter over the editing surface.
	Adapter *editor.Adapter

	// Scheduler debounces persistence writes.
	Scheduler *autosave.Scheduler

	// Topic is the relay topic to publish and subscribe on. Use Topic()
	// to derive it from the document id.
	Topic string

	// Logger for session activity.
	Logger *log.Logger
}

// Session is the process-local state for one open document.
type Session struct {
	doc      docstore.Document
	topic    string
	adapter  *editor.Adapter
	relay    Broadcaster
	sched    *autosave.Scheduler
	logger   *log.Logger
	degraded bool

	mu      sync.Mutex
	current string

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Open loads the document, seeds the surface, connects the relay, and
// starts the event loop.
//
// Ordering matters and is load-bearing: the stored content is applied to
// the surface before any change events are consumed, and change events
// raised before that baseline apply are discarded. An early keystroke is
// therefore deterministically superseded by the stored content rather than
// racing it. A store fetch failure is fatal; a relay connect failure only
// degrades the session to local-only editing with autosave.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.DocumentID == "" {
		return nil, fmt.Errorf("document id cannot be empty")
	}
	if cfg.Store == nil || cfg.Relay == nil || cfg.Adapter == nil || cfg.Scheduler == nil {
		return nil, fmt.Errorf("store, relay, adapter and scheduler are all required")
	}
	if cfg.Topic == "" {
		cfg.Topic = Topic(cfg.DocumentID, false)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[session] ", log.LstdFlags)
	}

	doc, err := cfg.Store.Get(ctx, cfg.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", cfg.DocumentID, err)
	}

	s := &Session{
		doc:     doc,
		topic:   cfg.Topic,
		adapter: cfg.Adapter,
		relay:   cfg.Relay,
		sched:   cfg.Scheduler,
		logger:  cfg.Logger,
		current: doc.Content,
	}

	// Seed the baseline before wiring any event handling.
	s.adapter.SetContentSilent(doc.Content)
	drain(s.adapter.Changes())

	if err := s.relay.Connect(ctx); err != nil {
		// Local-only from here: editing and autosave keep working,
		// only live propagation is lost.
		s.logger.Printf("Relay unavailable, session is local-only: %v", err)
		s.degraded = true
	}
	remote := s.relay.Subscribe(s.topic)

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.run(loopCtx, remote)

	s.logger.Printf("Opened document %s (%q) on topic %s", doc.ID, doc.Title, s.topic)
	return s, nil
}

// Document returns the session's document identity (id and title).
func (s *Session) Document() docstore.Document {
	return s.doc
}

// Content returns the session's last-known content.
func (s *Session) Content() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Degraded reports whether the session is running without live sync.
func (s *Session) Degraded() bool {
	return s.degraded
}

// Close tears the session down: the event loop stops, any pending save is
// cancelled (an unflushed edit within the debounce window is dropped), and
// the relay connection and surface are released. Idempotent.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.sched.Cancel()
		if err := s.relay.Close(); err != nil {
			s.logger.Printf("Error closing relay: %v", err)
		}
		s.closeErr = s.adapter.Close()
		s.wg.Wait()
		s.logger.Printf("Closed document %s", s.doc.ID)
	})
	return s.closeErr
}

// run is the session's single event loop. Local changes and remote
// messages are handled strictly in arrival order; handlers are short
// (string comparison plus a dispatch), so nothing here blocks the loop.
func (s *Session) run(ctx context.Context, remote <-chan string) {
	defer s.wg.Done()

	changes := s.adapter.Changes()
	for {
		select {
		case <-ctx.Done():
			return

		case content, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			s.handleLocal(content)

		case content, ok := <-remote:
			if !ok {
				remote = nil
				continue
			}
			s.handleRemote(content)
		}
	}
}

// handleLocal processes one user-driven edit: record it, publish it to
// other clients if connected, and schedule the debounced save.
func (s *Session) handleLocal(content string) {
	s.mu.Lock()
	s.current = content
	s.mu.Unlock()

	if s.relay.Connected() {
		s.relay.Publish(s.topic, content)
	}
	s.sched.Schedule(docstore.Document{
		ID:      s.doc.ID,
		Title:   s.doc.Title,
		Content: content,
	})
}

// handleRemote processes one inbound relay message. Equal content is
// dropped: with no origin tag on the wire, content equality is the primary
// defense against echo loops. Applied content goes through the silent
// path, so it neither republishes nor schedules a save; durability for an
// edit belongs to the client that made it.
func (s *Session) handleRemote(content string) {
	s.mu.Lock()
	if content == s.current {
		s.mu.Unlock()
		return
	}
	s.current = content
	s.mu.Unlock()

	s.adapter.SetContentSilent(content)
}

// drain discards the change events buffered before the baseline apply.
// The adapter's stream is the surface's own channel with no forwarding
// hop, so every edit raised before the session opened is already in the
// buffer here and the initial load deterministically wins.
func drain(ch <-chan string) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
