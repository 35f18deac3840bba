package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/syncspace/syncspace/internal/autosave"
	"github.com/syncspace/syncspace/internal/docstore"
	"github.com/syncspace/syncspace/internal/editor"
)

// fakeLoader serves one document or fails.
type fakeLoader struct {
	doc docstore.Document
	err error
}

func (f *fakeLoader) Get(ctx context.Context, id string) (docstore.Document, error) {
	if f.err != nil {
		return docstore.Document{}, f.err
	}
	return f.doc, nil
}

// fakeSaver records autosave writes.
type fakeSaver struct {
	mu    sync.Mutex
	saved []docstore.Document
}

func (f *fakeSaver) Save(ctx context.Context, doc docstore.Document) (docstore.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, doc)
	return doc, nil
}

func (f *fakeSaver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

// memoryBus connects fake relays so published frames reach the other
// clients synchronously, simulating a zero-latency relay round trip.
type memoryBus struct {
	mu      sync.Mutex
	clients []*fakeRelay
}

func (b *memoryBus) attach(r *fakeRelay) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients = append(b.clients, r)
	r.bus = b
}

func (b *memoryBus) broadcast(from *fakeRelay, topic, content string) {
	b.mu.Lock()
	clients := append([]*fakeRelay(nil), b.clients...)
	b.mu.Unlock()

	for _, c := range clients {
		if c != from {
			c.deliver(topic, content)
		}
	}
}

// fakeRelay implements Broadcaster in-process.
type fakeRelay struct {
	bus        *memoryBus
	connectErr error

	mu        sync.Mutex
	connected bool
	published []string
	subs      map[string]chan string
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{subs: make(map[string]chan string)}
}

func (f *fakeRelay) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeRelay) Subscribe(topic string) <-chan string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.subs[topic]
	if !ok {
		ch = make(chan string, 64)
		f.subs[topic] = ch
	}
	return ch
}

func (f *fakeRelay) Publish(topic, content string) {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return
	}
	f.published = append(f.published, content)
	bus := f.bus
	f.mu.Unlock()

	if bus != nil {
		bus.broadcast(f, topic, content)
	}
}

func (f *fakeRelay) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeRelay) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

// deliver injects an inbound message, as if published by another client.
func (f *fakeRelay) deliver(topic, content string) {
	f.mu.Lock()
	ch, ok := f.subs[topic]
	f.mu.Unlock()
	if ok {
		ch <- content
	}
}

func (f *fakeRelay) publishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type testEnv struct {
	sess    *Session
	surface *editor.MemorySurface
	relay   *fakeRelay
	saver   *fakeSaver
}

func openTestSession(t *testing.T, relay *fakeRelay, doc docstore.Document, quiet time.Duration) *testEnv {
	t.Helper()

	surface := editor.NewMemorySurface("")
	adapter, err := editor.NewAdapter(surface, nil)
	if err != nil {
		t.Fatalf("NewAdapter() failed: %v", err)
	}

	saver := &fakeSaver{}
	sched, err := autosave.New(saver, &autosave.Config{QuietPeriod: quiet})
	if err != nil {
		t.Fatalf("autosave.New() failed: %v", err)
	}

	sess, err := Open(context.Background(), Config{
		DocumentID: doc.ID,
		Store:      &fakeLoader{doc: doc},
		Relay:      relay,
		Adapter:    adapter,
		Scheduler:  sched,
	})
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { sess.Close() })

	return &testEnv{sess: sess, surface: surface, relay: relay, saver: saver}
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", desc)
}

// TestOpen_SeedsBaseline verifies the stored content reaches the surface
// before any event handling starts.
func TestOpen_SeedsBaseline(t *testing.T) {
	doc := docstore.Document{ID: "d1", Title: "T", Content: "<p>A</p>"}
	env := openTestSession(t, newFakeRelay(), doc, time.Hour)

	content, _ := env.surface.Content()
	if content != "<p>A</p>" {
		t.Errorf("Surface content = %q, want %q", content, "<p>A</p>")
	}
	if env.sess.Content() != "<p>A</p>" {
		t.Errorf("Session content = %q, want %q", env.sess.Content(), "<p>A</p>")
	}
}

// TestOpen_LoadFailureIsFatal verifies that a store fetch failure aborts
// the open instead of degrading.
func TestOpen_LoadFailureIsFatal(t *testing.T) {
	adapter, err := editor.NewAdapter(editor.NewMemorySurface(""), nil)
	if err != nil {
		t.Fatalf("NewAdapter() failed: %v", err)
	}
	defer adapter.Close()

	sched, err := autosave.New(&fakeSaver{}, nil)
	if err != nil {
		t.Fatalf("autosave.New() failed: %v", err)
	}

	_, err = Open(context.Background(), Config{
		DocumentID: "d1",
		Store:      &fakeLoader{err: fmt.Errorf("store down")},
		Relay:      newFakeRelay(),
		Adapter:    adapter,
		Scheduler:  sched,
	})
	if err == nil {
		t.Fatal("Open() succeeded with failing store, want error")
	}
}

// TestSession_LocalEditPublishesAndSchedules verifies the local path:
// record, publish, schedule.
func TestSession_LocalEditPublishesAndSchedules(t *testing.T) {
	doc := docstore.Document{ID: "d1", Title: "T", Content: "<p>A</p>"}
	env := openTestSession(t, newFakeRelay(), doc, 50*time.Millisecond)

	env.surface.Edit("<p>AB</p>")

	waitFor(t, "publish", func() bool { return env.relay.publishCount() == 1 })
	waitFor(t, "save", func() bool { return env.saver.count() == 1 })

	env.saver.mu.Lock()
	saved := env.saver.saved[0]
	env.saver.mu.Unlock()
	if saved.Content != "<p>AB</p>" || saved.ID != "d1" || saved.Title != "T" {
		t.Errorf("Saved %+v, want id=d1 title=T content=<p>AB</p>", saved)
	}
}

// TestSession_RemoteApplyIsSilent verifies a remote update is applied
// without re-publish and without scheduling a save.
func TestSession_RemoteApplyIsSilent(t *testing.T) {
	doc := docstore.Document{ID: "d1", Title: "T", Content: "<p>A</p>"}
	env := openTestSession(t, newFakeRelay(), doc, 50*time.Millisecond)

	env.relay.deliver(Topic("d1", false), "<p>B</p>")

	waitFor(t, "remote apply", func() bool {
		content, _ := env.surface.Content()
		return content == "<p>B</p>"
	})

	time.Sleep(150 * time.Millisecond)
	if got := env.relay.publishCount(); got != 0 {
		t.Errorf("Publish called %d times after remote apply, want 0", got)
	}
	if got := env.saver.count(); got != 0 {
		t.Errorf("Save called %d times after remote apply, want 0", got)
	}
}

// TestSession_EchoIsDropped verifies the relay double-delivering this
// client's own message does not change state, flicker, or republish.
func TestSession_EchoIsDropped(t *testing.T) {
	doc := docstore.Document{ID: "d1", Title: "T", Content: "<p>A</p>"}
	env := openTestSession(t, newFakeRelay(), doc, time.Hour)

	env.surface.Edit("<p>AB</p>")
	waitFor(t, "publish", func() bool { return env.relay.publishCount() == 1 })

	replacesBefore := env.surface.ReplaceCount()

	// Feed our own published content back as if it were remote.
	env.relay.deliver(Topic("d1", false), "<p>AB</p>")

	time.Sleep(100 * time.Millisecond)
	if got := env.relay.publishCount(); got != 1 {
		t.Errorf("Publish called %d times, want 1 (echo must not republish)", got)
	}
	if got := env.surface.ReplaceCount(); got != replacesBefore {
		t.Errorf("ReplaceCount() = %d, want %d (echo must not re-render)", got, replacesBefore)
	}
	if env.sess.Content() != "<p>AB</p>" {
		t.Errorf("Session content = %q, want %q", env.sess.Content(), "<p>AB</p>")
	}
}

// TestSession_DegradedMode verifies that a relay connect failure leaves
// editing and autosave working with publish never called.
func TestSession_DegradedMode(t *testing.T) {
	relay := newFakeRelay()
	relay.connectErr = fmt.Errorf("relay unreachable")

	doc := docstore.Document{ID: "d1", Title: "T", Content: "<p>A</p>"}
	env := openTestSession(t, relay, doc, 50*time.Millisecond)

	if !env.sess.Degraded() {
		t.Error("Degraded() = false, want true")
	}

	env.surface.Edit("<p>AB</p>")

	waitFor(t, "save", func() bool { return env.saver.count() == 1 })
	if got := env.relay.publishCount(); got != 0 {
		t.Errorf("Publish called %d times in degraded mode, want 0", got)
	}
}

// TestClose_CancelsPendingSave verifies that closing within the debounce
// window drops the unflushed edit.
func TestClose_CancelsPendingSave(t *testing.T) {
	doc := docstore.Document{ID: "d1", Title: "T", Content: "<p>A</p>"}
	env := openTestSession(t, newFakeRelay(), doc, 100*time.Millisecond)

	env.surface.Edit("<p>AB</p>")
	waitFor(t, "publish", func() bool { return env.relay.publishCount() == 1 })

	if err := env.sess.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	time.Sleep(250 * time.Millisecond)
	if got := env.saver.count(); got != 0 {
		t.Errorf("Save called %d times after close, want 0", got)
	}
}

// TestSession_EarlyKeystrokeSupersededByLoad verifies the documented
// load-before-wire behavior: an edit made before the session opens is
// discarded, so the load wins without publishing or saving the discarded
// keystroke. Repeated because the failure mode here is a scheduling race,
// not a logic branch: the edit lands immediately before Open with no
// settling delay.
func TestSession_EarlyKeystrokeSupersededByLoad(t *testing.T) {
	for i := 0; i < 50; i++ {
		surface := editor.NewMemorySurface("<p>A</p>")
		adapter, err := editor.NewAdapter(surface, nil)
		if err != nil {
			t.Fatalf("NewAdapter() failed: %v", err)
		}

		relay := newFakeRelay()
		saver := &fakeSaver{}
		sched, err := autosave.New(saver, &autosave.Config{QuietPeriod: 20 * time.Millisecond})
		if err != nil {
			t.Fatalf("autosave.New() failed: %v", err)
		}

		// The user types in the instant before the session opens.
		surface.Edit("<p>AB</p>")

		sess, err := Open(context.Background(), Config{
			DocumentID: "d1",
			Store:      &fakeLoader{doc: docstore.Document{ID: "d1", Content: "<p>A</p>"}},
			Relay:      relay,
			Adapter:    adapter,
			Scheduler:  sched,
		})
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}

		time.Sleep(60 * time.Millisecond)

		content, _ := surface.Content()
		if content != "<p>A</p>" {
			t.Fatalf("Iteration %d: surface content = %q, want %q (load wins)", i, content, "<p>A</p>")
		}
		if got := relay.publishCount(); got != 0 {
			t.Fatalf("Iteration %d: Publish called %d times for pre-open edit, want 0", i, got)
		}
		if got := saver.count(); got != 0 {
			t.Fatalf("Iteration %d: Save called %d times for pre-open edit, want 0", i, got)
		}
		sess.Close()
	}
}

// TestSession_TwoSessionsConverge is the end-to-end scenario: two
// sessions on the same document, one relay round trip, the receiver
// neither republishes nor saves.
func TestSession_TwoSessionsConverge(t *testing.T) {
	bus := &memoryBus{}
	relayA := newFakeRelay()
	relayB := newFakeRelay()
	bus.attach(relayA)
	bus.attach(relayB)

	doc := docstore.Document{ID: "d1", Title: "T", Content: "<p></p>"}
	envA := openTestSession(t, relayA, doc, time.Hour)
	envB := openTestSession(t, relayB, doc, time.Hour)

	envA.surface.Edit("Hello")

	waitFor(t, "convergence", func() bool {
		content, _ := envB.surface.Content()
		return content == "Hello"
	})

	time.Sleep(100 * time.Millisecond)
	if got := envB.relay.publishCount(); got != 0 {
		t.Errorf("Session B published %d times after remote apply, want 0", got)
	}
	if got := envB.saver.count(); got != 0 {
		t.Errorf("Session B saved %d times after remote apply, want 0", got)
	}
	if envA.sess.Content() != "Hello" || envB.sess.Content() != "Hello" {
		t.Errorf("Contents diverged: A=%q B=%q", envA.sess.Content(), envB.sess.Content())
	}
}

// TestTopic verifies per-document and legacy global topic derivation.
func TestTopic(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		global bool
		want   string
	}{
		{"per-document", "d1", false, "documents/d1"},
		{"global legacy", "d1", true, GlobalTopic},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Topic(tt.id, tt.global); got != tt.want {
				t.Errorf("Topic(%q, %v) = %q, want %q", tt.id, tt.global, got, tt.want)
			}
		})
	}
}
