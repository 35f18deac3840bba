package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// newTestRelay starts a minimal relay hub for tests: every frame a client
// sends is fanned out verbatim to every other connected client. Returns
// the websocket URL.
func newTestRelay(t *testing.T) string {
	t.Helper()

	var mu sync.Mutex
	conns := make(map[*websocket.Conn]bool)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		mu.Lock()
		conns[conn] = true
		mu.Unlock()
		defer func() {
			mu.Lock()
			delete(conns, conn)
			mu.Unlock()
			conn.Close(websocket.StatusNormalClosure, "")
		}()

		for {
			_, data, err := conn.Read(r.Context())
			if err != nil {
				return
			}
			mu.Lock()
			for other := range conns {
				if other == conn {
					continue
				}
				ctx, cancel := context.WithTimeout(r.Context(), time.Second)
				_ = other.Write(ctx, websocket.MessageText, data)
				cancel()
			}
			mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// newConnectedClient dials the test relay and registers cleanup.
func newConnectedClient(t *testing.T, url string) *Client {
	t.Helper()

	cfg := DefaultConfig(url)
	cfg.Reconnect = false
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	return c
}

// TestNewClient_Validation verifies constructor input checking.
func TestNewClient_Validation(t *testing.T) {
	if _, err := NewClient(nil); err == nil {
		t.Error("NewClient(nil) succeeded, want error")
	}
	if _, err := NewClient(&Config{}); err == nil {
		t.Error("NewClient with empty URL succeeded, want error")
	}
}

// TestClient_ConnectTransitions verifies the state walk: disconnected,
// connected, disconnected again after close.
func TestClient_ConnectTransitions(t *testing.T) {
	url := newTestRelay(t)

	cfg := DefaultConfig(url)
	cfg.Reconnect = false
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	if got := c.State(); got != Disconnected {
		t.Errorf("Initial state = %v, want %v", got, Disconnected)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	if !c.Connected() {
		t.Error("Connected() = false after successful connect")
	}

	if err := c.Connect(ctx); err == nil {
		t.Error("Second Connect() succeeded, want already-connected error")
	}

	if err := c.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if got := c.State(); got != Disconnected {
		t.Errorf("State after close = %v, want %v", got, Disconnected)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Second Close() failed: %v", err)
	}
}

// TestClient_ConnectFailure verifies a dial failure surfaces to the caller
// and leaves the client disconnected.
func TestClient_ConnectFailure(t *testing.T) {
	cfg := DefaultConfig("ws://127.0.0.1:1/ws")
	cfg.Reconnect = false
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err == nil {
		t.Fatal("Connect() to dead endpoint succeeded, want error")
	}
	if got := c.State(); got != Disconnected {
		t.Errorf("State after failed connect = %v, want %v", got, Disconnected)
	}
}

// TestClient_RoundTrip verifies a publish from one client reaches another
// client subscribed to the same topic.
func TestClient_RoundTrip(t *testing.T) {
	url := newTestRelay(t)
	sender := newConnectedClient(t, url)
	receiver := newConnectedClient(t, url)

	inbox := receiver.Subscribe("documents/d1")
	time.Sleep(50 * time.Millisecond)

	sender.Publish("documents/d1", "<p>Hello</p>")

	select {
	case got := <-inbox:
		if got != "<p>Hello</p>" {
			t.Errorf("Received %q, want %q", got, "<p>Hello</p>")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for round trip")
	}
}

// TestClient_TopicFiltering verifies frames for other topics are dropped
// client-side while matching frames are still delivered.
func TestClient_TopicFiltering(t *testing.T) {
	url := newTestRelay(t)
	sender := newConnectedClient(t, url)
	receiver := newConnectedClient(t, url)

	inbox := receiver.Subscribe("documents/a")
	time.Sleep(50 * time.Millisecond)

	sender.Publish("documents/b", "other document")
	sender.Publish("documents/a", "my document")

	select {
	case got := <-inbox:
		if got != "my document" {
			t.Errorf("Received %q, want %q", got, "my document")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for matching frame")
	}

	select {
	case got := <-inbox:
		t.Errorf("Received unexpected extra message %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestClient_PublishWhileDisconnected verifies fire-and-forget: publishing
// without a transport is a silent no-op.
func TestClient_PublishWhileDisconnected(t *testing.T) {
	c, err := NewClient(DefaultConfig("ws://localhost:9/ws"))
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	defer c.Close()

	c.Publish("documents/d1", "dropped on the floor")
}

// TestClient_MalformedFramesAreDropped verifies garbage on the wire is
// skipped and delivery continues with the next valid frame.
func TestClient_MalformedFramesAreDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		ctx := r.Context()
		_ = conn.Write(ctx, websocket.MessageText, []byte("not json"))
		data, _ := json.Marshal(Frame{Topic: "documents/d1", Body: "<p>ok</p>"})
		_ = conn.Write(ctx, websocket.MessageText, data)

		// Hold the connection open until the client hangs up.
		_, _, _ = conn.Read(ctx)
	}))
	t.Cleanup(srv.Close)

	c := newConnectedClient(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	inbox := c.Subscribe("documents/d1")

	select {
	case got := <-inbox:
		if got != "<p>ok</p>" {
			t.Errorf("Received %q, want %q", got, "<p>ok</p>")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for frame after malformed one")
	}
}

// TestClient_CloseClosesSubscriptions verifies subscription channels are
// closed on shutdown so consumers unblock.
func TestClient_CloseClosesSubscriptions(t *testing.T) {
	url := newTestRelay(t)
	c := newConnectedClient(t, url)

	inbox := c.Subscribe("documents/d1")
	if err := c.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	select {
	case _, ok := <-inbox:
		if ok {
			t.Error("Received message on closed client, want closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("Subscription channel not closed after Close()")
	}

	// Subscribing after close returns an already-closed channel.
	late := c.Subscribe("documents/d2")
	if _, ok := <-late; ok {
		t.Error("Subscribe after close delivered a message, want closed channel")
	}
}

// TestJitter verifies reconnect delays land in [d/2, d) so backed-off
// clients spread out instead of redialling in lockstep.
func TestJitter(t *testing.T) {
	for _, d := range []time.Duration{250 * time.Millisecond, time.Second, 30 * time.Second} {
		for i := 0; i < 100; i++ {
			got := jitter(d)
			if got < d/2 || got >= d {
				t.Fatalf("jitter(%v) = %v, want in [%v, %v)", d, got, d/2, d)
			}
		}
	}

	if got := jitter(1); got != 1 {
		t.Errorf("jitter(1) = %v, want 1", got)
	}
}

// TestState_String covers the state names used in log output.
func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Connected, "connected"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
