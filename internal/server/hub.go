package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/syncspace/syncspace/internal/relay"
)

const writeTimeout = 5 * time.Second

// Bridge carries relay frames between server instances. A nil bridge
// means single-instance operation with direct in-process fan-out.
type Bridge interface {
	// Publish sends a raw frame to every instance, including this one.
	Publish(ctx context.Context, payload []byte) error

	// Messages yields frames published by any instance.
	Messages() <-chan []byte

	// Close releases the bridge.
	Close() error
}

// Hub is the relay fan-out: every frame published by one connection is
// delivered to the others.
//
// Without a bridge the sender is excluded from fan-out. With a bridge
// every frame makes a round trip through the pub/sub channel and comes
// back to all local connections, sender included; the wire format carries
// no sender id, so exclusion is impossible there and clients defend with
// content equality either way.
type Hub struct {
	logger *log.Logger
	bridge Bridge

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHub creates a hub. bridge may be nil.
func NewHub(bridge Bridge, logger *log.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	h := &Hub{
		logger:  logger,
		bridge:  bridge,
		clients: make(map[*websocket.Conn]bool),
		ctx:     ctx,
		cancel:  cancel,
	}

	if bridge != nil {
		h.wg.Add(1)
		go h.bridgeLoop()
	}

	return h
}

// Handle upgrades an HTTP request to a websocket relay connection and
// serves it until the peer disconnects.
func (h *Hub) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn.SetReadLimit(16 * 1024 * 1024)

	h.clientsMu.Lock()
	h.clients[conn] = true
	count := len(h.clients)
	h.clientsMu.Unlock()

	h.logger.Printf("Relay client connected (total: %d)", count)

	h.wg.Add(1)
	go h.readLoop(conn)
}

// ClientCount returns the number of connected relay clients.
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

// Close disconnects all clients and stops the hub.
func (h *Hub) Close() error {
	h.cancel()

	h.clientsMu.Lock()
	for conn := range h.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(h.clients, conn)
	}
	h.clientsMu.Unlock()

	var err error
	if h.bridge != nil {
		err = h.bridge.Close()
	}
	h.wg.Wait()
	return err
}

// readLoop consumes frames from one connection and fans them out.
func (h *Hub) readLoop(conn *websocket.Conn) {
	defer h.wg.Done()
	defer h.removeClient(conn)

	for {
		_, data, err := conn.Read(h.ctx)
		if err != nil {
			return
		}

		var frame relay.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.logger.Printf("Dropping malformed frame: %v", err)
			continue
		}

		if h.bridge != nil {
			if err := h.bridge.Publish(h.ctx, data); err != nil {
				h.logger.Printf("Bridge publish failed, falling back to local fan-out: %v", err)
				h.fanOut(data, conn)
			}
			continue
		}
		h.fanOut(data, conn)
	}
}

// bridgeLoop delivers bridge frames to all local connections.
func (h *Hub) bridgeLoop() {
	defer h.wg.Done()

	for {
		select {
		case <-h.ctx.Done():
			return
		case data, ok := <-h.bridge.Messages():
			if !ok {
				return
			}
			h.fanOut(data, nil)
		}
	}
}

// fanOut writes one frame to every connected client except the excluded
// one. Clients that cannot be written to are dropped.
func (h *Hub) fanOut(data []byte, except *websocket.Conn) {
	h.clientsMu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		if conn != except {
			conns = append(conns, conn)
		}
	}
	h.clientsMu.RUnlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(h.ctx, writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()

		if err != nil {
			h.logger.Printf("Failed to deliver frame: %v", err)
			h.removeClient(conn)
		}
	}
}

func (h *Hub) removeClient(conn *websocket.Conn) {
	h.clientsMu.Lock()
	if _, exists := h.clients[conn]; exists {
		delete(h.clients, conn)
		count := len(h.clients)
		h.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		h.logger.Printf("Relay client disconnected (total: %d)", count)
		return
	}
	h.clientsMu.Unlock()
}
