package editor

import (
	"fmt"
	"sync"
)

// MemorySurface is an in-process editing surface with no rendering. It
// backs headless clients and tests: Edit plays the role of a user
// keystroke, Replace applies content without an event, per the Surface
// contract.
type MemorySurface struct {
	mu       sync.Mutex
	content  string
	ready    bool
	closed   bool
	replaced int

	changes chan string
}

// NewMemorySurface creates a surface with the given starter content.
func NewMemorySurface(content string) *MemorySurface {
	return &MemorySurface{
		content: content,
		ready:   true,
		changes: make(chan string, 64),
	}
}

// NewUnreadySurface creates a surface that is still initializing; it
// reports Ready false until SetReady is called. Models a mounting editor
// racing the initial document load.
func NewUnreadySurface() *MemorySurface {
	return &MemorySurface{
		content: PlaceholderContent,
		changes: make(chan string, 64),
	}
}

// Edit simulates a user-driven edit: the content changes and a change
// event is emitted. The send happens under the same lock Close holds, so
// an edit racing a close can never hit a closed channel; a full buffer
// drops the event rather than blocking the caller.
func (m *MemorySurface) Edit(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.content = content
	select {
	case m.changes <- content:
	default:
	}
}

// SetReady marks the surface initialized.
func (m *MemorySurface) SetReady() {
	m.mu.Lock()
	m.ready = true
	m.mu.Unlock()
}

// ReplaceCount returns how many times Replace has been called. Each call
// is one observable render update, so idempotence shows up here.
func (m *MemorySurface) ReplaceCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaced
}

// Content implements Surface.
func (m *MemorySurface) Content() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.content, nil
}

// Replace implements Surface.
func (m *MemorySurface) Replace(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("surface is closed")
	}
	if !m.ready {
		return fmt.Errorf("surface is not ready")
	}
	m.content = content
	m.replaced++
	return nil
}

// Changes implements Surface.
func (m *MemorySurface) Changes() <-chan string {
	return m.changes
}

// Ready implements Surface.
func (m *MemorySurface) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}

// Close implements Surface. Idempotent.
func (m *MemorySurface) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.changes)
	return nil
}
