// Package editor provides the content model adapter: the boundary between
// the synchronization engine and the rich-text editing surface.
//
// The engine treats document content as an opaque serialized string. The
// surface owns its structure (HTML, markdown, whatever the editor renders);
// the adapter only moves strings across the boundary while guaranteeing
// that externally-applied content never loops back as a local edit.
package editor

// PlaceholderContent is the content a surface shows before the initial
// document load completes. The persistence scheduler refuses to write it
// so a slow load can never clobber a real document.
const PlaceholderContent = "<p>Loading...</p>"

// Surface is the external editing surface.
//
// Implementations produce one change event per user-driven edit and must
// NOT emit a change event for content applied through Replace. That
// distinction is the engine's only defense against publish/apply feedback
// loops, so it is part of the contract, not an optimization.
type Surface interface {
	// Content returns the current serialized content. Side-effect free.
	Content() (string, error)

	// Replace swaps the displayed content without emitting a change
	// event. Used exclusively for externally-sourced content: the
	// initial load and remote updates.
	Replace(content string) error

	// Changes yields one event per user-driven edit, carrying the new
	// serialized content. The channel is closed when the surface closes.
	Changes() <-chan string

	// Ready reports whether the surface is initialized. Replace calls
	// made before the surface is ready are queued by the adapter, since
	// the initial load races with surface construction.
	Ready() bool

	// Close releases the surface. Idempotent.
	Close() error
}
