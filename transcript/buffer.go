// Package transcript turns streamed speech-to-text fragments into chat events.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// DefaultQuietPeriod is how long the buffer waits after the last fragment.
const DefaultQuietPeriod = 3 * time.Second

// State of a Buffer.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateFlushing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	}
	return "unknown"
}

// Buffer accumulates fragments and emits them as one utterance once no new
// fragment has arrived for the quiet period. Every Add restarts the timer.
//
//	Idle --Add--> Accumulating --quiet--> Flushing --emit--> Idle
type Buffer struct {
	quiet time.Duration
	emit  func(text string)

	mu     sync.Mutex
	state  State
	parts  []string
	timer  *time.Timer
	gen    uint64
	closed bool
}

// NewBuffer returns an idle buffer. emit is called from the timer goroutine
// (or from Flush/Close) with the joined fragments.
func NewBuffer(quiet time.Duration, emit func(text string)) *Buffer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Buffer{quiet: quiet, emit: emit}
}

// Add appends a fragment and restarts the quiet timer. Blank fragments and
// fragments after Close are ignored.
func (b *Buffer) Add(fragment string) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.parts = append(b.parts, fragment)
	b.state = StateAccumulating
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(b.quiet, func() { b.fire(gen) })
}

// Flush emits whatever is pending now.
func (b *Buffer) Flush() {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	b.flushLocked()
}

// Close flushes pending text and stops accepting fragments.
func (b *Buffer) Close() {
	b.mu.Lock()
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	b.flushLocked()
}

// State reports the current state.
func (b *Buffer) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Buffer) fire(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		// superseded by a later Add or Flush
		b.mu.Unlock()
		return
	}
	b.flushLocked()
}

// flushLocked must be called with mu held; it releases it.
func (b *Buffer) flushLocked() {
	if b.state != StateAccumulating || len(b.parts) == 0 {
		b.mu.Unlock()
		return
	}
	text := strings.Join(b.parts, " ")
	b.parts = nil
	b.state = StateFlushing
	b.mu.Unlock()

	b.emit(text)

	b.mu.Lock()
	if b.state == StateFlushing {
		b.state = StateIdle
	}
	b.mu.Unlock()
}
