// Package sound holds the playback state of the renderer's sound
// events: per-event sample buffers, cursors, and the
// Stopped/Playing/Paused state machine, plus the per-channel registry
// that composes event blocks into channel input blocks.
//
// All mutation happens on the render path (Registry.ReadStep and
// Registry.Apply); the control path only submits commands through the
// engine's queue. Events and the registry are therefore free of locks.
package sound

import (
	"errors"
	"fmt"

	vecmath "github.com/cwbudde/algo-vecmath"
)

// State is the playback state of an event.
type State int

const (
	// Stopped: cursor reset, the event contributes silence.
	Stopped State = iota
	// Playing: the cursor advances one block per render step.
	Playing
	// Paused: the cursor is held, the event contributes silence.
	Paused
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Command mutates an event's playback state.
type Command int

const (
	// Start begins playback. From Stopped the cursor is reset to the
	// beginning; from Paused playback resumes at the held cursor.
	Start Command = iota
	// Stop halts playback and resets the cursor.
	Stop
	// Pause holds the cursor; only meaningful while Playing.
	Pause
)

// String returns the command name.
func (c Command) String() string {
	switch c {
	case Start:
		return "start"
	case Stop:
		return "stop"
	case Pause:
		return "pause"
	default:
		return fmt.Sprintf("command(%d)", int(c))
	}
}

// ParseCommand maps a wire-level command word to a Command.
func ParseCommand(s string) (Command, error) {
	switch s {
	case "start":
		return Start, nil
	case "stop":
		return Stop, nil
	case "pause":
		return Pause, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
}

// Errors returned by event construction and commands.
var (
	ErrUnknownCommand = errors.New("sound: unknown command")
	ErrEmptyBuffer    = errors.New("sound: empty sample buffer")
	ErrInvalidBlock   = errors.New("sound: invalid block size")
)

// Event is one playable sound bound to a renderer channel. The sample
// buffer is mono, padded at construction to a whole number of blocks,
// and immutable afterwards. Events are mutated exclusively by the
// render path.
type Event struct {
	id        string
	channel   int
	samples   []float64
	blockSize int
	cursor    int
	loop      bool
	state     State
}

// NewEvent copies samples, zero-padding them to a whole number of
// blocks so that loop wraps stay block-aligned.
func NewEvent(id string, channel int, samples []float64, blockSize int, loop bool) (*Event, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlock, blockSize)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrEmptyBuffer, id)
	}

	padded := ((len(samples) + blockSize - 1) / blockSize) * blockSize
	buf := make([]float64, padded)
	copy(buf, samples)

	return &Event{
		id:        id,
		channel:   channel,
		samples:   buf,
		blockSize: blockSize,
		loop:      loop,
	}, nil
}

// Apply performs one state transition.
func (e *Event) Apply(cmd Command) {
	switch cmd {
	case Start:
		if e.state == Stopped {
			e.cursor = 0
		}
		e.state = Playing
	case Stop:
		e.state = Stopped
		e.cursor = 0
	case Pause:
		if e.state == Playing {
			e.state = Paused
		}
	}
}

// MixBlock adds the event's next block into dst and advances the
// cursor. Stopped and Paused events contribute nothing. When the
// cursor reaches the buffer end it wraps to 0 if looping, otherwise
// the event transitions to Stopped.
func (e *Event) MixBlock(dst []float64) {
	if e.state != Playing {
		return
	}

	vecmath.AddBlockInPlace(dst, e.samples[e.cursor:e.cursor+e.blockSize])
	e.cursor += e.blockSize

	if e.cursor == len(e.samples) {
		if e.loop {
			e.cursor = 0
		} else {
			e.state = Stopped
			e.cursor = 0
		}
	}
}

// ID returns the event's identifier.
func (e *Event) ID() string { return e.id }

// Channel returns the renderer channel the event feeds.
func (e *Event) Channel() int { return e.channel }

// State returns the current playback state.
func (e *Event) State() State { return e.state }

// Cursor returns the playback position in samples.
func (e *Event) Cursor() int { return e.cursor }

// Loop reports whether the event wraps at the buffer end.
func (e *Event) Loop() bool { return e.loop }

// Len returns the padded buffer length in samples.
func (e *Event) Len() int { return len(e.samples) }

// setChannel rebinds the event; render path only.
func (e *Event) setChannel(channel int) { e.channel = channel }
