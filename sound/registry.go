package sound

import (
	"errors"
	"fmt"
	"sort"
)

// Errors returned by the registry.
var (
	ErrUnknownSound  = errors.New("sound: unknown sound id")
	ErrDuplicateID   = errors.New("sound: duplicate sound id")
	ErrChannelRange  = errors.New("sound: channel out of range")
	ErrInvalidConfig = errors.New("sound: invalid registry configuration")
)

// Registry owns all sound events and composes their blocks into
// per-channel input blocks once per render step.
//
// Events are registered before the engine starts; afterwards the id
// map is read-only, so Has may be called from the control goroutine
// while Apply and ReadStep stay exclusive to the render path.
type Registry struct {
	blockSize int
	channels  int
	events    map[string]*Event
	order     []string // deterministic mix order
}

// NewRegistry creates an empty registry for the given block size and
// channel count.
func NewRegistry(blockSize, channels int) (*Registry, error) {
	if blockSize <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: block %d, channels %d", ErrInvalidConfig, blockSize, channels)
	}

	return &Registry{
		blockSize: blockSize,
		channels:  channels,
		events:    make(map[string]*Event),
	}, nil
}

// Add registers an event. Ids must be unique and the bound channel in
// range. Call only before the engine starts rendering.
func (r *Registry) Add(e *Event) error {
	if e.blockSize != r.blockSize {
		return fmt.Errorf("%w: event block %d, registry block %d", ErrInvalidConfig, e.blockSize, r.blockSize)
	}
	if e.channel < 0 || e.channel >= r.channels {
		return fmt.Errorf("%w: %d (have %d channels)", ErrChannelRange, e.channel, r.channels)
	}
	if _, ok := r.events[e.id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateID, e.id)
	}

	r.events[e.id] = e
	r.order = append(r.order, e.id)
	return nil
}

// Has reports whether an event with the given id exists. Safe from
// any goroutine once registration is finished.
func (r *Registry) Has(id string) bool {
	_, ok := r.events[id]
	return ok
}

// Apply executes a command against an event, optionally rebinding it
// to another channel (channel >= 0) when starting. Render path only.
func (r *Registry) Apply(id string, cmd Command, channel int) error {
	e, ok := r.events[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSound, id)
	}

	if cmd == Start && channel >= 0 {
		if channel >= r.channels {
			return fmt.Errorf("%w: %d (have %d channels)", ErrChannelRange, channel, r.channels)
		}
		e.setChannel(channel)
	}

	e.Apply(cmd)
	return nil
}

// ReadStep zeroes every channel block in scene and mixes all playing
// events into their bound channels, advancing cursors by one block.
// scene must hold channels blocks of blockSize samples each.
func (r *Registry) ReadStep(scene [][]float64) error {
	if len(scene) != r.channels {
		return fmt.Errorf("%w: scene has %d channels, want %d", ErrInvalidConfig, len(scene), r.channels)
	}

	for ch := range scene {
		if len(scene[ch]) != r.blockSize {
			return fmt.Errorf("%w: scene block %d, want %d", ErrInvalidConfig, len(scene[ch]), r.blockSize)
		}
		clear(scene[ch])
	}

	for _, id := range r.order {
		e := r.events[id]
		e.MixBlock(scene[e.channel])
	}

	return nil
}

// Get returns the event with the given id.
func (r *Registry) Get(id string) (*Event, error) {
	e, ok := r.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSound, id)
	}
	return e, nil
}

// IDs returns all registered ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.events))
	for id := range r.events {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered events.
func (r *Registry) Len() int { return len(r.events) }

// BlockSize returns the block size in samples.
func (r *Registry) BlockSize() int { return r.blockSize }

// Channels returns the channel count.
func (r *Registry) Channels() int { return r.channels }
