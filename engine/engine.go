// Package engine drives the block-based binaural renderer: one
// partitioned convolver per virtual channel, crossfaded filter
// hot-swapping, sound mixing, loudness normalization, optional
// headphone equalization, and clipping protection.
//
// The engine splits its API across two goroutines. SetFilter and
// SoundCommand form the control path: they validate against the filter
// store and sound registry, then enqueue onto a bounded command queue
// without blocking. RenderBlock is the render path: it drains the
// queue once per block, applies the commands in arrival order, and
// produces one stereo block. All renderer state is owned by the render
// path; the two paths share nothing but the queue and a pair of
// atomic counters.
package engine

import (
	"errors"
	"fmt"
	"sync/atomic"

	vecmath "github.com/cwbudde/algo-vecmath"

	"github.com/cwbudde/algo-binaural/dsp/conv"
	"github.com/cwbudde/algo-binaural/filter"
	"github.com/cwbudde/algo-binaural/sound"
)

// Errors returned by the engine.
var (
	ErrInvalidConfig = errors.New("engine: invalid configuration")
	ErrChannelRange  = errors.New("engine: channel out of range")
	ErrQueueFull     = errors.New("engine: command queue full")
	ErrClosed        = errors.New("engine: closed")
)

const defaultQueueSize = 128

// Config selects the renderer's block-independent behavior. Block
// size, filter size and sample rate come from the filter store.
type Config struct {
	// Channels is the number of virtual sound channels.
	Channels int

	// Loudness scales the mixed output before headphone equalization
	// and clipping. The effective gain is Loudness / (2 * Channels).
	Loudness float64

	// Crossfade blends one block of old- and new-filter output on
	// every filter swap. When false, swaps take effect instantly.
	Crossfade bool

	// UseHeadphone convolves the stereo bus with the store's
	// headphone-equalization filter as a final stage.
	UseHeadphone bool

	// QueueSize bounds the command queue (default 128).
	QueueSize int
}

type cmdKind int

const (
	cmdFilter cmdKind = iota
	cmdSound
	cmdGain
)

// command is one validated control-path request. Filter commands carry
// a resolved *filter.Filter so the render path never touches the store.
type command struct {
	kind cmdKind

	channel int
	filter  *filter.Filter
	gain    float64

	soundID  string
	soundCmd sound.Command
}

// channelState is the render-path state of one virtual channel.
// active is the filter currently rendering; pending is the filter
// fading in during the current block; queued parks at most one further
// swap that arrived while a fade was in flight.
type channelState struct {
	conv    *conv.Convolver
	active  *filter.Filter
	pending *filter.Filter
	queued  *filter.Filter
	gain    float64
}

// Engine is the real-time binaural renderer.
type Engine struct {
	blockSize int
	channels  int
	scale     float64
	crossfade bool

	store *filter.Store
	reg   *sound.Registry
	fade  *conv.Fade

	chans []channelState

	hp      *filter.Filter
	hpLeft  *conv.Convolver
	hpRight *conv.Convolver

	cmds   chan command
	closed atomic.Bool

	clipped atomic.Uint64
	steps   atomic.Uint64

	scene  [][]float64
	earOld []float64
	earNew []float64
	earMix []float64
	busL   []float64
	busR   []float64
}

// New builds an engine over the given store and registry. The registry
// must match the store's block size and the configured channel count.
// With UseHeadphone set, the store must hold a headphone filter.
func New(cfg Config, store *filter.Store, reg *sound.Registry) (*Engine, error) {
	if cfg.Channels <= 0 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidConfig, cfg.Channels)
	}
	if cfg.Loudness < 0 {
		return nil, fmt.Errorf("%w: loudness %v", ErrInvalidConfig, cfg.Loudness)
	}
	if reg.Channels() != cfg.Channels {
		return nil, fmt.Errorf("%w: registry has %d channels, engine %d",
			ErrInvalidConfig, reg.Channels(), cfg.Channels)
	}
	if reg.BlockSize() != store.BlockSize() {
		return nil, fmt.Errorf("%w: registry block %d, store block %d",
			ErrInvalidConfig, reg.BlockSize(), store.BlockSize())
	}

	blockSize := store.BlockSize()
	partitions := store.Partitions()

	fade, err := conv.NewCosineFade(blockSize)
	if err != nil {
		return nil, err
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	e := &Engine{
		blockSize: blockSize,
		channels:  cfg.Channels,
		scale:     cfg.Loudness / float64(2*cfg.Channels),
		crossfade: cfg.Crossfade,
		store:     store,
		reg:       reg,
		fade:      fade,
		chans:     make([]channelState, cfg.Channels),
		cmds:      make(chan command, queueSize),
		scene:     make([][]float64, cfg.Channels),
		earOld:    make([]float64, blockSize),
		earNew:    make([]float64, blockSize),
		earMix:    make([]float64, blockSize),
		busL:      make([]float64, blockSize),
		busR:      make([]float64, blockSize),
	}

	for ch := range e.chans {
		c, err := conv.NewConvolver(blockSize, partitions)
		if err != nil {
			return nil, err
		}
		e.chans[ch].conv = c
		e.chans[ch].gain = 1
		e.scene[ch] = make([]float64, blockSize)
	}

	if cfg.UseHeadphone {
		hp, err := store.Headphone()
		if err != nil {
			return nil, err
		}
		e.hp = hp

		if e.hpLeft, err = conv.NewConvolver(blockSize, partitions); err != nil {
			return nil, err
		}
		if e.hpRight, err = conv.NewConvolver(blockSize, partitions); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// SetFilter requests a filter swap on a channel. The key is resolved
// against the store here on the control path; the render path receives
// a ready filter handle. Swaps racing Close are dropped silently.
func (e *Engine) SetFilter(channel int, key filter.Key) error {
	if e.closed.Load() {
		return nil
	}
	if channel < 0 || channel >= e.channels {
		return fmt.Errorf("%w: %d (have %d channels)", ErrChannelRange, channel, e.channels)
	}

	f, err := e.store.Get(key)
	if err != nil {
		return err
	}

	return e.enqueue(command{kind: cmdFilter, channel: channel, filter: f})
}

// SoundCommand requests a playback state change for a registered
// sound. channel >= 0 additionally rebinds the sound when starting;
// pass -1 to keep the current binding.
func (e *Engine) SoundCommand(id string, cmd sound.Command, channel int) error {
	if e.closed.Load() {
		return nil
	}
	if !e.reg.Has(id) {
		return fmt.Errorf("%w: %q", sound.ErrUnknownSound, id)
	}
	if channel >= e.channels {
		return fmt.Errorf("%w: %d (have %d channels)", ErrChannelRange, channel, e.channels)
	}

	return e.enqueue(command{kind: cmdSound, channel: channel, soundID: id, soundCmd: cmd})
}

// SetGain requests a new linear gain for one channel, applied to the
// channel's stereo contribution before the bus sum.
func (e *Engine) SetGain(channel int, gain float64) error {
	if e.closed.Load() {
		return nil
	}
	if channel < 0 || channel >= e.channels {
		return fmt.Errorf("%w: %d (have %d channels)", ErrChannelRange, channel, e.channels)
	}
	if gain < 0 {
		return fmt.Errorf("%w: gain %v", ErrInvalidConfig, gain)
	}

	return e.enqueue(command{kind: cmdGain, channel: channel, gain: gain})
}

func (e *Engine) enqueue(c command) error {
	select {
	case e.cmds <- c:
		return nil
	default:
		return ErrQueueFull
	}
}

// RenderBlock produces one stereo output block. left and right must
// each hold BlockSize samples. Any returned error is fatal; the engine
// must not be used afterwards.
func (e *Engine) RenderBlock(left, right []float64) error {
	if e.closed.Load() {
		return ErrClosed
	}
	if len(left) != e.blockSize || len(right) != e.blockSize {
		return fmt.Errorf("%w: output %d/%d, block size %d",
			ErrInvalidConfig, len(left), len(right), e.blockSize)
	}

	// A swap parked during last block's fade becomes this block's fade.
	for ch := range e.chans {
		st := &e.chans[ch]
		if st.queued != nil {
			st.pending = st.queued
			st.queued = nil
		}
	}

	if err := e.drain(); err != nil {
		return err
	}

	if err := e.reg.ReadStep(e.scene); err != nil {
		return err
	}

	clear(e.busL)
	clear(e.busR)

	for ch := range e.chans {
		if err := e.renderChannel(&e.chans[ch], e.scene[ch]); err != nil {
			return err
		}
	}

	vecmath.ScaleBlockInPlace(e.busL, e.scale)
	vecmath.ScaleBlockInPlace(e.busR, e.scale)

	if e.hp != nil {
		if err := e.renderHeadphone(left, right); err != nil {
			return err
		}
	} else {
		copy(left, e.busL)
		copy(right, e.busR)
	}

	if vecmath.MaxAbs(left) > 1 || vecmath.MaxAbs(right) > 1 {
		clip(left)
		clip(right)
		e.clipped.Add(1)
	}

	e.steps.Add(1)
	return nil
}

// drain applies every queued command in arrival order.
func (e *Engine) drain() error {
	for {
		select {
		case c := <-e.cmds:
			if err := e.apply(c); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (e *Engine) apply(c command) error {
	switch c.kind {
	case cmdFilter:
		st := &e.chans[c.channel]
		if st.pending == nil {
			// Re-selecting the active filter is a no-op.
			if c.filter == st.active {
				return nil
			}
			st.pending = c.filter
			return nil
		}
		if c.filter == st.pending && st.queued == nil {
			return nil
		}
		// A fade is already in flight this block; park the swap.
		// Only the latest parked swap survives.
		st.queued = c.filter
		return nil

	case cmdSound:
		return e.reg.Apply(c.soundID, c.soundCmd, c.channel)

	case cmdGain:
		e.chans[c.channel].gain = c.gain
	}

	return nil
}

// renderChannel pushes one input block and accumulates the channel's
// binaural output onto the stereo bus.
func (e *Engine) renderChannel(st *channelState, input []float64) error {
	if err := st.conv.PushBlock(input); err != nil {
		return err
	}

	if st.pending != nil && !e.crossfade {
		st.active = st.pending
		st.pending = nil
	}

	if st.pending != nil {
		if err := e.renderFadedEar(st, e.busL, earLeft); err != nil {
			return err
		}
		if err := e.renderFadedEar(st, e.busR, earRight); err != nil {
			return err
		}
		st.active = st.pending
		st.pending = nil
		return nil
	}

	if st.active == nil {
		return nil
	}

	if err := st.conv.RenderTo(e.earMix, st.active.Left()); err != nil {
		return err
	}
	e.mixOntoBus(e.busL, st.gain)

	if err := st.conv.RenderTo(e.earMix, st.active.Right()); err != nil {
		return err
	}
	e.mixOntoBus(e.busR, st.gain)

	return nil
}

// mixOntoBus adds earMix onto the bus, applying the channel gain.
func (e *Engine) mixOntoBus(bus []float64, gain float64) {
	if gain != 1 {
		vecmath.ScaleBlockInPlace(e.earMix, gain)
	}
	vecmath.AddBlockInPlace(bus, e.earMix)
}

type ear int

const (
	earLeft ear = iota
	earRight
)

func earSpectrum(f *filter.Filter, which ear) *conv.Spectrum {
	if which == earLeft {
		return f.Left()
	}
	return f.Right()
}

// renderFadedEar renders one ear against both the outgoing and the
// incoming filter over the same input history and blends the two with
// the crossfade ramps. A nil outgoing filter fades in from silence.
func (e *Engine) renderFadedEar(st *channelState, bus []float64, which ear) error {
	if st.active == nil {
		clear(e.earOld)
	} else if err := st.conv.RenderTo(e.earOld, earSpectrum(st.active, which)); err != nil {
		return err
	}

	if err := st.conv.RenderTo(e.earNew, earSpectrum(st.pending, which)); err != nil {
		return err
	}

	if err := e.fade.BlendTo(e.earMix, e.earOld, e.earNew); err != nil {
		return err
	}

	e.mixOntoBus(bus, st.gain)
	return nil
}

// renderHeadphone convolves the stereo bus with the headphone filter,
// left ear and right ear independently.
func (e *Engine) renderHeadphone(left, right []float64) error {
	if err := e.hpLeft.PushBlock(e.busL); err != nil {
		return err
	}
	if err := e.hpLeft.RenderTo(left, e.hp.Left()); err != nil {
		return err
	}

	if err := e.hpRight.PushBlock(e.busR); err != nil {
		return err
	}
	return e.hpRight.RenderTo(right, e.hp.Right())
}

func clip(x []float64) {
	for i, v := range x {
		if v > 1 {
			x[i] = 1
		} else if v < -1 {
			x[i] = -1
		}
	}
}

// Close shuts the engine down. Control calls arriving afterwards are
// dropped; a concurrent RenderBlock finishes its current block.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}

	// Discard whatever the render path will no longer drain.
	for {
		select {
		case <-e.cmds:
		default:
			return nil
		}
	}
}

// ClippedBlocks returns the number of output blocks that exceeded
// full scale and were hard-clipped.
func (e *Engine) ClippedBlocks() uint64 { return e.clipped.Load() }

// Steps returns the number of blocks rendered.
func (e *Engine) Steps() uint64 { return e.steps.Load() }

// BlockSize returns the render block size in samples.
func (e *Engine) BlockSize() int { return e.blockSize }

// Channels returns the virtual channel count.
func (e *Engine) Channels() int { return e.channels }
