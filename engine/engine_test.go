package engine

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/cwbudde/algo-binaural/filter"
	"github.com/cwbudde/algo-binaural/sound"
)

const (
	testBlockSize  = 8
	testFilterSize = 32
	testRate       = 44100
)

// gainKey names the one-tap test filter with the given index.
func gainKey(i int) filter.Key { return filter.KeyOf(i) }

// newTestStore builds a store of one-tap filters: filter i scales both
// ears by gains[i].
func newTestStore(t *testing.T, gains []float64) *filter.Store {
	t.Helper()

	s, err := filter.NewStore(testFilterSize, testBlockSize, testRate)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	for i, g := range gains {
		kernel := make([]float64, 1)
		kernel[0] = g
		if err := s.Add(gainKey(i), kernel, append([]float64(nil), kernel...)); err != nil {
			t.Fatalf("Add filter %d: %v", i, err)
		}
	}

	return s
}

// newDCRegistry registers one looping constant-1 sound per channel.
func newDCRegistry(t *testing.T, channels int) *sound.Registry {
	t.Helper()

	reg, err := sound.NewRegistry(testBlockSize, channels)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	ones := make([]float64, testBlockSize)
	for i := range ones {
		ones[i] = 1
	}

	for ch := range channels {
		e, err := sound.NewEvent(fmt.Sprintf("dc%d", ch), ch, ones, testBlockSize, true)
		if err != nil {
			t.Fatalf("NewEvent: %v", err)
		}
		if err := reg.Add(e); err != nil {
			t.Fatalf("Add event: %v", err)
		}
	}

	return reg
}

func startAll(t *testing.T, e *Engine, channels int) {
	t.Helper()
	for ch := range channels {
		if err := e.SoundCommand(fmt.Sprintf("dc%d", ch), sound.Start, -1); err != nil {
			t.Fatalf("SoundCommand: %v", err)
		}
	}
}

func render(t *testing.T, e *Engine) (left, right []float64) {
	t.Helper()
	left = make([]float64, testBlockSize)
	right = make([]float64, testBlockSize)
	if err := e.RenderBlock(left, right); err != nil {
		t.Fatalf("RenderBlock: %v", err)
	}
	return left, right
}

func TestNewValidation(t *testing.T) {
	store := newTestStore(t, []float64{1})
	reg := newDCRegistry(t, 2)

	if _, err := New(Config{Channels: 0}, store, reg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("want ErrInvalidConfig, got %v", err)
	}
	if _, err := New(Config{Channels: 3, Loudness: 1}, store, reg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("channel mismatch: want ErrInvalidConfig, got %v", err)
	}
	if _, err := New(Config{Channels: 2, Loudness: 1, UseHeadphone: true}, store, reg); !errors.Is(err, filter.ErrNoHeadphoneFilter) {
		t.Errorf("want ErrNoHeadphoneFilter, got %v", err)
	}
}

func TestImpulseThroughChannel(t *testing.T) {
	store := newTestStore(t, []float64{1})
	reg, err := sound.NewRegistry(testBlockSize, 1)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	impulse := make([]float64, testBlockSize)
	impulse[0] = 1
	ev, err := sound.NewEvent("imp", 0, impulse, testBlockSize, false)
	if err != nil {
		t.Fatalf("NewEvent: %v", err)
	}
	if err := reg.Add(ev); err != nil {
		t.Fatalf("Add: %v", err)
	}

	e, err := New(Config{Channels: 1, Loudness: 1, Crossfade: false}, store, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.SetFilter(0, gainKey(0)); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	if err := e.SoundCommand("imp", sound.Start, -1); err != nil {
		t.Fatalf("SoundCommand: %v", err)
	}

	left, right := render(t, e)

	// Unit filter, loudness 1, one channel: gain 1/(2*1) = 0.5.
	if math.Abs(left[0]-0.5) > 1e-9 || math.Abs(right[0]-0.5) > 1e-9 {
		t.Errorf("impulse sample = %v/%v, want 0.5", left[0], right[0])
	}
	for i := 1; i < testBlockSize; i++ {
		if math.Abs(left[i]) > 1e-9 {
			t.Errorf("sample %d = %v, want 0", i, left[i])
		}
	}
}

func TestCrossfadeSwapSequence(t *testing.T) {
	gains := []float64{0.2, 0.4, 0.6, 0.8}
	store := newTestStore(t, gains)
	reg := newDCRegistry(t, 1)

	// Loudness 2 cancels the 1/(2*channels) normalization.
	e, err := New(Config{Channels: 1, Loudness: 2, Crossfade: true}, store, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startAll(t, e, 1)

	if err := e.SetFilter(0, gainKey(0)); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	render(t, e) // fade in from silence
	render(t, e) // steady state on filter 0

	// One swap per block: every filter must be observed exactly once,
	// in order. With a constant-1 input through a one-tap filter the
	// block's first sample carries the outgoing gain and the last
	// sample the incoming gain.
	for i := 1; i < len(gains); i++ {
		if err := e.SetFilter(0, gainKey(i)); err != nil {
			t.Fatalf("SetFilter(%d): %v", i, err)
		}
		left, _ := render(t, e)

		if math.Abs(left[0]-gains[i-1]) > 1e-6 {
			t.Errorf("swap %d: first sample %v, want outgoing gain %v", i, left[0], gains[i-1])
		}
		if math.Abs(left[testBlockSize-1]-gains[i]) > 1e-6 {
			t.Errorf("swap %d: last sample %v, want incoming gain %v", i, left[testBlockSize-1], gains[i])
		}
		for j, v := range left {
			lo := math.Min(gains[i-1], gains[i]) - 1e-6
			hi := math.Max(gains[i-1], gains[i]) + 1e-6
			if v < lo || v > hi {
				t.Errorf("swap %d sample %d = %v outside [%v, %v]", i, j, v, lo, hi)
			}
		}
	}

	// Steady state after the last swap.
	left, _ := render(t, e)
	for i, v := range left {
		if math.Abs(v-gains[len(gains)-1]) > 1e-6 {
			t.Errorf("steady sample %d = %v, want %v", i, v, gains[len(gains)-1])
		}
	}
}

func TestSwapIdempotent(t *testing.T) {
	store := newTestStore(t, []float64{0.5})
	reg := newDCRegistry(t, 1)

	e, err := New(Config{Channels: 1, Loudness: 2, Crossfade: true}, store, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startAll(t, e, 1)

	if err := e.SetFilter(0, gainKey(0)); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	render(t, e)
	render(t, e)

	// Re-selecting the active filter must not restart a fade: the
	// output stays constant across the whole block.
	if err := e.SetFilter(0, gainKey(0)); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	left, _ := render(t, e)
	for i, v := range left {
		if math.Abs(v-0.5) > 1e-6 {
			t.Errorf("sample %d = %v, want steady 0.5", i, v)
		}
	}
	if e.chans[0].pending != nil || e.chans[0].queued != nil {
		t.Error("redundant swap left a fade pending")
	}
}

func TestSwapsCoalesceWithinBlock(t *testing.T) {
	gains := []float64{0.2, 0.4, 0.6, 0.8}
	store := newTestStore(t, gains)
	reg := newDCRegistry(t, 1)

	e, err := New(Config{Channels: 1, Loudness: 2, Crossfade: true}, store, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startAll(t, e, 1)

	if err := e.SetFilter(0, gainKey(0)); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	render(t, e)
	render(t, e)

	// Three swaps inside one block: the first starts the fade, the
	// later two compete for the parked slot and only the latest
	// survives. Filter 2 is never rendered.
	for _, i := range []int{1, 2, 3} {
		if err := e.SetFilter(0, gainKey(i)); err != nil {
			t.Fatalf("SetFilter(%d): %v", i, err)
		}
	}

	left, _ := render(t, e)
	if math.Abs(left[0]-gains[0]) > 1e-6 || math.Abs(left[testBlockSize-1]-gains[1]) > 1e-6 {
		t.Errorf("block 1 endpoints %v/%v, want %v -> %v",
			left[0], left[testBlockSize-1], gains[0], gains[1])
	}

	left, _ = render(t, e)
	if math.Abs(left[0]-gains[1]) > 1e-6 || math.Abs(left[testBlockSize-1]-gains[3]) > 1e-6 {
		t.Errorf("block 2 endpoints %v/%v, want %v -> %v",
			left[0], left[testBlockSize-1], gains[1], gains[3])
	}

	left, _ = render(t, e)
	for i, v := range left {
		if math.Abs(v-gains[3]) > 1e-6 {
			t.Errorf("steady sample %d = %v, want %v", i, v, gains[3])
		}
	}
}

func TestCrossfadeDisabledSwapsInstantly(t *testing.T) {
	store := newTestStore(t, []float64{0.25, 0.75})
	reg := newDCRegistry(t, 1)

	e, err := New(Config{Channels: 1, Loudness: 2, Crossfade: false}, store, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startAll(t, e, 1)

	if err := e.SetFilter(0, gainKey(0)); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	render(t, e)

	if err := e.SetFilter(0, gainKey(1)); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	left, _ := render(t, e)
	for i, v := range left {
		if math.Abs(v-0.75) > 1e-6 {
			t.Errorf("sample %d = %v, want 0.75 from the first sample on", i, v)
		}
	}
}

func TestNormalizationAcrossChannels(t *testing.T) {
	store := newTestStore(t, []float64{1})
	reg := newDCRegistry(t, 2)

	e, err := New(Config{Channels: 2, Loudness: 1, Crossfade: false}, store, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startAll(t, e, 2)
	for ch := range 2 {
		if err := e.SetFilter(ch, gainKey(0)); err != nil {
			t.Fatalf("SetFilter(%d): %v", ch, err)
		}
	}

	// Two unit channels at loudness 1: each scaled by 1/(2*2), summed
	// on the bus for 2 * 0.25 = 0.5 per ear.
	left, right := render(t, e)
	for i := range left {
		if math.Abs(left[i]-0.5) > 1e-6 || math.Abs(right[i]-0.5) > 1e-6 {
			t.Errorf("sample %d = %v/%v, want 0.5", i, left[i], right[i])
		}
	}
}

func TestHeadphoneStage(t *testing.T) {
	store := newTestStore(t, []float64{1})
	if err := store.SetHeadphone([]float64{0.5}, []float64{0.5}); err != nil {
		t.Fatalf("SetHeadphone: %v", err)
	}
	reg := newDCRegistry(t, 1)

	e, err := New(Config{Channels: 1, Loudness: 2, Crossfade: false, UseHeadphone: true}, store, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startAll(t, e, 1)
	if err := e.SetFilter(0, gainKey(0)); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}

	left, right := render(t, e)
	for i := range left {
		if math.Abs(left[i]-0.5) > 1e-6 || math.Abs(right[i]-0.5) > 1e-6 {
			t.Errorf("sample %d = %v/%v, want 0.5 after headphone EQ", i, left[i], right[i])
		}
	}
}

func TestClippingCounter(t *testing.T) {
	store := newTestStore(t, []float64{1})
	reg := newDCRegistry(t, 1)

	e, err := New(Config{Channels: 1, Loudness: 10, Crossfade: false}, store, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startAll(t, e, 1)
	if err := e.SetFilter(0, gainKey(0)); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}

	left, right := render(t, e)
	if e.ClippedBlocks() != 1 {
		t.Errorf("ClippedBlocks()=%d, want 1", e.ClippedBlocks())
	}
	for i := range left {
		if left[i] > 1 || left[i] < -1 || right[i] > 1 || right[i] < -1 {
			t.Errorf("sample %d = %v/%v escaped the clipper", i, left[i], right[i])
		}
	}
}

func TestPerChannelGain(t *testing.T) {
	store := newTestStore(t, []float64{1})
	reg := newDCRegistry(t, 1)

	e, err := New(Config{Channels: 1, Loudness: 2, Crossfade: false}, store, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	startAll(t, e, 1)
	if err := e.SetFilter(0, gainKey(0)); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	render(t, e)

	if err := e.SetGain(0, 0.25); err != nil {
		t.Fatalf("SetGain: %v", err)
	}
	left, right := render(t, e)
	for i := range left {
		if math.Abs(left[i]-0.25) > 1e-6 || math.Abs(right[i]-0.25) > 1e-6 {
			t.Errorf("sample %d = %v/%v, want 0.25", i, left[i], right[i])
		}
	}

	if err := e.SetGain(2, 1); !errors.Is(err, ErrChannelRange) {
		t.Errorf("want ErrChannelRange, got %v", err)
	}
	if err := e.SetGain(0, -1); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("want ErrInvalidConfig, got %v", err)
	}
}

func TestControlPathValidation(t *testing.T) {
	store := newTestStore(t, []float64{1})
	reg := newDCRegistry(t, 1)

	e, err := New(Config{Channels: 1, Loudness: 1, QueueSize: 1}, store, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.SetFilter(5, gainKey(0)); !errors.Is(err, ErrChannelRange) {
		t.Errorf("want ErrChannelRange, got %v", err)
	}
	if err := e.SetFilter(0, filter.KeyOf(999)); !errors.Is(err, filter.ErrNotFound) {
		t.Errorf("want filter.ErrNotFound, got %v", err)
	}
	if err := e.SoundCommand("ghost", sound.Start, -1); !errors.Is(err, sound.ErrUnknownSound) {
		t.Errorf("want sound.ErrUnknownSound, got %v", err)
	}
	if err := e.SoundCommand("dc0", sound.Start, 7); !errors.Is(err, ErrChannelRange) {
		t.Errorf("want ErrChannelRange, got %v", err)
	}

	// Queue size 1: the second unrendered command is refused.
	if err := e.SetFilter(0, gainKey(0)); err != nil {
		t.Fatalf("SetFilter: %v", err)
	}
	if err := e.SetFilter(0, gainKey(0)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("want ErrQueueFull, got %v", err)
	}
}

func TestClose(t *testing.T) {
	store := newTestStore(t, []float64{1})
	reg := newDCRegistry(t, 1)

	e, err := New(Config{Channels: 1, Loudness: 1}, store, reg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	// Control calls after Close are dropped without error.
	if err := e.SetFilter(0, gainKey(0)); err != nil {
		t.Errorf("SetFilter after Close: %v", err)
	}
	if err := e.SoundCommand("dc0", sound.Start, -1); err != nil {
		t.Errorf("SoundCommand after Close: %v", err)
	}

	left := make([]float64, testBlockSize)
	right := make([]float64, testBlockSize)
	if err := e.RenderBlock(left, right); !errors.Is(err, ErrClosed) {
		t.Errorf("want ErrClosed, got %v", err)
	}
}
