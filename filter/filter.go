// Package filter manages the set of binaural room impulse response
// (BRIR) filters available to the renderer.
//
// Filters are loaded once at startup from a filter-list file, keyed by
// the control parameter tuple that selects them, and pre-partitioned
// into frequency-domain spectra (see dsp/conv). After loading, the
// Store is read-only: lookups are plain map reads and are safe from
// the control goroutine without locking, and every Filter is immutable
// and shared by reference across channels.
package filter

import (
	"strconv"
	"strings"

	"github.com/cwbudde/algo-binaural/dsp/conv"
)

// Key identifies a filter by the canonical form of its control
// parameter tuple, e.g. "165 2 0 0 0 0".
type Key string

// KeyOf builds the canonical key for a parameter tuple.
func KeyOf(values ...int) Key {
	var b strings.Builder
	for i, v := range values {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Itoa(v))
	}
	return Key(b.String())
}

// Filter is one loaded BRIR: a pre-partitioned spectrum per ear.
// Filters are immutable and safe for concurrent use.
type Filter struct {
	key   Key
	left  *conv.Spectrum
	right *conv.Spectrum
}

// Key returns the filter's lookup key.
func (f *Filter) Key() Key { return f.key }

// Left returns the left-ear spectrum.
func (f *Filter) Left() *conv.Spectrum { return f.left }

// Right returns the right-ear spectrum.
func (f *Filter) Right() *conv.Spectrum { return f.right }
