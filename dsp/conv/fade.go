package conv

import (
	"fmt"
	"math"

	vecmath "github.com/cwbudde/algo-vecmath"
)

// Fade blends two equally long blocks with complementary ramps.
// The ramps are monotonic and sum to exactly one at every sample, so
// the blend never exceeds the instantaneous range of its two inputs.
type Fade struct {
	in  []float64 // 0 -> 1 across the block
	out []float64 // 1 -> 0 across the block
	tmp []float64
}

// NewCosineFade returns a cosine-squared fade spanning blockSize
// samples: out[i] = cos²(i/(blockSize-1) · π/2), in = 1 - out.
func NewCosineFade(blockSize int) (*Fade, error) {
	f, err := newFade(blockSize)
	if err != nil {
		return nil, err
	}

	if blockSize > 1 {
		den := float64(blockSize - 1)
		for i := range f.out {
			c := math.Cos(float64(i) / den * (math.Pi / 2))
			f.out[i] = c * c
			f.in[i] = 1 - f.out[i]
		}
	}

	return f, nil
}

// NewLinearFade returns a linear fade spanning blockSize samples.
func NewLinearFade(blockSize int) (*Fade, error) {
	f, err := newFade(blockSize)
	if err != nil {
		return nil, err
	}

	if blockSize > 1 {
		den := float64(blockSize - 1)
		for i := range f.in {
			f.in[i] = float64(i) / den
			f.out[i] = 1 - f.in[i]
		}
	}

	return f, nil
}

func newFade(blockSize int) (*Fade, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockSize, blockSize)
	}

	f := &Fade{
		in:  make([]float64, blockSize),
		out: make([]float64, blockSize),
		tmp: make([]float64, blockSize),
	}

	// Degenerate single-sample block: the swap completes immediately.
	if blockSize == 1 {
		f.in[0] = 1
	}

	return f, nil
}

// BlendTo writes outgoing·rampOut + incoming·rampIn to dst.
// All three slices must be blockSize samples. dst may alias outgoing
// or incoming. BlendTo performs no allocations.
func (f *Fade) BlendTo(dst, outgoing, incoming []float64) error {
	n := len(f.in)
	if len(dst) != n || len(outgoing) != n || len(incoming) != n {
		return fmt.Errorf("%w: blend over %d samples (dst=%d out=%d in=%d)",
			ErrLengthMismatch, n, len(dst), len(outgoing), len(incoming))
	}

	vecmath.MulBlock(f.tmp, outgoing, f.out)
	vecmath.MulAddBlock(dst, incoming, f.in, f.tmp)

	return nil
}

// BlockSize returns the fade length in samples.
func (f *Fade) BlockSize() int { return len(f.in) }
