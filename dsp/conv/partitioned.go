package conv

import (
	"errors"
	"fmt"

	algofft "github.com/MeKo-Christian/algo-fft"
)

// Errors returned by the partitioned convolution types.
var (
	ErrEmptyKernel       = errors.New("conv: empty kernel")
	ErrInvalidBlockSize  = errors.New("conv: invalid block size")
	ErrKernelNotMultiple = errors.New("conv: kernel length not a multiple of block size")
	ErrLengthMismatch    = errors.New("conv: buffer length mismatch")
	ErrSpectrumMismatch  = errors.New("conv: spectrum layout mismatch")
)

// Spectrum is the frequency-domain representation of an impulse
// response, partitioned into kernelLen/blockSize blocks of blockSize
// samples, each transformed at FFT length 2*blockSize.
//
// A Spectrum is immutable after construction and may be shared by any
// number of Convolvers concurrently.
type Spectrum struct {
	blockSize int
	fftSize   int
	parts     [][]complex128
}

// NewSpectrum partitions kernel and transforms each partition.
// The kernel length must be a positive multiple of blockSize.
func NewSpectrum(kernel []float64, blockSize int) (*Spectrum, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockSize, blockSize)
	}
	if len(kernel) == 0 {
		return nil, ErrEmptyKernel
	}
	if len(kernel)%blockSize != 0 {
		return nil, fmt.Errorf("%w: kernel %d, block %d", ErrKernelNotMultiple, len(kernel), blockSize)
	}

	fftSize := 2 * blockSize
	numParts := len(kernel) / blockSize

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("conv: spectrum FFT plan (size=%d): %w", fftSize, err)
	}

	scratch := make([]complex128, fftSize)
	parts := make([][]complex128, numParts)

	for p := range parts {
		clear(scratch)
		packReal(scratch, kernel[p*blockSize:(p+1)*blockSize])

		parts[p] = make([]complex128, fftSize)
		if err := plan.Forward(parts[p], scratch); err != nil {
			return nil, fmt.Errorf("conv: spectrum forward FFT (partition=%d): %w", p, err)
		}
	}

	return &Spectrum{
		blockSize: blockSize,
		fftSize:   fftSize,
		parts:     parts,
	}, nil
}

// BlockSize returns the partition size in samples.
func (s *Spectrum) BlockSize() int { return s.blockSize }

// Partitions returns the number of partitions.
func (s *Spectrum) Partitions() int { return len(s.parts) }

// KernelLen returns the original kernel length.
func (s *Spectrum) KernelLen() int { return s.blockSize * len(s.parts) }

// Convolver maintains the per-channel runtime state of a uniformly
// partitioned convolution: a frequency delay line holding the
// transforms of the most recent input blocks.
//
// The delay line keeps partitions+1 entries so that RenderTo can
// rebuild both the current partition sum and the previous step's
// partition sum for any Spectrum. The overlap-add tail is therefore
// recomputed per call instead of stored, leaving the Convolver free of
// filter-coupled state.
//
// PushBlock and RenderTo perform no allocations. A Convolver is not
// safe for concurrent use; the render path owns it exclusively.
type Convolver struct {
	blockSize int
	fftSize   int
	numParts  int

	plan *algofft.Plan[complex128]

	fdl [][]complex128 // numParts+1 input-block spectra
	pos int            // index of the most recent entry

	packBuf []complex128
	accCur  []complex128
	accPrev []complex128
	ifftBuf []complex128
	prevOut []float64
}

// NewConvolver creates a convolver for the given block size and
// partition count. partitions must match the Spectrums rendered later.
func NewConvolver(blockSize, partitions int) (*Convolver, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockSize, blockSize)
	}
	if partitions <= 0 {
		return nil, fmt.Errorf("conv: partitions must be positive, got %d", partitions)
	}

	fftSize := 2 * blockSize

	plan, err := algofft.NewPlan64(fftSize)
	if err != nil {
		return nil, fmt.Errorf("conv: convolver FFT plan (size=%d): %w", fftSize, err)
	}

	fdl := make([][]complex128, partitions+1)
	for i := range fdl {
		fdl[i] = make([]complex128, fftSize)
	}

	return &Convolver{
		blockSize: blockSize,
		fftSize:   fftSize,
		numParts:  partitions,
		plan:      plan,
		fdl:       fdl,
		packBuf:   make([]complex128, fftSize),
		accCur:    make([]complex128, fftSize),
		accPrev:   make([]complex128, fftSize),
		ifftBuf:   make([]complex128, fftSize),
		prevOut:   make([]float64, fftSize),
	}, nil
}

// PushBlock transforms one input block into the delay line.
// Exactly one push per render step; block must be blockSize samples.
func (c *Convolver) PushBlock(block []float64) error {
	if len(block) != c.blockSize {
		return fmt.Errorf("%w: input length %d, block size %d", ErrLengthMismatch, len(block), c.blockSize)
	}

	c.pos++
	if c.pos == len(c.fdl) {
		c.pos = 0
	}

	clear(c.packBuf)
	packReal(c.packBuf, block)

	if err := c.plan.Forward(c.fdl[c.pos], c.packBuf); err != nil {
		return fmt.Errorf("conv: forward FFT: %w", err)
	}

	return nil
}

// RenderTo computes the output block for spec from the current delay
// line and writes it to dst. The result is the linear convolution of
// the pushed input history with spec's kernel, truncated to the
// current block. dst must be blockSize samples.
//
// RenderTo does not mutate the delay line; it may be called any number
// of times per step with different Spectrums.
func (c *Convolver) RenderTo(dst []float64, spec *Spectrum) error {
	if len(dst) != c.blockSize {
		return fmt.Errorf("%w: output length %d, block size %d", ErrLengthMismatch, len(dst), c.blockSize)
	}
	if spec.blockSize != c.blockSize || len(spec.parts) != c.numParts {
		return fmt.Errorf("%w: spectrum %dx%d, convolver %dx%d",
			ErrSpectrumMismatch, spec.Partitions(), spec.blockSize, c.numParts, c.blockSize)
	}

	clear(c.accCur)
	clear(c.accPrev)

	for p, h := range spec.parts {
		cur := c.fdl[c.slot(p)]
		prev := c.fdl[c.slot(p+1)]

		for i := range c.fftSize {
			c.accCur[i] += cur[i] * h[i]
			c.accPrev[i] += prev[i] * h[i]
		}
	}

	// Previous step's partition sum: its second half is the
	// overlap-add tail that spills into the current block.
	if err := c.plan.Inverse(c.ifftBuf, c.accPrev); err != nil {
		return fmt.Errorf("conv: inverse FFT: %w", err)
	}
	unpackReal(c.prevOut, c.ifftBuf)

	if err := c.plan.Inverse(c.ifftBuf, c.accCur); err != nil {
		return fmt.Errorf("conv: inverse FFT: %w", err)
	}

	for i := range c.blockSize {
		dst[i] = real(c.ifftBuf[i]) + c.prevOut[c.blockSize+i]
	}

	return nil
}

// slot returns the delay-line index of the entry pushed depth steps ago.
func (c *Convolver) slot(depth int) int {
	i := c.pos - depth
	if i < 0 {
		i += len(c.fdl)
	}
	return i
}

// Reset clears the delay line, ready for a fresh input stream.
func (c *Convolver) Reset() {
	for _, x := range c.fdl {
		clear(x)
	}
	c.pos = 0
}

// BlockSize returns the block size in samples.
func (c *Convolver) BlockSize() int { return c.blockSize }

// Partitions returns the partition count the convolver was built for.
func (c *Convolver) Partitions() int { return c.numParts }

// FFTSize returns the internal FFT size (2 * blockSize).
func (c *Convolver) FFTSize() int { return c.fftSize }

func packReal(dst []complex128, src []float64) {
	for i, v := range src {
		dst[i] = complex(v, 0)
	}
}

func unpackReal(dst []float64, src []complex128) {
	for i, v := range src {
		dst[i] = real(v)
	}
}
