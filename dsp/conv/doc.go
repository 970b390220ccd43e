// Package conv implements uniformly partitioned frequency-domain
// convolution for block-based real-time rendering.
//
// An impulse response is split into kernelLen/blockSize partitions of
// blockSize samples each. Every partition is transformed once at load
// time into a Spectrum at FFT length 2*blockSize (zero-padded, so each
// partition product realizes linear rather than circular convolution).
//
// A Convolver holds the matching runtime state for one audio channel:
// a frequency delay line (FDL) of the most recent transformed input
// blocks. The FDL depends only on the input signal, never on a filter,
// so a single Convolver can render the same input history against any
// number of Spectrums in the same step:
//
//	c.PushBlock(input)
//	c.RenderTo(outA, specOld)
//	c.RenderTo(outB, specNew)
//	fade.BlendTo(out, outA, outB)
//
// This is what makes click-free filter hot-swapping possible: swapping
// a filter replaces only the Spectrum, the delay line is untouched.
package conv
