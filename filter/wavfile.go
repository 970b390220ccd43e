package filter

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/wav"
)

// Errors returned when loading impulse responses from WAV files.
var (
	ErrInvalidWAV         = errors.New("filter: not a valid WAV file")
	ErrSampleRateMismatch = errors.New("filter: sample rate mismatch")
	ErrUnsupportedDepth   = errors.New("filter: unsupported bit depth")
)

// readImpulseResponse reads a WAV file and returns the left and right
// ear kernels. Mono files feed both ears; additional channels beyond
// the first two are ignored. The file's sample rate must match
// wantRate exactly (no resampling is performed).
func readImpulseResponse(path string, wantRate int) (left, right []float64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("filter: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}

	format := dec.Format()
	if format.SampleRate != wantRate {
		return nil, nil, fmt.Errorf("%w: %s has %d Hz, want %d Hz",
			ErrSampleRateMismatch, path, format.SampleRate, wantRate)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth < 8 || bitDepth > 32 {
		return nil, nil, fmt.Errorf("%w: %d bit", ErrUnsupportedDepth, bitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, nil, fmt.Errorf("filter: decode %s: %w", path, err)
	}

	numCh := format.NumChannels
	frames := len(buf.Data) / numCh
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))

	left = make([]float64, frames)
	for i := range frames {
		left[i] = float64(buf.Data[i*numCh]) * scale
	}

	if numCh < 2 {
		right = left
		return left, right, nil
	}

	right = make([]float64, frames)
	for i := range frames {
		right[i] = float64(buf.Data[i*numCh+1]) * scale
	}

	return left, right, nil
}
