package sound

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
)

// Errors returned when loading sound files.
var (
	ErrInvalidWAV         = errors.New("sound: not a valid WAV file")
	ErrSampleRateMismatch = errors.New("sound: sample rate mismatch")
	ErrUnsupportedDepth   = errors.New("sound: unsupported bit depth")
)

// LoadFile reads a WAV file and returns one event per file channel:
// channel i of the file feeds renderer channel i. Event ids derive
// from the file name stem; multichannel files get a ".i" suffix per
// channel. The file's sample rate must match wantRate exactly.
func LoadFile(path string, blockSize, wantRate int, loop bool) ([]*Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sound: open %s: %w", path, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWAV, path)
	}

	format := dec.Format()
	if format.SampleRate != wantRate {
		return nil, fmt.Errorf("%w: %s has %d Hz, want %d Hz",
			ErrSampleRateMismatch, path, format.SampleRate, wantRate)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth < 8 || bitDepth > 32 {
		return nil, fmt.Errorf("%w: %d bit", ErrUnsupportedDepth, bitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("sound: decode %s: %w", path, err)
	}

	numCh := format.NumChannels
	frames := len(buf.Data) / numCh
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	events := make([]*Event, 0, numCh)
	for ch := range numCh {
		samples := make([]float64, frames)
		for i := range frames {
			samples[i] = float64(buf.Data[i*numCh+ch]) * scale
		}

		id := stem
		if numCh > 1 {
			id = fmt.Sprintf("%s.%d", stem, ch)
		}

		e, err := NewEvent(id, ch, samples, blockSize, loop)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	return events, nil
}
