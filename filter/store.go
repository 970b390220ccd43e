package filter

import (
	"errors"
	"fmt"
	"sort"

	"github.com/cwbudde/algo-binaural/dsp/conv"
)

// Errors returned by the filter store.
var (
	ErrNotFound          = errors.New("filter: not found")
	ErrNoHeadphoneFilter = errors.New("filter: no headphone filter loaded")
	ErrSizeNotMultiple   = errors.New("filter: filter size not a multiple of block size")
	ErrKernelTooLong     = errors.New("filter: impulse response longer than filter size")
	ErrInvalidSize       = errors.New("filter: invalid size")
)

// Store holds all filters for one renderer configuration. Every filter
// is padded to exactly filterSize samples per ear and partitioned at
// filterSize/blockSize partitions, so all filters are interchangeable
// inside a running convolver.
//
// A Store is populated at startup (Add, SetHeadphone, LoadList) and
// must not be mutated after the engine starts.
type Store struct {
	filterSize int
	blockSize  int
	sampleRate int

	filters   map[Key]*Filter
	headphone *Filter
}

// NewStore creates an empty store. filterSize must be a positive
// multiple of blockSize; violating this is a configuration error that
// prevents startup.
func NewStore(filterSize, blockSize, sampleRate int) (*Store, error) {
	if blockSize <= 0 || filterSize <= 0 {
		return nil, fmt.Errorf("%w: filter %d, block %d", ErrInvalidSize, filterSize, blockSize)
	}
	if filterSize%blockSize != 0 {
		return nil, fmt.Errorf("%w: filter %d, block %d", ErrSizeNotMultiple, filterSize, blockSize)
	}

	return &Store{
		filterSize: filterSize,
		blockSize:  blockSize,
		sampleRate: sampleRate,
		filters:    make(map[Key]*Filter),
	}, nil
}

// Add partitions the given per-ear impulse responses and stores them
// under key, replacing any previous entry. Kernels shorter than the
// filter size are zero-padded; longer kernels are rejected.
func (s *Store) Add(key Key, left, right []float64) error {
	f, err := s.build(key, left, right)
	if err != nil {
		return err
	}

	s.filters[key] = f
	return nil
}

// SetHeadphone installs the reserved headphone-equalization filter.
func (s *Store) SetHeadphone(left, right []float64) error {
	f, err := s.build("", left, right)
	if err != nil {
		return err
	}

	s.headphone = f
	return nil
}

func (s *Store) build(key Key, left, right []float64) (*Filter, error) {
	padLeft, err := s.pad(left)
	if err != nil {
		return nil, fmt.Errorf("filter %q left: %w", key, err)
	}

	specLeft, err := conv.NewSpectrum(padLeft, s.blockSize)
	if err != nil {
		return nil, fmt.Errorf("filter %q left: %w", key, err)
	}

	// Mono impulse responses feed both ears with one shared spectrum.
	if sameSlice(left, right) {
		return &Filter{key: key, left: specLeft, right: specLeft}, nil
	}

	padRight, err := s.pad(right)
	if err != nil {
		return nil, fmt.Errorf("filter %q right: %w", key, err)
	}

	specRight, err := conv.NewSpectrum(padRight, s.blockSize)
	if err != nil {
		return nil, fmt.Errorf("filter %q right: %w", key, err)
	}

	return &Filter{key: key, left: specLeft, right: specRight}, nil
}

func sameSlice(a, b []float64) bool {
	return len(a) == len(b) && len(a) > 0 && &a[0] == &b[0]
}

func (s *Store) pad(kernel []float64) ([]float64, error) {
	if len(kernel) > s.filterSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrKernelTooLong, len(kernel), s.filterSize)
	}

	padded := make([]float64, s.filterSize)
	copy(padded, kernel)
	return padded, nil
}

// Get returns the filter stored under key.
func (s *Store) Get(key Key) (*Filter, error) {
	f, ok := s.filters[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return f, nil
}

// Headphone returns the headphone-equalization filter.
func (s *Store) Headphone() (*Filter, error) {
	if s.headphone == nil {
		return nil, ErrNoHeadphoneFilter
	}
	return s.headphone, nil
}

// Keys returns all filter keys in sorted order.
func (s *Store) Keys() []Key {
	keys := make([]Key, 0, len(s.filters))
	for k := range s.filters {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Len returns the number of stored filters, excluding the headphone filter.
func (s *Store) Len() int { return len(s.filters) }

// Partitions returns the partition count shared by all stored filters.
func (s *Store) Partitions() int { return s.filterSize / s.blockSize }

// FilterSize returns the per-ear filter length in samples.
func (s *Store) FilterSize() int { return s.filterSize }

// BlockSize returns the partition block size in samples.
func (s *Store) BlockSize() int { return s.blockSize }

// SampleRate returns the sample rate all filters must match.
func (s *Store) SampleRate() int { return s.sampleRate }
