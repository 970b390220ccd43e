// Package config loads and validates the renderer's YAML settings
// file. Unknown keys are rejected so typos fail at startup instead of
// silently falling back to defaults.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Errors returned during validation.
var (
	ErrInvalidBlockSize  = errors.New("config: block size must be positive")
	ErrInvalidFilterSize = errors.New("config: filter size must be a positive multiple of the block size")
	ErrInvalidChannels   = errors.New("config: max channels must be positive")
	ErrInvalidRate       = errors.New("config: sampling rate must be positive")
	ErrInvalidLoudness   = errors.New("config: loudness factor must not be negative")
	ErrMissingFilterList = errors.New("config: filter list path is required")
)

// Settings is the full renderer configuration.
type Settings struct {
	// BlockSize is the render block length in samples.
	BlockSize int `yaml:"blockSize"`

	// FilterSize is the impulse-response length in samples; it must be
	// a multiple of BlockSize.
	FilterSize int `yaml:"filterSize"`

	// MaxChannels is the number of virtual sound channels.
	MaxChannels int `yaml:"maxChannels"`

	// SamplingRate is the sample rate all filters and sounds must match.
	SamplingRate int `yaml:"samplingRate"`

	// EnableCrossfading blends filter swaps over one block.
	EnableCrossfading bool `yaml:"enableCrossfading"`

	// UseHeadphoneFilter enables the headphone-equalization stage.
	UseHeadphoneFilter bool `yaml:"useHeadphoneFilter"`

	// LoudnessFactor scales the mixed output.
	LoudnessFactor float64 `yaml:"loudnessFactor"`

	// LoopSound makes loaded sounds wrap at their buffer end.
	LoopSound bool `yaml:"loopSound"`

	// FilterList is the path of the filter list file.
	FilterList string `yaml:"filterList"`

	// SoundFiles lists WAV files registered as playable sounds.
	SoundFiles []string `yaml:"soundFiles"`

	// OSCAddress is the UDP host:port the control surface listens on.
	OSCAddress string `yaml:"oscAddress"`
}

// Default returns the settings used when the file leaves a key unset.
func Default() Settings {
	return Settings{
		BlockSize:          256,
		FilterSize:         16384,
		MaxChannels:        8,
		SamplingRate:       44100,
		EnableCrossfading:  false,
		UseHeadphoneFilter: false,
		LoudnessFactor:     1.0,
		LoopSound:          true,
		OSCAddress:         "127.0.0.1:10000",
	}
}

// Load reads a YAML settings file over the defaults and validates the
// result.
func Load(path string) (Settings, error) {
	s := Default()

	f, err := os.Open(path)
	if err != nil {
		return s, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return s, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := s.Validate(); err != nil {
		return s, fmt.Errorf("config: %s: %w", path, err)
	}
	return s, nil
}

// Validate checks the settings for internal consistency.
func (s Settings) Validate() error {
	if s.BlockSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBlockSize, s.BlockSize)
	}
	if s.FilterSize <= 0 || s.FilterSize%s.BlockSize != 0 {
		return fmt.Errorf("%w: filter %d, block %d", ErrInvalidFilterSize, s.FilterSize, s.BlockSize)
	}
	if s.MaxChannels <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChannels, s.MaxChannels)
	}
	if s.SamplingRate <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidRate, s.SamplingRate)
	}
	if s.LoudnessFactor < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidLoudness, s.LoudnessFactor)
	}
	if s.FilterList == "" {
		return ErrMissingFilterList
	}
	return nil
}
