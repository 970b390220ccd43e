package filter

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrBadListEntry marks a malformed line in a filter-list file.
var ErrBadListEntry = errors.New("filter: malformed filter-list entry")

// headphoneMarker tags the headphone-equalization entry in a list file.
const headphoneMarker = "HPFILTER"

// LoadList populates the store from a filter-list file. Each line maps
// a parameter tuple to a WAV file:
//
//	165 2 0 0 0 0 brirs/kemar_165_2.wav
//	HPFILTER hpirs/hd650_eq.wav
//
// Blank lines and lines starting with '#' are skipped. Relative WAV
// paths are resolved against the list file's directory. A repeated
// tuple replaces the earlier entry.
func (s *Store) LoadList(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("filter: open list %s: %w", path, err)
	}
	defer f.Close()

	baseDir := filepath.Dir(path)

	scanner := bufio.NewScanner(f)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := s.loadListLine(line, baseDir); err != nil {
			return fmt.Errorf("filter: %s:%d: %w", path, lineNo, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("filter: read list %s: %w", path, err)
	}

	return nil
}

func (s *Store) loadListLine(line, baseDir string) error {
	fields := strings.Fields(line)

	if fields[0] == headphoneMarker {
		if len(fields) != 2 {
			return fmt.Errorf("%w: %q", ErrBadListEntry, line)
		}

		left, right, err := readImpulseResponse(resolvePath(baseDir, fields[1]), s.sampleRate)
		if err != nil {
			return err
		}
		return s.SetHeadphone(left, right)
	}

	if len(fields) < 2 {
		return fmt.Errorf("%w: %q", ErrBadListEntry, line)
	}

	values := make([]int, len(fields)-1)
	for i, field := range fields[:len(fields)-1] {
		v, err := strconv.Atoi(field)
		if err != nil {
			return fmt.Errorf("%w: %q is not an integer", ErrBadListEntry, field)
		}
		values[i] = v
	}

	left, right, err := readImpulseResponse(resolvePath(baseDir, fields[len(fields)-1]), s.sampleRate)
	if err != nil {
		return err
	}

	return s.Add(KeyOf(values...), left, right)
}

func resolvePath(baseDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
