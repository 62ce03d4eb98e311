// Copyright (C) 2024 v8rand authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package ioobs reads observation files in the three leak formats the
// recovery driver understands -- doubles, scaled integers, and bounds --
// transparently decompressing .gz inputs and digesting their content so a
// "no candidate recovered" report can be correlated with the exact bytes
// that produced it.
package ioobs

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/crypto/blake2b"
)

// Mode selects how each non-blank, non-comment line of an observation file
// is interpreted.
type Mode string

const (
	ModeDoubles Mode = "doubles"
	ModeScaled  Mode = "scaled"
	ModeBounds  Mode = "bounds"
)

// Bounds is one [lo, hi] pair parsed from a "bounds" mode line.
type Bounds struct {
	Lo, Hi float64
}

// Observations is the parsed content of one observation file: the leaked
// values (only the field matching Mode is populated) together with the
// call position each one occupies.
type Observations struct {
	Mode      Mode
	Doubles   []float64
	Scaled    []uint64
	Bounds    []Bounds
	Positions []int
	// Digest is the BLAKE2b-256 hash of the file's decompressed content,
	// suitable for correlating a support report with the exact input that
	// produced it without echoing the (possibly large) file into logs.
	Digest [32]byte
}

// Parse reads and parses the observation file at path. Files whose name
// ends in ".gz" are transparently decompressed first. Blank lines advance
// the call position without contributing an observation; lines starting
// with "#" are skipped entirely and do not advance the position.
func Parse(path string, mode Mode) (*Observations, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ioobs: reading %s: %w", path, err)
	}

	content := raw
	if strings.HasSuffix(path, ".gz") {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("ioobs: opening gzip stream in %s: %w", path, err)
		}
		content, err = io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("ioobs: decompressing %s: %w", path, err)
		}
	}

	obs := &Observations{Mode: mode, Digest: blake2b.Sum256(content)}
	curr := 0
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			curr++
			continue
		}
		switch mode {
		case ModeDoubles:
			d, err := strconv.ParseFloat(trimmed, 64)
			if err != nil || d < 0.0 || d > 1.0 {
				return nil, fmt.Errorf("ioobs: %s: line %d: invalid double %q", path, curr, trimmed)
			}
			obs.Doubles = append(obs.Doubles, d)
		case ModeScaled:
			k, err := strconv.ParseUint(trimmed, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("ioobs: %s: line %d: invalid scaled value %q", path, curr, trimmed)
			}
			obs.Scaled = append(obs.Scaled, k)
		case ModeBounds:
			fields := strings.Fields(trimmed)
			if len(fields) != 2 {
				return nil, fmt.Errorf("ioobs: %s: line %d: expected two bounds, got %q", path, curr, trimmed)
			}
			lo, errLo := strconv.ParseFloat(fields[0], 64)
			hi, errHi := strconv.ParseFloat(fields[1], 64)
			if errLo != nil || errHi != nil || lo < 0.0 || hi > 1.0 || lo > hi {
				return nil, fmt.Errorf("ioobs: %s: line %d: invalid bounds %q", path, curr, trimmed)
			}
			obs.Bounds = append(obs.Bounds, Bounds{Lo: lo, Hi: hi})
		default:
			return nil, fmt.Errorf("ioobs: unsupported mode %q", mode)
		}
		obs.Positions = append(obs.Positions, curr)
		curr++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ioobs: scanning %s: %w", path, err)
	}
	return obs, nil
}
