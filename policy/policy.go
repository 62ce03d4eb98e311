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

// Package policy holds the solver's tunable thresholds, loadable from an
// optional YAML file or left at their defaults.
package policy

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// Policy bounds the equation tracer and solver so a pathological input (too
// few observations, or a degenerate cache_idx guess) can't make the
// recovery driver spend unbounded time or memory.
type Policy struct {
	// MaxEquations caps the number of StateEquations the tracer emits per
	// cache_idx guess; contributions past the cap are dropped.
	MaxEquations int `json:"maxEquations"`
	// UnderDeterminedWarn logs a warning when fewer than this many
	// equations were collected (many solutions expected).
	UnderDeterminedWarn int `json:"underDeterminedWarn"`
	// StrongUnderDeterminedWarn logs a louder warning below this count.
	StrongUnderDeterminedWarn int `json:"strongUnderDeterminedWarn"`
	// LargeKernelWarn logs a warning when a solved system's kernel basis
	// exceeds this size (2^|K| candidates to enumerate).
	LargeKernelWarn int `json:"largeKernelWarn"`
}

// Default returns the baseline thresholds (10000 / 110 / 140 / 100).
func Default() Policy {
	return Policy{
		MaxEquations:              10000,
		UnderDeterminedWarn:       110,
		StrongUnderDeterminedWarn: 140,
		LargeKernelWarn:           100,
	}
}

// Load reads a YAML policy file, filling in any field left at its zero
// value with the corresponding default. An empty path returns Default().
func Load(path string) (Policy, error) {
	p := Default()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("policy: reading %s: %w", path, err)
	}
	var overrides Policy
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return Policy{}, fmt.Errorf("policy: parsing %s: %w", path, err)
	}
	if overrides.MaxEquations != 0 {
		p.MaxEquations = overrides.MaxEquations
	}
	if overrides.UnderDeterminedWarn != 0 {
		p.UnderDeterminedWarn = overrides.UnderDeterminedWarn
	}
	if overrides.StrongUnderDeterminedWarn != 0 {
		p.StrongUnderDeterminedWarn = overrides.StrongUnderDeterminedWarn
	}
	if overrides.LargeKernelWarn != 0 {
		p.LargeKernelWarn = overrides.LargeKernelWarn
	}
	return p, nil
}
