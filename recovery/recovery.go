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

// Package recovery orchestrates boundsbits extraction, cache-index
// brute-forcing, symbolic equation tracing, and GF(2) solving into a lazy
// stream of candidate mathrandom.Generator instances consistent with a set
// of leaked Math.random() observations.
package recovery

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/dchest/siphash"
	"github.com/google/uuid"

	"github.com/nsec/v8rand/bitdeps"
	"github.com/nsec/v8rand/boundsbits"
	"github.com/nsec/v8rand/cachealign"
	"github.com/nsec/v8rand/gf2"
	"github.com/nsec/v8rand/mathrandom"
	"github.com/nsec/v8rand/policy"
	"github.com/nsec/v8rand/xs128"
)

// dedupKey0/dedupKey1 are the siphash key halves used to fingerprint
// recovered candidates for deduplication. Not a secret: candidates are
// already visible to the caller, this only collapses repeats of the same
// (seed0, seed1, cacheIdx) triple within one Each call; the same seed under
// two different cache_idx guesses is two distinct candidates.
const (
	dedupKey0 = 0x646f5f6e6f745f6b
	dedupKey1 = 0x6565705f61736563
)

// Stream lazily enumerates recovered mathrandom.Generator candidates. A
// RunID is assigned per Stream so warnings logged while solving can be
// correlated across a run with multiple input files.
type Stream struct {
	RunID         uuid.UUID
	KnownBits     []boundsbits.KnownBits
	Positions     []int
	Policy        policy.Policy
	MaxCandidates int // 0 means unlimited
}

// Options configures a Stream. A zero Options uses policy.Default() and no
// enumeration cap.
type Options struct {
	Positions     []int // nil means successive positions starting at 0
	Policy        policy.Policy
	MaxCandidates int
}

func newStream(knownBits []boundsbits.KnownBits, opts Options) *Stream {
	p := opts.Policy
	if p == (policy.Policy{}) {
		p = policy.Default()
	}
	positions := opts.Positions
	if positions == nil {
		positions = make([]int, len(knownBits))
		for i := range positions {
			positions[i] = i
		}
	}
	return &Stream{
		RunID:         uuid.New(),
		KnownBits:     knownBits,
		Positions:     positions,
		Policy:        p,
		MaxCandidates: opts.MaxCandidates,
	}
}

// FromKnownBits is the common entry point: recover candidates directly
// from a list of per-position KnownBits vectors.
func FromKnownBits(knownBits []boundsbits.KnownBits, opts Options) *Stream {
	return newStream(knownBits, opts)
}

// FromDoubles recovers candidates from a list of exact Math.random()
// outputs.
func FromDoubles(doubles []float64, opts Options) (*Stream, error) {
	knownBits := make([]boundsbits.KnownBits, len(doubles))
	for i, d := range doubles {
		kb, err := boundsbits.FromDouble(d)
		if err != nil {
			return nil, fmt.Errorf("recovery: double %d: %w", i, err)
		}
		knownBits[i] = kb
	}
	return FromKnownBits(knownBits, opts), nil
}

// FromScaled recovers candidates from a list of Math.floor(r*factor+translation)
// integers.
func FromScaled(scaled []uint64, factor uint64, translation int64, opts Options) (*Stream, error) {
	knownBits := make([]boundsbits.KnownBits, len(scaled))
	for i, k := range scaled {
		kb, err := boundsbits.FromScaled(k, factor, translation)
		if err != nil {
			return nil, fmt.Errorf("recovery: scaled value %d: %w", i, err)
		}
		knownBits[i] = kb
	}
	return FromKnownBits(knownBits, opts), nil
}

// FromBounds recovers candidates from a list of [lo, hi] bounds on
// Math.random() outputs.
func FromBounds(bounds [][2]float64, opts Options) (*Stream, error) {
	knownBits := make([]boundsbits.KnownBits, len(bounds))
	for i, b := range bounds {
		kb, err := boundsbits.FromBounds(b[0], b[1])
		if err != nil {
			return nil, fmt.Errorf("recovery: bounds %d: %w", i, err)
		}
		knownBits[i] = kb
	}
	return FromKnownBits(knownBits, opts), nil
}

// Each brute-forces every possible starting cache_idx, traces and solves
// the resulting linear system, and calls yield once per hydrated candidate
// in deterministic order. Enumeration stops early if yield returns false or
// once MaxCandidates candidates have been yielded.
func (s *Stream) Each(yield func(*mathrandom.Generator) bool) {
	maxPos := 0
	for _, p := range s.Positions {
		if p > maxPos {
			maxPos = p
		}
	}
	obs := make(map[int]boundsbits.KnownBits, len(s.Positions))
	for i, p := range s.Positions {
		obs[p] = s.KnownBits[i]
	}

	seen := make(map[[16]byte]bool)
	yielded := 0
	for cacheIdx := 0; cacheIdx < cachealign.CacheSize; cacheIdx++ {
		steps := cachealign.Remap(obs, maxPos, cacheIdx)
		eqs := traceEquations(steps, s.Policy)

		if len(eqs) < s.Policy.UnderDeterminedWarn {
			log.Printf("recovery[%s]: cache_idx=%d under-determined system (%d equations)", s.RunID, cacheIdx, len(eqs))
		}
		if len(eqs) < s.Policy.StrongUnderDeterminedWarn {
			log.Printf("recovery[%s]: cache_idx=%d strongly under-determined system (%d equations)", s.RunID, cacheIdx, len(eqs))
		}

		sol, err := gf2.Solve(eqs)
		if err != nil {
			continue // this cache_idx guess is wrong
		}
		if len(sol.Kernel) > s.Policy.LargeKernelWarn {
			log.Printf("recovery[%s]: cache_idx=%d large kernel (%d dims, 2^%d candidates)", s.RunID, cacheIdx, len(sol.Kernel), len(sol.Kernel))
		}

		keepGoing := true
		sol.All(func(seed bitdeps.Mask128) bool {
			key := fingerprint(seed.Lo, seed.Hi, cacheIdx)
			if seen[key] {
				return true
			}
			seen[key] = true

			g := &mathrandom.Generator{}
			g.FromPrevState(seed.Lo, seed.Hi, cacheIdx)
			yielded++
			if !yield(g) {
				keepGoing = false
				return false
			}
			if s.MaxCandidates > 0 && yielded >= s.MaxCandidates {
				keepGoing = false
				return false
			}
			return true
		})
		if !keepGoing {
			return
		}
	}
}

// traceEquations runs the symbolic xs128 transition over steps (one
// per xs128 emission in emission order) and emits one gf2.Equation per
// known bit, capped at policy.MaxEquations.
func traceEquations(steps []boundsbits.KnownBits, p policy.Policy) []gf2.Equation {
	s0, s1 := bitdeps.InitialS0(), bitdeps.InitialS1()
	var eqs []gf2.Equation
	for _, kb := range steps {
		s0, s1 = xs128.Forward[bitdeps.Word](bitdeps.Algebra{}, s0, s1)
		for j := 0; j < 64; j++ {
			if len(eqs) >= p.MaxEquations {
				return eqs
			}
			switch kb[j] {
			case boundsbits.BitZero:
				eqs = append(eqs, gf2.Equation{Coeffs: s0[j], Result: 0})
			case boundsbits.BitOne:
				eqs = append(eqs, gf2.Equation{Coeffs: s0[j], Result: 1})
			}
		}
	}
	return eqs
}

// fingerprint returns a siphash-128 fingerprint of a recovered candidate,
// useful for callers that want to dedup or log candidates across Streams
// without printing the full state.
func fingerprint(seed0, seed1 uint64, cacheIdx int) [16]byte {
	var buf [20]byte
	binary.LittleEndian.PutUint64(buf[0:8], seed0)
	binary.LittleEndian.PutUint64(buf[8:16], seed1)
	binary.LittleEndian.PutUint32(buf[16:20], uint32(cacheIdx))
	lo, hi := siphash.Hash128(dedupKey0, dedupKey1, buf[:])
	var out [16]byte
	binary.LittleEndian.PutUint64(out[0:8], lo)
	binary.LittleEndian.PutUint64(out[8:16], hi)
	return out
}
