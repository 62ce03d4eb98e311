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

// Package mathrandom simulates V8's Math.random(): a 64-entry cache of
// xs128 outputs, refilled on demand and delivered to callers in LIFO order.
package mathrandom

import (
	"golang.org/x/exp/slices"

	"github.com/nsec/v8rand/boundsbits"
	"github.com/nsec/v8rand/ints"
	"github.com/nsec/v8rand/xs128"
)

// CacheSize is the number of xs128 outputs cached per refill.
const CacheSize = 64

// Generator mirrors V8's Math.random() internal state: the seed to use for
// the next refill (S0, S1), the cache of 64 already-generated xs128
// outputs, and the index of the next value to deliver.
type Generator struct {
	S0, S1   uint64
	Cache    [CacheSize]uint64
	CacheIdx int // -1 means the cache is logically empty
}

// New creates a Generator seeded from a cryptographically strong random
// source.
func New() (*Generator, error) {
	var seed [2]uint64
	if err := ints.RandomFillSlice(seed[:]); err != nil {
		return nil, err
	}
	return &Generator{S0: seed[0], S1: seed[1], CacheIdx: -1}, nil
}

// Refill advances xs128 64 times from (S0, S1), storing each step's
// resulting S0 into the cache in emission order, and resets CacheIdx to 63.
// It panics if the cache is not already empty (CacheIdx != -1): refilling a
// non-empty cache would silently discard unconsumed values.
func (g *Generator) Refill() {
	if g.CacheIdx != -1 {
		panic("mathrandom: Refill requires an empty cache (CacheIdx == -1)")
	}
	for i := 0; i < CacheSize; i++ {
		g.S0, g.S1 = xs128.Step(g.S0, g.S1)
		g.Cache[i] = g.S0
	}
	g.CacheIdx = CacheSize - 1
}

// Next returns the next Math.random() output, refilling the cache first if
// it is empty.
func (g *Generator) Next() float64 {
	if g.CacheIdx < 0 {
		g.Refill()
	}
	v := boundsbits.StateToDouble(g.Cache[g.CacheIdx])
	g.CacheIdx--
	return v
}

// Previous returns the Math.random() output that immediately precedes the
// one Next would return next, i.e. it walks backward through the same LIFO
// order Next walks forward through. When the walk runs off the start of
// the current cache, it reconstructs the seed of the preceding refill and
// refills from there: S0,S1 already sits 64 xs128 steps past the current
// cache's seed, so reaching the seed one refill further back takes 128
// steps of reverse xs128, not 64.
func (g *Generator) Previous() float64 {
	g.CacheIdx++
	if g.CacheIdx >= CacheSize {
		s0, s1 := g.S0, g.S1
		for i := 0; i < 2*CacheSize; i++ {
			s0, s1 = xs128.Inverse(s0, s1)
		}
		g.S0, g.S1 = s0, s1
		g.CacheIdx = -1
		g.Refill()
		g.CacheIdx = 0
	}
	return boundsbits.StateToDouble(g.Cache[g.CacheIdx])
}

// FromPrevState hydrates the generator from the xs128 seed in effect
// before the refill that produced the cache the caller wants to align to,
// then positions CacheIdx at the desired index within that cache. This
// intentionally resets CacheIdx to -1 before calling Refill (satisfying
// Refill's precondition) and overwrites it afterward.
func (g *Generator) FromPrevState(prevS0, prevS1 uint64, cacheIdx int) {
	g.Cache = [CacheSize]uint64{}
	g.CacheIdx = -1
	g.S0, g.S1 = prevS0, prevS1
	g.Refill()
	g.CacheIdx = cacheIdx
}

// Clone returns an independent copy of g.
func (g *Generator) Clone() *Generator {
	c := *g
	return &c
}

// Equal reports whether g and other have identical observable state.
func (g *Generator) Equal(other *Generator) bool {
	if other == nil {
		return false
	}
	return g.CacheIdx == other.CacheIdx &&
		g.S0 == other.S0 &&
		g.S1 == other.S1 &&
		slices.Equal(g.Cache[:], other.Cache[:])
}
