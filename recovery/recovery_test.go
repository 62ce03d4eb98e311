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

package recovery

import (
	"testing"

	"github.com/nsec/v8rand/boundsbits"
	"github.com/nsec/v8rand/mathrandom"
	"github.com/nsec/v8rand/xs128"
)

// replay drives g through n Next() calls and returns the resulting doubles.
func replay(g *mathrandom.Generator, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}

func TestFromDoublesRecoversTrueSeed(t *testing.T) {
	truth := &mathrandom.Generator{S0: 0x0ddc0ffeebadf00d, S1: 0x1234567890abcdef, CacheIdx: -1}
	leaked := replay(truth, 4)
	predicted := replay(truth, 5)

	stream, err := FromDoubles(leaked, Options{})
	if err != nil {
		t.Fatalf("FromDoubles: %v", err)
	}

	found := false
	stream.Each(func(g *mathrandom.Generator) bool {
		got := replay(g, 4)
		match := true
		for i := range got {
			if got[i] != leaked[i] {
				match = false
				break
			}
		}
		if !match {
			return true
		}
		gotNext := replay(g, 5)
		for i := range gotNext {
			if gotNext[i] != predicted[i] {
				t.Fatalf("candidate reproduced leaks but predicted[%d] = %v, want %v", i, gotNext[i], predicted[i])
			}
		}
		found = true
		return false
	})
	if !found {
		t.Fatal("no candidate reproduced the leaked doubles")
	}
}

func TestFromDoublesScatteredPositions(t *testing.T) {
	truth := &mathrandom.Generator{S0: 0xfeedfacecafebeef, S1: 0x0101020305080d15, CacheIdx: -1}
	all := replay(truth, 10)
	positions := []int{0, 4, 5, 9}
	leaked := make([]float64, len(positions))
	for i, p := range positions {
		leaked[i] = all[p]
	}

	stream, err := FromDoubles(leaked, Options{Positions: positions})
	if err != nil {
		t.Fatalf("FromDoubles: %v", err)
	}

	found := false
	stream.Each(func(g *mathrandom.Generator) bool {
		got := replay(g, 10)
		for i := range got {
			if got[i] != all[i] {
				return true
			}
		}
		found = true
		return false
	})
	if !found {
		t.Fatal("no candidate reproduced the full ten-value sequence")
	}
}

func TestFromScaledRecoversSeed(t *testing.T) {
	const factor = 36
	const translation = 1
	truth := &mathrandom.Generator{S0: 0x00ff00ff00ff00ff, S1: 0xff00ff00ff00ff00, CacheIdx: -1}

	const n = 20
	doubles := replay(truth, n)
	scaled := make([]uint64, n)
	for i, d := range doubles {
		scaled[i] = uint64(int64(d*factor) + translation)
	}

	stream, err := FromScaled(scaled, factor, translation, Options{})
	if err != nil {
		t.Fatalf("FromScaled: %v", err)
	}

	found := false
	stream.Each(func(g *mathrandom.Generator) bool {
		got := replay(g, n)
		for i := range got {
			gotScaled := uint64(int64(got[i]*factor) + translation)
			if gotScaled != scaled[i] {
				return true
			}
		}
		found = true
		return false
	})
	if !found {
		t.Fatal("no candidate reproduced the scaled sequence")
	}
}

func TestFromBoundsRecoversSeed(t *testing.T) {
	truth := &mathrandom.Generator{S0: 0xaabbccddeeff0011, S1: 0x1122334455667788, CacheIdx: -1}
	const n = 4
	doubles := replay(truth, n)
	bounds := make([][2]float64, n)
	const width = 1.0 / 1024
	for i, d := range doubles {
		lo := d - width/2
		hi := d + width/2
		if lo < 0 {
			lo = 0
		}
		if hi > 1 {
			hi = 1
		}
		bounds[i] = [2]float64{lo, hi}
	}

	stream, err := FromBounds(bounds, Options{})
	if err != nil {
		t.Fatalf("FromBounds: %v", err)
	}

	found := false
	stream.Each(func(g *mathrandom.Generator) bool {
		got := replay(g, n)
		for i := range got {
			if got[i] < bounds[i][0] || got[i] > bounds[i][1] {
				return true
			}
		}
		found = true
		return false
	})
	if !found {
		t.Fatal("no candidate satisfied the bounds sequence")
	}
}

func TestFromKnownBitsContiguous18BitsSkippingOne(t *testing.T) {
	const (
		n     = 8
		skip  = 3 // one output contributes no known bits at all
		loBit = 20
		hiBit = loBit + 18 // 18 contiguous bits: [loBit, hiBit)
	)

	s0, s1 := uint64(0xdeadbeef12345678), uint64(0x0f0f0f0f0f0f0f0f)
	var states [n]uint64
	for i := 0; i < n; i++ {
		s0, s1 = xs128.Step(s0, s1)
		states[i] = s0
	}

	knownBits := make([]boundsbits.KnownBits, n)
	for i, state := range states {
		var kb boundsbits.KnownBits
		if i != skip {
			for bit := loBit; bit < hiBit; bit++ {
				if (state>>uint(bit))&1 == 1 {
					kb[bit] = boundsbits.BitOne
				} else {
					kb[bit] = boundsbits.BitZero
				}
			}
		}
		knownBits[i] = kb
	}

	stream := FromKnownBits(knownBits, Options{})

	found := false
	stream.Each(func(g *mathrandom.Generator) bool {
		for i, want := range states {
			got := boundsbits.DoubleToState(g.Next())
			mask := uint64(1)<<uint(hiBit) - uint64(1)<<uint(loBit)
			if i != skip && got&mask != want&mask {
				return true
			}
		}
		found = true
		return false
	})
	if !found {
		t.Fatal("no candidate matched the 18-contiguous-bit observations")
	}
}

func TestEachRespectsMaxCandidates(t *testing.T) {
	truth := &mathrandom.Generator{S0: 1, S1: 2, CacheIdx: -1}
	leaked := replay(truth, 1) // deliberately under-determined: many candidates

	stream, err := FromDoubles(leaked, Options{MaxCandidates: 3})
	if err != nil {
		t.Fatalf("FromDoubles: %v", err)
	}
	count := 0
	stream.Each(func(g *mathrandom.Generator) bool {
		count++
		return true
	})
	if count > 3 {
		t.Fatalf("Each yielded %d candidates, want at most 3", count)
	}
}
