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

// Package gf2 solves systems of linear equations over GF(2) using bit-packed
// Gauss-Jordan elimination, producing a particular solution plus a null-space
// basis that together describe every solution of an affine system.
package gf2

import (
	"errors"
	"math/bits"

	"golang.org/x/sys/cpu"

	"github.com/nsec/v8rand/bitdeps"
)

// NumColumns is the width of the linear system: one unknown per bit of the
// 128-bit xs128 initial state.
const NumColumns = bitdeps.StateSize

// ErrNoSolution is returned when the system is inconsistent: for the
// xs128-recovery caller this means "this cache_idx guess is wrong", not a
// fatal condition.
var ErrNoSolution = errors.New("gf2: inconsistent linear system")

// Equation is a single GF(2) linear equation over the 128 initial-state
// unknowns: Coeffs . x = Result.
type Equation struct {
	Coeffs bitdeps.Mask128
	Result byte // 0 or 1
}

// Solution describes every vector x satisfying the system that produced it:
// x = Particular XOR (any XOR-combination of Kernel). Rank is the number of
// independent equations actually constraining the system (NumColumns minus
// len(Kernel)).
type Solution struct {
	Particular bitdeps.Mask128
	Kernel     []bitdeps.Mask128
	Rank       int
}

type row struct {
	c bitdeps.Mask128
	b byte
}

func (r *row) xorWith(o row) {
	r.c = r.c.Xor(o.c)
	r.b ^= o.b
}

// Solve reduces eqs to row-echelon form and returns a particular solution
// plus a basis for the homogeneous solution space (the kernel of the
// coefficient matrix). It returns ErrNoSolution if the equations are
// mutually inconsistent.
func Solve(eqs []Equation) (*Solution, error) {
	rows := make([]row, len(eqs))
	for i, eq := range eqs {
		rows[i] = row{c: eq.Coeffs, b: eq.Result}
	}

	pivotRowOf := make([]int, NumColumns) // column -> row index, or -1
	for i := range pivotRowOf {
		pivotRowOf[i] = -1
	}

	var pivotColsLo, pivotColsHi uint64
	pivotRow := 0
	for col := 0; col < NumColumns && pivotRow < len(rows); col++ {
		sel := -1
		for r := pivotRow; r < len(rows); r++ {
			if rows[r].c.Test(col) {
				sel = r
				break
			}
		}
		if sel == -1 {
			continue
		}
		rows[pivotRow], rows[sel] = rows[sel], rows[pivotRow]

		for r := range rows {
			if r != pivotRow && rows[r].c.Test(col) {
				rows[r].xorWith(rows[pivotRow])
			}
		}
		pivotRowOf[col] = pivotRow
		if col < 64 {
			pivotColsLo |= 1 << uint(col)
		} else {
			pivotColsHi |= 1 << uint(col-64)
		}
		pivotRow++
	}

	for r := pivotRow; r < len(rows); r++ {
		if rows[r].c.IsZero() && rows[r].b != 0 {
			return nil, ErrNoSolution
		}
	}

	var particular bitdeps.Mask128
	for col, r := range pivotRowOf {
		if r >= 0 && rows[r].b != 0 {
			particular = particular.Xor(bitdeps.Bit(col))
		}
	}

	var kernel []bitdeps.Mask128
	for freeCol := 0; freeCol < NumColumns; freeCol++ {
		if pivotRowOf[freeCol] != -1 {
			continue
		}
		v := bitdeps.Bit(freeCol)
		for col, r := range pivotRowOf {
			if r >= 0 && rows[r].c.Test(freeCol) {
				v = v.Xor(bitdeps.Bit(col))
			}
		}
		kernel = append(kernel, v)
	}

	return &Solution{Particular: particular, Kernel: kernel, Rank: popcount(pivotColsLo, pivotColsHi)}, nil
}

// popcount counts the set pivot-column bits across the two 64-bit halves of
// the 128-column system: use math/bits.OnesCount64 when the CPU advertises
// POPCNT, otherwise fall back to a portable clear-lowest-set-bit loop.
func popcount(lo, hi uint64) int {
	if cpu.X86.HasPOPCNT {
		return bits.OnesCount64(lo) + bits.OnesCount64(hi)
	}
	n := 0
	for _, w := range [2]uint64{lo, hi} {
		for w != 0 {
			w &= w - 1
			n++
		}
	}
	return n
}

// All enumerates every solution of the affine system: Particular XOR every
// XOR-combination of Kernel vectors. yield is called once per solution and
// enumeration stops early if yield returns false, so a caller imposing an
// external cap on the enumerated candidate count never pays for more than
// it consumes; the 2^len(Kernel) total is never precomputed or
// materialized, so an arbitrarily large kernel is safe as long as the
// caller actually stops early.
func (s *Solution) All(yield func(bitdeps.Mask128) bool) {
	var walk func(i int, acc bitdeps.Mask128) bool
	walk = func(i int, acc bitdeps.Mask128) bool {
		if i == len(s.Kernel) {
			return yield(acc)
		}
		if !walk(i+1, acc) {
			return false
		}
		return walk(i+1, acc.Xor(s.Kernel[i]))
	}
	walk(0, s.Particular)
}
