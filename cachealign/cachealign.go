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

// Package cachealign remaps Math.random() call positions into xs128
// emission order. V8 refills its 64-value cache by running xs128 64 times
// and then hands values out in LIFO order, so the call that consumed the
// i-th xs128 step of a given refill is not the i-th call after that refill
// -- it's the (63-i)-th. The starting cache index at the first observed
// call is unknown, so the recovery driver tries every possibility.
package cachealign

import "github.com/nsec/v8rand/boundsbits"

// CacheSize is the number of xs128 outputs V8 caches per refill.
const CacheSize = 64

// Remap returns, for one guess of the cache index in effect at the first
// xs128 step considered, the sequence of KnownBits in xs128 emission order:
// index i of the result is the known bits of the i-th xs128 output since
// the refill preceding the first observation, or all-unknown if no
// observation covers that call position.
//
// maxPos must be the largest key present in obs (the highest observed call
// position); the scan runs far enough past it to cover the refill that
// produced it.
func Remap(obs map[int]boundsbits.KnownBits, maxPos int, cacheIdx int) []boundsbits.KnownBits {
	total := CacheSize * (maxPos/CacheSize + 2)
	out := make([]boundsbits.KnownBits, total)
	for i := 0; i < total; i++ {
		cacheN := i / CacheSize
		valueIndex := cacheN*CacheSize + cacheIdx - (i % CacheSize)
		if kb, ok := obs[valueIndex]; ok {
			out[i] = kb
		} else {
			out[i] = boundsbits.AllUnknown()
		}
	}
	return out
}
