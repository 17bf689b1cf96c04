// Copyright 2025 The AGIJobs Authors
// This file is part of the agijobs library.
//
// The agijobs library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The agijobs library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the agijobs library. If not, see <http://www.gnu.org/licenses/>.

// Package fixed implements unsigned fixed-point arithmetic with 18 decimals
// of precision (WAD scaling), including a software exponential used by the
// reputation decay math.
package fixed

import (
	"github.com/holiman/uint256"
)

// One is the WAD scaling factor: fixed-point 1.0.
const One = 1e18

// Ln2 is ln(2) in WAD scaling.
const Ln2 = 693147180559945309

// maxHalvings bounds the range reduction. Beyond 2^-256 the result is zero
// in WAD scaling anyway.
const maxHalvings = 256

// taylorTerms is the number of series terms evaluated for the fractional
// remainder. The remainder is below ln(2), so the series converges well
// within this bound at WAD precision.
const taylorTerms = 32

var (
	wad   = uint256.NewInt(One)
	ln2   = uint256.NewInt(Ln2)
	uZero = uint256.NewInt(0)
)

// ExpNeg returns e^(-x) in WAD scaling for a non-negative WAD-scaled x.
//
// The argument is range-reduced as x = n*ln2 + r with r < ln2, so that
// e^-x = 2^-n * e^-r, and e^-r is evaluated by its Taylor series with the
// positive and negative terms accumulated separately to stay unsigned.
func ExpNeg(x *uint256.Int) *uint256.Int {
	n := new(uint256.Int).Div(x, ln2)
	if !n.IsUint64() || n.Uint64() >= maxHalvings {
		return uint256.NewInt(0)
	}
	r := new(uint256.Int).Mod(x, ln2)

	term := new(uint256.Int).Set(wad) // term_i = r^i / i!
	pos := new(uint256.Int).Set(wad)  // even terms, includes term_0 = 1
	neg := new(uint256.Int)           // odd terms
	div := new(uint256.Int)
	for i := uint64(1); i <= taylorTerms; i++ {
		term.Mul(term, r)
		div.Mul(wad, uint256.NewInt(i))
		term.Div(term, div)
		if term.IsZero() {
			break
		}
		if i%2 == 1 {
			neg.Add(neg, term)
		} else {
			pos.Add(pos, term)
		}
	}
	res := new(uint256.Int).Sub(pos, neg)
	return res.Rsh(res, uint(n.Uint64()))
}

// MulWad returns a*b/One, rounding down.
func MulWad(a, b *uint256.Int) *uint256.Int {
	res := new(uint256.Int).Mul(a, b)
	return res.Div(res, wad)
}

// FromUint64 lifts an integer into WAD scaling.
func FromUint64(v uint64) *uint256.Int {
	res := uint256.NewInt(v)
	return res.Mul(res, wad)
}

// ScaleUint64 multiplies the integer v by the WAD-scaled factor f, rounding
// down, and reports the result as a plain integer. The factor must not
// exceed 1.0.
func ScaleUint64(v uint64, f *uint256.Int) uint64 {
	if f.Cmp(wad) > 0 {
		f = wad
	}
	res := uint256.NewInt(v)
	res.Mul(res, f)
	res.Div(res, wad)
	return res.Uint64()
}

// IsZero reports whether the WAD value is zero.
func IsZero(v *uint256.Int) bool { return v.Eq(uZero) }
