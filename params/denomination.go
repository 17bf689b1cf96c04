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

package params

// These are the multipliers for AGIALPHA token denominations.
// Example: To get the grain value of an amount in whole tokens, use
//
//	new(big.Int).Mul(value, big.NewInt(params.Token))
//
const (
	Grain = 1
	Token = 1_000_000 // 1e6 grains = 1 AGIALPHA
)

// AGIALPHA token metadata. The settlement token carries six decimals of
// precision; every amount in the protocol is denominated in grains.
const (
	TokenName     = "AGI ALPHA"
	TokenSymbol   = "AGIALPHA"
	TokenDecimals = 6
)
