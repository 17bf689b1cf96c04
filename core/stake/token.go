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

package stake

import (
	"math/big"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/state"
)

// Token is the settlement asset of the protocol. Implementations must be
// conservative: a Transfer either moves the full amount or returns an error
// and moves nothing.
type Token interface {
	Transfer(from, to common.Address, amount *big.Int) error
	BalanceOf(addr common.Address) *big.Int
}

// LedgerToken settles transfers directly against ledger balances. It is the
// in-protocol representation of the staking token; external custody is out of
// scope and deposits are assumed already credited.
type LedgerToken struct {
	state *state.StateDB
}

// NewLedgerToken wraps a state database as the settlement token.
func NewLedgerToken(st *state.StateDB) *LedgerToken {
	return &LedgerToken{state: st}
}

// Transfer moves amount from one ledger account to another. Transfers of
// zero are a no-op; a negative amount or insufficient balance is an error.
func (t *LedgerToken) Transfer(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := t.state.SubBalance(from, amount); err != nil {
		return err
	}
	t.state.AddBalance(to, amount)
	return nil
}

// BalanceOf returns the free token balance of an account.
func (t *LedgerToken) BalanceOf(addr common.Address) *big.Int {
	return t.state.GetBalance(addr)
}
