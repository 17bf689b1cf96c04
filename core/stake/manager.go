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

// Package stake implements the collateral ledger of the labor market.
// Participants deposit the settlement token against a role; deposits are
// parked under the escrow account and tracked per (address, role). Job
// collateral is locked out of the free portion for the duration of an
// assignment and either released or slashed at settlement.
package stake

import (
	"errors"
	"math/big"

	log "gopkg.in/inconshreveable/log15.v2"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/state"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/types"
	"github.com/MontrealAI/AGIJobsv0-sub011/params"
)

var (
	// ErrNegativeAmount is returned when an operation is given a negative
	// token amount.
	ErrNegativeAmount = errors.New("negative token amount")
	// ErrZeroAmount is returned when an operation requires a positive amount.
	ErrZeroAmount = errors.New("zero token amount")
	// ErrBelowMinimum is returned when a deposit would leave the stake below
	// the role minimum.
	ErrBelowMinimum = errors.New("stake below role minimum")
	// ErrStakeCapExceeded is returned when a deposit would push the stake
	// above the per-address cap.
	ErrStakeCapExceeded = errors.New("stake above per-address cap")
	// ErrBlacklisted is returned when a blacklisted participant attempts to
	// deposit.
	ErrBlacklisted = errors.New("participant is blacklisted")
	// ErrInsufficientFreeStake is returned when an operation needs more
	// unlocked stake than the participant holds.
	ErrInsufficientFreeStake = errors.New("insufficient free stake")
	// ErrWithdrawalPending is returned when an unstake is initiated while a
	// previous one is still queued.
	ErrWithdrawalPending = errors.New("withdrawal already pending")
	// ErrNoWithdrawal is returned by Withdraw when nothing is queued.
	ErrNoWithdrawal = errors.New("no pending withdrawal")
	// ErrCooldownActive is returned by Withdraw before the cooldown elapses.
	ErrCooldownActive = errors.New("unstake cooldown has not elapsed")
	// ErrResidualBelowMinimum is returned when a partial unstake would leave
	// a nonzero stake below the role minimum.
	ErrResidualBelowMinimum = errors.New("residual stake below role minimum")
)

// Blacklist answers whether a participant is barred from a role. The
// reputation engine provides the production implementation.
type Blacklist interface {
	IsBlacklisted(addr common.Address, role common.Role) bool
}

// Manager is the collateral ledger service. Privileged entrypoints (Lock,
// Release, Pay, Slash, LockFunds) verify that the originating caller holds
// the controller permission; everything else is open to participants.
type Manager struct {
	state     *state.StateDB
	token     Token
	config    *params.ProtocolConfig
	perms     *common.PermissionTable
	blacklist Blacklist
	logger    log.Logger
}

// NewManager wires the stake ledger over a state database. The blacklist may
// be nil, in which case the deposit gate is disabled.
func NewManager(st *state.StateDB, token Token, config *params.ProtocolConfig, perms *common.PermissionTable, blacklist Blacklist) *Manager {
	return &Manager{
		state:     st,
		token:     token,
		config:    config,
		perms:     perms,
		blacklist: blacklist,
		logger:    log.New("module", "stake"),
	}
}

// SetBlacklist installs the blacklist consulted on deposit. It exists to
// break the construction cycle with the reputation engine.
func (m *Manager) SetBlacklist(b Blacklist) { m.blacklist = b }

// Deposit moves amount from the participant's token balance into escrowed
// stake for the given role. The resulting stake must meet the role minimum
// and stay under the per-address cap, and blacklisted participants are
// refused.
func (m *Manager) Deposit(addr common.Address, role common.Role, amount *big.Int) error {
	if err := checkPositive(amount); err != nil {
		return err
	}
	if m.blacklist != nil && m.blacklist.IsBlacklisted(addr, role) {
		return ErrBlacklisted
	}
	before := m.state.StakeAmount(addr, role)
	after := new(big.Int).Add(before, amount)
	if after.Cmp(m.config.MinStakeFor(role)) < 0 {
		return ErrBelowMinimum
	}
	if cap := m.config.MaxStakePerAddress; cap > 0 && after.Cmp(new(big.Int).SetUint64(cap)) > 0 {
		return ErrStakeCapExceeded
	}
	if err := m.token.Transfer(addr, params.EscrowAddress, amount); err != nil {
		return err
	}
	m.state.AddStakeAmount(addr, role, amount)
	m.state.AddLog(types.NewLog(types.LogStakeDeposited, 0,
		"address", addr, "role", role, "amount", amount, "before", before, "after", after))
	m.logger.Debug("stake deposited", "address", addr, "role", role, "amount", amount)
	return nil
}

// InitiateUnstake starts the withdrawal of amount from the free portion of a
// stake. With a zero cooldown the tokens are paid out immediately; otherwise
// the amount is queued and becomes withdrawable once the cooldown elapses.
// A partial unstake may not leave a nonzero stake below the role minimum.
func (m *Manager) InitiateUnstake(addr common.Address, role common.Role, amount *big.Int, now uint64) error {
	if err := checkPositive(amount); err != nil {
		return err
	}
	if pending, _ := m.state.PendingWithdrawal(addr, role); pending.Sign() > 0 {
		return ErrWithdrawalPending
	}
	if m.state.StakeFree(addr, role).Cmp(amount) < 0 {
		return ErrInsufficientFreeStake
	}
	residual := new(big.Int).Sub(m.state.StakeAmount(addr, role), amount)
	if residual.Sign() > 0 && residual.Cmp(m.config.MinStakeFor(role)) < 0 {
		return ErrResidualBelowMinimum
	}
	if m.config.UnstakeCooldown == 0 {
		return m.payOut(addr, role, amount)
	}
	release := now + m.config.UnstakeCooldown
	m.state.SetPendingWithdrawal(addr, role, amount, release)
	m.state.AddLog(types.NewLog(types.LogUnstakeQueued, 0,
		"address", addr, "role", role, "amount", amount, "release", release))
	m.logger.Debug("unstake queued", "address", addr, "role", role, "amount", amount, "release", release)
	return nil
}

// Withdraw completes a queued unstake after its cooldown has elapsed. The
// queue entry is cleared only once the payout went through, so a refused
// transfer leaves the withdrawal retryable.
func (m *Manager) Withdraw(addr common.Address, role common.Role, now uint64) error {
	pending, release := m.state.PendingWithdrawal(addr, role)
	if pending.Sign() == 0 {
		return ErrNoWithdrawal
	}
	if now < release {
		return ErrCooldownActive
	}
	if err := m.payOut(addr, role, pending); err != nil {
		return err
	}
	m.state.SetPendingWithdrawal(addr, role, new(big.Int), 0)
	return nil
}

// payOut moves amount of stake back into the participant's token balance.
// The escrow transfer runs before the stake entry is touched: a refused
// payout must leave the ledger unchanged.
func (m *Manager) payOut(addr common.Address, role common.Role, amount *big.Int) error {
	before := m.state.StakeAmount(addr, role)
	if before.Cmp(amount) < 0 {
		return ErrInsufficientFreeStake
	}
	if err := m.token.Transfer(params.EscrowAddress, addr, amount); err != nil {
		return err
	}
	if err := m.state.SubStakeAmount(addr, role, amount); err != nil {
		return err
	}
	m.state.AddLog(types.NewLog(types.LogStakeWithdrawn, 0,
		"address", addr, "role", role, "amount", amount,
		"before", before, "after", m.state.StakeAmount(addr, role)))
	m.logger.Debug("stake withdrawn", "address", addr, "role", role, "amount", amount)
	return nil
}

// Lock reserves amount of free stake as collateral for an assignment.
// Controller-only.
func (m *Manager) Lock(origin, addr common.Address, role common.Role, amount *big.Int, jobID uint64) error {
	if err := m.perms.Require(origin, common.PermissionController); err != nil {
		return err
	}
	if err := checkPositive(amount); err != nil {
		return err
	}
	if m.state.StakeFree(addr, role).Cmp(amount) < 0 {
		return ErrInsufficientFreeStake
	}
	m.state.AddStakeLocked(addr, role, amount)
	m.state.AddLog(types.NewLog(types.LogStakeLocked, jobID,
		"address", addr, "role", role, "amount", amount, "locked", m.state.StakeLocked(addr, role)))
	return nil
}

// Release returns previously locked collateral to the free portion.
// Controller-only.
func (m *Manager) Release(origin, addr common.Address, role common.Role, amount *big.Int, jobID uint64) error {
	if err := m.perms.Require(origin, common.PermissionController); err != nil {
		return err
	}
	if amount.Sign() == 0 {
		return nil
	}
	if err := m.state.SubStakeLocked(addr, role, amount); err != nil {
		return err
	}
	m.state.AddLog(types.NewLog(types.LogStakeReleased, jobID,
		"address", addr, "role", role, "amount", amount, "locked", m.state.StakeLocked(addr, role)))
	return nil
}

// Slash removes amount from a participant's stake and routes the tokens to
// the recipient. The amount is clamped to the role's slash percentage cap of
// the current stake so that settlement can never be blocked by an over-ask;
// locked collateral is consumed before free stake. Controller-only.
func (m *Manager) Slash(origin, addr common.Address, role common.Role, amount *big.Int, recipient common.Address, jobID uint64) error {
	if err := m.perms.Require(origin, common.PermissionController); err != nil {
		return err
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	before := m.state.StakeAmount(addr, role)
	maxSlash := new(big.Int).Mul(before, new(big.Int).SetUint64(m.config.MaxSlashPct[role]))
	maxSlash.Div(maxSlash, big.NewInt(100))
	slash := new(big.Int).Set(amount)
	if slash.Cmp(maxSlash) > 0 {
		m.logger.Warn("slash clamped to role cap", "address", addr, "role", role,
			"requested", amount, "clamped", maxSlash)
		slash.Set(maxSlash)
	}
	if slash.Sign() == 0 {
		return nil
	}
	if locked := m.state.StakeLocked(addr, role); locked.Sign() > 0 {
		consume := new(big.Int).Set(slash)
		if consume.Cmp(locked) > 0 {
			consume.Set(locked)
		}
		if err := m.state.SubStakeLocked(addr, role, consume); err != nil {
			return err
		}
	}
	if err := m.state.SubStakeAmount(addr, role, slash); err != nil {
		return err
	}
	// A queued withdrawal may not exceed what the slash left unlocked.
	if pending, release := m.state.PendingWithdrawal(addr, role); pending.Sign() > 0 {
		capacity := new(big.Int).Sub(m.state.StakeAmount(addr, role), m.state.StakeLocked(addr, role))
		if capacity.Sign() < 0 {
			capacity.SetInt64(0)
		}
		if pending.Cmp(capacity) > 0 {
			if capacity.Sign() == 0 {
				release = 0
			}
			m.state.SetPendingWithdrawal(addr, role, capacity, release)
		}
	}
	if err := m.token.Transfer(params.EscrowAddress, recipient, slash); err != nil {
		return err
	}
	m.state.AddLog(types.NewLog(types.LogStakeSlashed, jobID,
		"address", addr, "role", role, "amount", slash, "recipient", recipient,
		"before", before, "after", m.state.StakeAmount(addr, role)))
	m.logger.Info("stake slashed", "address", addr, "role", role, "amount", slash, "recipient", recipient)
	return nil
}

// LockFunds moves amount from a participant's token balance into escrow,
// funding a job's reward and fee. Controller-only.
func (m *Manager) LockFunds(origin, from common.Address, amount *big.Int, jobID uint64) error {
	if err := m.perms.Require(origin, common.PermissionController); err != nil {
		return err
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if err := m.token.Transfer(from, params.EscrowAddress, amount); err != nil {
		return err
	}
	m.state.AddLog(types.NewLog(types.LogEscrowFunded, jobID, "from", from, "amount", amount))
	return nil
}

// Pay moves amount out of escrow to a recipient. Controller-only.
func (m *Manager) Pay(origin, to common.Address, amount *big.Int, jobID uint64) error {
	if err := m.perms.Require(origin, common.PermissionController); err != nil {
		return err
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if err := m.token.Transfer(params.EscrowAddress, to, amount); err != nil {
		return err
	}
	m.state.AddLog(types.NewLog(types.LogEscrowPaid, jobID, "to", to, "amount", amount))
	return nil
}

// StakeOf returns the total and locked stake of a participant in a role.
func (m *Manager) StakeOf(addr common.Address, role common.Role) (total, locked *big.Int) {
	return m.state.StakeAmount(addr, role), m.state.StakeLocked(addr, role)
}

// FreeStakeOf returns the unlocked, non-queued portion of a stake.
func (m *Manager) FreeStakeOf(addr common.Address, role common.Role) *big.Int {
	return m.state.StakeFree(addr, role)
}

// HasMinStake reports whether a participant meets the current role minimum.
func (m *Manager) HasMinStake(addr common.Address, role common.Role) bool {
	return m.state.StakeAmount(addr, role).Cmp(m.config.MinStakeFor(role)) >= 0
}

func checkPositive(amount *big.Int) error {
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	if amount.Sign() == 0 {
		return ErrZeroAmount
	}
	return nil
}
