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

// Package params holds the externally tunable protocol parameters together
// with the well-known special accounts of the settlement ledger.
package params

import (
	"errors"
	"math/big"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
)

// Special accounts of the protocol ledger. Escrowed value is not tracked as
// free-floating balances: job rewards, stakes and bonds are parked under the
// escrow account until settlement routes them onward.
var (
	// EscrowAddress holds locked job rewards, staked collateral and
	// dispute/challenge bonds.
	EscrowAddress = common.HexToAddress("0x000000000000000000000000000000004a6f6245")
	// FeePoolAddress accumulates the protocol's cut of each successful job.
	FeePoolAddress = common.HexToAddress("0x0000000000000000000000000000000046656550")
	// RegistryAddress is the caller identity of the job registry when it
	// invokes privileged ledger entrypoints.
	RegistryAddress = common.HexToAddress("0x0000000000000000000000000000000052656779")
	// DisputeAddress is the caller identity of the dispute resolver.
	DisputeAddress = common.HexToAddress("0x0000000000000000000000000000000044697370")
)

// ProtocolConfig are the owner-tunable parameters of the labor-market
// protocol. Every field may be changed between calls; modules read current
// values and never cache them across operations.
type ProtocolConfig struct {
	// FeePct is the protocol cut of each job reward, in whole percent.
	FeePct uint64

	// MinStake is the minimum deposit per role, in grains, indexed by
	// common.Role. Deposits below the role minimum are rejected.
	MinStake [common.NumRoles]uint64

	// MaxStakePerAddress caps the aggregate stake a single address may hold
	// in one role, in grains. Zero disables the cap.
	MaxStakePerAddress uint64

	// MaxSlashPct caps, per role, the percentage of a stake a single slash
	// may remove.
	MaxSlashPct [common.NumRoles]uint64

	// UnstakeCooldown is the delay in seconds between initiating an unstake
	// and the funds becoming withdrawable. Zero enables direct withdrawal.
	UnstakeCooldown uint64

	// CommitWindow and RevealWindow are the lengths in seconds of the two
	// phases of a validation round.
	CommitWindow uint64
	RevealWindow uint64

	// ValidationQuorum is the minimum number of revealed approvals required
	// for a round to certify success.
	ValidationQuorum uint64

	// ChallengeWindow is the period in seconds after a round is tallied
	// during which the outcome can be challenged with a bond.
	ChallengeWindow uint64
	// ChallengeBond is the bond in grains locked by a challenger.
	ChallengeBond uint64

	// DisputeWindow is the cooling-off period in seconds between raising a
	// dispute and it becoming resolvable.
	DisputeWindow uint64
	// DisputeFee is the fee in grains locked by the dispute claimant.
	DisputeFee uint64

	// MaxReputation caps reputation scores.
	MaxReputation uint64
	// ReputationDecay is the per-second exponential decay constant of
	// reputation scores, WAD scaled (1e18 = 1.0/s).
	ReputationDecay uint64
	// BlacklistThreshold is the per-role score below which a penalized
	// participant is blacklisted.
	BlacklistThreshold [common.NumRoles]uint64
	// DisputeRepReward and DisputeRepPenalty are the reputation adjustments
	// applied to the winner and loser of a resolved dispute.
	DisputeRepReward  uint64
	DisputeRepPenalty uint64
	// PayoutPointWeight scales the logarithmic payout component of the
	// reputation gained per successful job.
	PayoutPointWeight uint64
	// DurationBonusMax is the maximum early-completion reputation bonus.
	DurationBonusMax uint64
}

// DefaultConfig are the protocol parameters used when no overrides are
// supplied. The reputation decay constant corresponds to a score half-life
// of roughly 180 days.
var DefaultConfig = ProtocolConfig{
	FeePct:             5,
	MinStake:           [common.NumRoles]uint64{100 * Token, 1000 * Token, 0, 0},
	MaxStakePerAddress: 0,
	MaxSlashPct:        [common.NumRoles]uint64{100, 50, 25, 0},
	UnstakeCooldown:    0,
	CommitWindow:       3600,
	RevealWindow:       3600,
	ValidationQuorum:   1,
	ChallengeWindow:    1800,
	ChallengeBond:      50 * Token,
	DisputeWindow:      86400,
	DisputeFee:         10 * Token,
	MaxReputation:      88888,
	ReputationDecay:    44_569_000_000, // ln2 / 180d, WAD scaled
	BlacklistThreshold: [common.NumRoles]uint64{100, 100, 0, 0},
	DisputeRepReward:   250,
	DisputeRepPenalty:  500,
	PayoutPointWeight:  50,
	DurationBonusMax:   500,
}

var (
	errFeePct   = errors.New("fee percentage above 100")
	errSlashPct = errors.New("slash percentage cap above 100")
	errWindows  = errors.New("validation windows must be positive")
)

// Check validates the internal consistency of the configuration.
func (c *ProtocolConfig) Check() error {
	if c.FeePct > 100 {
		return errFeePct
	}
	for _, pct := range c.MaxSlashPct {
		if pct > 100 {
			return errSlashPct
		}
	}
	if c.CommitWindow == 0 || c.RevealWindow == 0 {
		return errWindows
	}
	return nil
}

// FeeFor computes the protocol fee for a reward, in grains.
func (c *ProtocolConfig) FeeFor(reward *big.Int) *big.Int {
	fee := new(big.Int).Mul(reward, new(big.Int).SetUint64(c.FeePct))
	return fee.Div(fee, big.NewInt(100))
}

// MinStakeFor returns the minimum deposit for a role as a big integer.
func (c *ProtocolConfig) MinStakeFor(role common.Role) *big.Int {
	return new(big.Int).SetUint64(c.MinStake[role])
}
