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

// Package reputation implements the scoring ledger of the labor market.
// Scores decay exponentially over time and grow with diminishing returns
// toward a configurable ceiling, so that sustained good work is required to
// hold a high score and no single job can dominate it. Participants whose
// score drops below the role threshold on a penalty are blacklisted until
// the score recovers.
package reputation

import (
	"errors"
	"math/big"

	"github.com/holiman/uint256"
	log "gopkg.in/inconshreveable/log15.v2"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/common/fixed"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/state"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/types"
	"github.com/MontrealAI/AGIJobsv0-sub011/params"
)

var (
	// ErrUnauthorizedMutation is returned when a caller tries to mutate
	// scores of a role it is not authorized for.
	ErrUnauthorizedMutation = errors.New("caller not authorized for role scores")
	// ErrBlacklisted is returned by OnApply for blacklisted participants.
	ErrBlacklisted = errors.New("participant is blacklisted")
)

// Engine is the reputation service. Mutations are gated by a caller table
// scoped per role: the module identity that settles agent work may not touch
// validator scores, and vice versa.
type Engine struct {
	state   *state.StateDB
	config  *params.ProtocolConfig
	callers map[common.Address][common.NumRoles]bool
	logger  log.Logger
}

// NewEngine wires the reputation ledger over a state database.
func NewEngine(st *state.StateDB, config *params.ProtocolConfig) *Engine {
	return &Engine{
		state:   st,
		config:  config,
		callers: make(map[common.Address][common.NumRoles]bool),
		logger:  log.New("module", "reputation"),
	}
}

// Authorize permits a caller identity to mutate scores of the given role.
func (e *Engine) Authorize(caller common.Address, role common.Role) {
	roles := e.callers[caller]
	roles[role] = true
	e.callers[caller] = roles
}

// Deauthorize revokes a caller's access to scores of the given role.
func (e *Engine) Deauthorize(caller common.Address, role common.Role) {
	roles, ok := e.callers[caller]
	if !ok {
		return
	}
	roles[role] = false
	e.callers[caller] = roles
}

func (e *Engine) requireCaller(origin common.Address, role common.Role) error {
	if roles, ok := e.callers[origin]; ok && roles[role] {
		return nil
	}
	return ErrUnauthorizedMutation
}

// decayed returns the current score after exponential decay since the last
// persisted update. Pure read, nothing is written back.
func (e *Engine) decayed(addr common.Address, role common.Role, now uint64) uint64 {
	score, updated := e.state.Reputation(addr, role)
	if score == 0 || now <= updated {
		return score
	}
	dt := now - updated
	x := new(uint256.Int).Mul(uint256.NewInt(e.config.ReputationDecay), uint256.NewInt(dt))
	return fixed.ScaleUint64(score, fixed.ExpNeg(x))
}

// ReputationOf returns the decayed score at the given time without touching
// the ledger.
func (e *Engine) ReputationOf(addr common.Address, role common.Role, now uint64) uint64 {
	return e.decayed(addr, role, now)
}

// IsBlacklisted reports whether a participant is barred from a role. It
// satisfies the deposit gate of the stake ledger.
func (e *Engine) IsBlacklisted(addr common.Address, role common.Role) bool {
	return e.state.Blacklisted(addr, role)
}

// grow maps a raw post-gain score onto the diminishing-returns curve
// raw / (1 + raw^2/cap^2), clamped to the ceiling. Computed in big integers
// so the intermediate products cannot overflow.
func (e *Engine) grow(raw uint64) uint64 {
	cap2 := new(big.Int).SetUint64(e.config.MaxReputation)
	cap2.Mul(cap2, cap2)
	r := new(big.Int).SetUint64(raw)
	num := new(big.Int).Mul(r, cap2)
	den := new(big.Int).Add(cap2, new(big.Int).Mul(r, r))
	out := num.Div(num, den).Uint64()
	if out > e.config.MaxReputation {
		out = e.config.MaxReputation
	}
	return out
}

// Add credits points to a score. The current score is decayed to now, the
// points are applied through the diminishing-returns curve, and a recovery
// above the role threshold clears the blacklist flag.
func (e *Engine) Add(origin, addr common.Address, role common.Role, points uint64, now uint64) error {
	if err := e.requireCaller(origin, role); err != nil {
		return err
	}
	before := e.decayed(addr, role, now)
	after := e.grow(before + points)
	if after < before {
		after = before
	}
	e.state.SetReputation(addr, role, after, now)
	e.state.AddLog(types.NewLog(types.LogRepChanged, 0,
		"address", addr, "role", role, "delta", points, "before", before, "after", after))
	e.refreshBlacklist(addr, role, after, false)
	return nil
}

// Subtract debits points from a score, flooring at zero. A score landing
// below the role threshold blacklists the participant.
func (e *Engine) Subtract(origin, addr common.Address, role common.Role, points uint64, now uint64) error {
	if err := e.requireCaller(origin, role); err != nil {
		return err
	}
	before := e.decayed(addr, role, now)
	after := uint64(0)
	if before > points {
		after = before - points
	}
	e.state.SetReputation(addr, role, after, now)
	e.state.AddLog(types.NewLog(types.LogRepChanged, 0,
		"address", addr, "role", role, "delta", -int64(points), "before", before, "after", after))
	e.refreshBlacklist(addr, role, after, true)
	return nil
}

// refreshBlacklist applies the threshold rule after a mutation. The flag is
// only ever set on a penalty; growth and decay alone never blacklist.
func (e *Engine) refreshBlacklist(addr common.Address, role common.Role, score uint64, penalty bool) {
	threshold := e.config.BlacklistThreshold[role]
	listed := e.state.Blacklisted(addr, role)
	switch {
	case penalty && !listed && score < threshold:
		e.state.SetBlacklisted(addr, role, true)
		e.state.AddLog(types.NewLog(types.LogBlacklist, 0,
			"address", addr, "role", role, "blacklisted", true, "score", score))
		e.logger.Info("participant blacklisted", "address", addr, "role", role, "score", score)
	case listed && score >= threshold:
		e.state.SetBlacklisted(addr, role, false)
		e.state.AddLog(types.NewLog(types.LogBlacklist, 0,
			"address", addr, "role", role, "blacklisted", false, "score", score))
	}
}

// SetBlacklist force-sets the blacklist flag, bypassing the threshold rule.
// Reserved for the dispute arbiter; the caller must be authorized for the
// role.
func (e *Engine) SetBlacklist(origin, addr common.Address, role common.Role, blacklisted bool) error {
	if err := e.requireCaller(origin, role); err != nil {
		return err
	}
	if e.state.Blacklisted(addr, role) == blacklisted {
		return nil
	}
	e.state.SetBlacklisted(addr, role, blacklisted)
	e.state.AddLog(types.NewLog(types.LogBlacklist, 0,
		"address", addr, "role", role, "blacklisted", blacklisted))
	return nil
}

// OnApply is the assignment hook: it persists the decayed score so the
// assignment is judged against fresh numbers and refuses blacklisted
// participants.
func (e *Engine) OnApply(origin, addr common.Address, role common.Role, now uint64) error {
	if err := e.requireCaller(origin, role); err != nil {
		return err
	}
	if e.state.Blacklisted(addr, role) {
		return ErrBlacklisted
	}
	e.state.SetReputation(addr, role, e.decayed(addr, role, now), now)
	return nil
}

// OnFinalize is the settlement hook: on success the participant earns the
// payout- and punctuality-derived points, on failure a penalty of the same
// magnitude is debited.
func (e *Engine) OnFinalize(origin, addr common.Address, role common.Role, success bool, payout *big.Int, createdAt, deadline, finishedAt uint64) error {
	points := e.PointsFor(payout, createdAt, deadline, finishedAt)
	if success {
		return e.Add(origin, addr, role, points, finishedAt)
	}
	return e.Subtract(origin, addr, role, points, finishedAt)
}

// PointsFor computes the reputation value of a job: a component logarithmic
// in the payout (measured in whole tokens) plus a linear early-completion
// bonus. Deterministic in its arguments.
func (e *Engine) PointsFor(payout *big.Int, createdAt, deadline, finishedAt uint64) uint64 {
	wholeTokens := new(big.Int).Div(payout, new(big.Int).SetUint64(params.Token))
	points := e.config.PayoutPointWeight * uint64(wholeTokens.BitLen())

	if deadline > finishedAt && deadline > createdAt {
		// Linear in the unused fraction of the allotted time.
		window := deadline - createdAt
		points += e.config.DurationBonusMax * (deadline - finishedAt) / window
	}
	return points
}
