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

// Package dispute implements last-resort arbitration over contested job
// outcomes. Either party of a job locks a fee to raise a dispute; after a
// cooling-off window an authorized arbitrator rules for one side, the fee
// and any challenge bond are settled, reputations are adjusted and the job
// is pushed to its final state through the registry.
package dispute

import (
	"errors"
	"math/big"

	log "gopkg.in/inconshreveable/log15.v2"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/reputation"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/stake"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/state"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/types"
	"github.com/MontrealAI/AGIJobsv0-sub011/params"
)

var (
	// ErrNoSuchJob is returned when the disputed job does not exist.
	ErrNoSuchJob = errors.New("no such job")
	// ErrNotParty is returned when the claimant is neither the job's agent
	// nor its employer.
	ErrNotParty = errors.New("claimant is not a party to the job")
	// ErrNotDisputable is returned when the job is not in a disputable state.
	ErrNotDisputable = errors.New("job not disputable")
	// ErrDisputeOpen is returned when a dispute is already pending.
	ErrDisputeOpen = errors.New("dispute already open")
	// ErrNoDispute is returned by Resolve when nothing is pending.
	ErrNoDispute = errors.New("no open dispute")
	// ErrWindowOpen is returned by Resolve before the cooling-off window
	// has elapsed.
	ErrWindowOpen = errors.New("dispute window still open")
)

// JobBook is the registry surface the resolver needs to enforce a verdict.
// It exists as an interface to break the construction cycle between the two
// modules.
type JobBook interface {
	// ApplyVerdict overrides the job outcome and settles it.
	ApplyVerdict(origin common.Address, jobID uint64, agentWins bool, now uint64) error
}

// Resolver arbitrates disputes. It holds a module identity of its own which
// must carry the controller permission (for escrow movement) and reputation
// authorization for the agent and employer roles.
type Resolver struct {
	state  *state.StateDB
	stakes *stake.Manager
	rep    *reputation.Engine
	config *params.ProtocolConfig
	perms  *common.PermissionTable
	jobs   JobBook
	self   common.Address
	logger log.Logger
}

// NewResolver wires a dispute resolver. The job book is set separately to
// break the cycle with the registry.
func NewResolver(st *state.StateDB, stakes *stake.Manager, rep *reputation.Engine, config *params.ProtocolConfig, perms *common.PermissionTable, self common.Address) *Resolver {
	return &Resolver{
		state:  st,
		stakes: stakes,
		rep:    rep,
		config: config,
		perms:  perms,
		self:   self,
		logger: log.New("module", "dispute"),
	}
}

// SetJobBook installs the registry surface used to enforce verdicts.
func (r *Resolver) SetJobBook(jobs JobBook) { r.jobs = jobs }

// Raise opens a dispute over a completed job. Only the job's agent or
// employer may raise one, the dispute fee is locked in escrow, and the job
// is moved to the disputed state so it cannot settle underneath the
// arbitration.
func (r *Resolver) Raise(claimant common.Address, jobID uint64, now uint64) error {
	job := r.state.GetJob(jobID)
	if job == nil {
		return ErrNoSuchJob
	}
	if claimant != job.Agent && claimant != job.Employer {
		return ErrNotParty
	}
	if job.Status != types.JobCompleted {
		return ErrNotDisputable
	}
	if r.state.GetDispute(jobID) != nil {
		return ErrDisputeOpen
	}
	fee := new(big.Int).SetUint64(r.config.DisputeFee)
	if err := r.stakes.LockFunds(r.self, claimant, fee, jobID); err != nil {
		return err
	}
	if err := r.state.SetJobStatus(jobID, types.JobDisputed); err != nil {
		return err
	}
	r.state.OpenDispute(jobID, &state.Dispute{Claimant: claimant, RaisedAt: now, Fee: fee})
	r.state.AddLog(types.NewLog(types.LogDisputeRaised, jobID,
		"claimant", claimant, "fee", fee))
	r.logger.Info("dispute raised", "job", jobID, "claimant", claimant)
	return nil
}

// Resolve rules on an open dispute. Arbitrator-only, and only after the
// cooling-off window. The verdict overrides the job outcome: the locked fee
// and a challenge bond, if the round was challenged and the challenger was
// vindicated, go to the winning side, a loser-funded bonus is paid when the
// loser can afford it, reputations are adjusted, and the registry settles
// the job under the final outcome. The dispute record is cleared before any
// value moves so a re-entrant resolve finds nothing to rule on.
func (r *Resolver) Resolve(arbitrator common.Address, jobID uint64, agentWins bool, now uint64) error {
	if err := r.perms.Require(arbitrator, common.PermissionArbitrator); err != nil {
		return err
	}
	d := r.state.GetDispute(jobID)
	if d == nil {
		return ErrNoDispute
	}
	if now < d.RaisedAt+r.config.DisputeWindow {
		return ErrWindowOpen
	}
	job := r.state.GetJob(jobID)
	if job == nil {
		return ErrNoSuchJob
	}
	winner, winnerRole := job.Agent, common.RoleAgent
	loser, loserRole := job.Employer, common.RoleEmployer
	if !agentWins {
		winner, winnerRole, loser, loserRole = loser, loserRole, winner, winnerRole
	}

	fee := new(big.Int).Set(d.Fee)
	r.state.ClearDispute(jobID)

	if err := r.stakes.Pay(r.self, winner, fee, jobID); err != nil {
		return err
	}
	if err := r.settleChallengeBond(jobID, agentWins); err != nil {
		return err
	}

	// The bonus comes out of the loser's own pocket. A loser who cannot
	// pay does not block the resolution.
	bonus := new(big.Int).SetUint64(r.config.DisputeFee)
	if err := r.stakes.LockFunds(r.self, loser, bonus, jobID); err != nil {
		r.logger.Warn("dispute bonus unfunded", "job", jobID, "loser", loser, "err", err)
	} else if err := r.stakes.Pay(r.self, winner, bonus, jobID); err != nil {
		return err
	}

	// A blacklisted winner keeps the money but forfeits the score gain.
	if !r.rep.IsBlacklisted(winner, winnerRole) {
		if err := r.rep.Add(r.self, winner, winnerRole, r.config.DisputeRepReward, now); err != nil {
			return err
		}
	}
	if err := r.rep.Subtract(r.self, loser, loserRole, r.config.DisputeRepPenalty, now); err != nil {
		return err
	}

	r.state.AddLog(types.NewLog(types.LogDisputeSettled, jobID,
		"winner", winner, "loser", loser, "agentWins", agentWins))
	r.logger.Info("dispute resolved", "job", jobID, "winner", winner, "agentWins", agentWins)

	return r.jobs.ApplyVerdict(r.self, jobID, agentWins, now)
}

// settleChallengeBond routes a pending challenge bond: back to the
// challenger when the verdict overturned the tallied outcome, into the fee
// pool when the tally stood.
func (r *Resolver) settleChallengeBond(jobID uint64, agentWins bool) error {
	round := r.state.CurrentRound(jobID)
	if round == nil || !round.Challenged || round.ChallengeBond == nil || round.ChallengeBond.Sign() == 0 {
		return nil
	}
	recipient := params.FeePoolAddress
	if agentWins != round.Outcome {
		// The tally was wrong, the challenge was justified.
		recipient = round.Challenger
	}
	return r.stakes.Pay(r.self, recipient, round.ChallengeBond, jobID)
}
