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

// Package registry implements the job lifecycle orchestrator. It owns the
// job state machine and drives the stake, reputation, validation and dispute
// modules through a job's life from creation to settlement. Every operation
// runs under a state snapshot: a failing step reverts the whole call.
package registry

import (
	"errors"
	"math/big"

	mapset "github.com/deckarep/golang-set"
	log "gopkg.in/inconshreveable/log15.v2"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/dispute"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/reputation"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/stake"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/state"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/types"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/validation"
	"github.com/MontrealAI/AGIJobsv0-sub011/identity"
	"github.com/MontrealAI/AGIJobsv0-sub011/params"
)

var (
	// ErrPolicyNotAcknowledged is returned when a participant has not
	// acknowledged the protocol policy before transacting.
	ErrPolicyNotAcknowledged = errors.New("protocol policy not acknowledged")
	// ErrZeroReward is returned for jobs created without a reward.
	ErrZeroReward = errors.New("job reward must be positive")
	// ErrBadDeadline is returned when the deadline is not in the future.
	ErrBadDeadline = errors.New("job deadline not in the future")
	// ErrSelfEmployment is returned when the employer tries to act as the
	// job's agent.
	ErrSelfEmployment = errors.New("agent must not be the employer")
	// ErrNoSuchJob is returned for operations on unknown job IDs.
	ErrNoSuchJob = errors.New("no such job")
	// ErrJobNotOpen is returned when a job is past the created state.
	ErrJobNotOpen = errors.New("job not open")
	// ErrAlreadyAssigned is returned on a second assignment.
	ErrAlreadyAssigned = errors.New("job already assigned")
	// ErrNotAssigned is returned when an operation needs an assigned agent.
	ErrNotAssigned = errors.New("job has no assigned agent")
	// ErrNotAssignedAgent is returned when someone other than the assigned
	// agent submits.
	ErrNotAssignedAgent = errors.New("caller is not the assigned agent")
	// ErrNotEmployer is returned when someone other than the employer
	// cancels.
	ErrNotEmployer = errors.New("caller is not the employer")
	// ErrAgentNotAdmitted is returned when the agent fails the identity
	// check.
	ErrAgentNotAdmitted = errors.New("agent not admitted by identity oracle")
	// ErrInsufficientAgentStake is returned when the agent's role stake is
	// below the configured minimum.
	ErrInsufficientAgentStake = errors.New("agent stake below minimum")
	// ErrDeadlinePassed is returned for submissions after the deadline.
	ErrDeadlinePassed = errors.New("submission deadline passed")
	// ErrNotFinalizable is returned by Finalize outside the completed state.
	ErrNotFinalizable = errors.New("job not finalizable")
	// ErrOutcomeUnset is returned when settlement finds no recorded outcome.
	ErrOutcomeUnset = errors.New("job outcome not recorded")
	// ErrChallengeWindowOpen is returned by Finalize while the tallied
	// outcome can still be challenged.
	ErrChallengeWindowOpen = errors.New("challenge window still open")
	// ErrChallengePending is returned by Finalize while a challenge can
	// still be escalated into a dispute.
	ErrChallengePending = errors.New("challenged outcome awaits dispute")
	// ErrNoCredential is returned for transfers of unminted credentials.
	ErrNoCredential = errors.New("no credential for job")
	// ErrNotCredentialOwner is returned when the sender does not own the
	// credential.
	ErrNotCredentialOwner = errors.New("caller does not own the credential")
	// ErrTransfersDisabled is returned while credential transfer is switched
	// off.
	ErrTransfersDisabled = errors.New("credential transfer disabled")
)

// Registry orchestrates the job lifecycle. Its module identity (self) holds
// the controller permission so its calls pass the privileged gates of the
// stake and validation modules.
type Registry struct {
	state      *state.StateDB
	stakes     *stake.Manager
	rep        *reputation.Engine
	validators *validation.Engine // nil selects the synchronous variant
	resolver   *dispute.Resolver
	config     *params.ProtocolConfig
	perms      *common.PermissionTable
	verifier   identity.Verifier
	acked      mapset.Set
	transfers  bool
	self       common.Address
	logger     log.Logger
}

// New wires a registry. Passing a nil validation engine selects the
// synchronous settlement variant in which submissions are certified
// immediately; production deployments pass the commit-reveal engine.
func New(st *state.StateDB, stakes *stake.Manager, rep *reputation.Engine, validators *validation.Engine, resolver *dispute.Resolver, config *params.ProtocolConfig, perms *common.PermissionTable, verifier identity.Verifier, self common.Address) *Registry {
	return &Registry{
		state:      st,
		stakes:     stakes,
		rep:        rep,
		validators: validators,
		resolver:   resolver,
		config:     config,
		perms:      perms,
		verifier:   verifier,
		acked:      mapset.NewSet(),
		self:       self,
		logger:     log.New("module", "registry"),
	}
}

// execute runs fn under a state snapshot, rolling every mutation back if it
// fails. All lifecycle operations pass through here so a rejected call is
// indistinguishable from one that never happened.
func (r *Registry) execute(fn func() error) error {
	snap := r.state.Snapshot()
	if err := fn(); err != nil {
		r.state.RevertToSnapshot(snap)
		return err
	}
	return nil
}

// AcknowledgePolicy records that a participant accepted the protocol
// policy. A gate, not a financial control.
func (r *Registry) AcknowledgePolicy(addr common.Address) {
	r.acked.Add(addr)
}

// HasAcknowledged reports whether a participant accepted the policy.
func (r *Registry) HasAcknowledged(addr common.Address) bool {
	return r.acked.Contains(addr)
}

// SetCredentialTransfer flips the credential transfer switch. Invoked by
// the governance facade only.
func (r *Registry) SetCredentialTransfer(enabled bool) {
	r.transfers = enabled
}

// CreateJob escrows reward plus protocol fee from the employer and opens a
// job. A non-zero agent pre-assigns the job at creation, subject to the same
// admission gates as ApplyForJob.
func (r *Registry) CreateJob(employer, agent common.Address, reward, agentStake *big.Int, uri string, specHash common.Hash, deadline, now uint64) (uint64, error) {
	var id uint64
	err := r.execute(func() error {
		if !r.acked.Contains(employer) {
			return ErrPolicyNotAcknowledged
		}
		if reward.Sign() <= 0 {
			return ErrZeroReward
		}
		if deadline <= now {
			return ErrBadDeadline
		}
		fee := r.config.FeeFor(reward)
		id = r.state.CreateJob(&types.Job{
			Employer:  employer,
			Reward:    new(big.Int).Set(reward),
			Fee:       fee,
			Stake:     new(big.Int).Set(agentStake),
			URI:       uri,
			SpecHash:  specHash,
			CreatedAt: now,
			Deadline:  deadline,
		})
		if err := r.state.SetJobStatus(id, types.JobCreated); err != nil {
			return err
		}
		if err := r.stakes.LockFunds(r.self, employer, new(big.Int).Add(reward, fee), id); err != nil {
			return err
		}
		r.state.AddLog(types.NewLog(types.LogJobCreated, id,
			"employer", employer, "reward", reward, "fee", fee, "stake", agentStake, "deadline", deadline))
		if agent != (common.Address{}) {
			return r.assign(id, agent, now)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	r.logger.Info("job created", "job", id, "employer", employer, "reward", reward)
	return id, nil
}

// ApplyForJob assigns the first qualifying agent to an open job and locks
// the agent's job collateral.
func (r *Registry) ApplyForJob(agent common.Address, jobID uint64, now uint64) error {
	return r.execute(func() error {
		if !r.acked.Contains(agent) {
			return ErrPolicyNotAcknowledged
		}
		job := r.state.GetJob(jobID)
		if job == nil {
			return ErrNoSuchJob
		}
		if job.Status != types.JobCreated {
			return ErrJobNotOpen
		}
		if job.Assigned() {
			return ErrAlreadyAssigned
		}
		return r.assign(jobID, agent, now)
	})
}

// assign runs the admission gates and binds the agent to the job.
func (r *Registry) assign(jobID uint64, agent common.Address, now uint64) error {
	job := r.state.GetJob(jobID)
	if agent == job.Employer {
		return ErrSelfEmployment
	}
	if !r.verifier.Verify(agent, common.RoleAgent) {
		return ErrAgentNotAdmitted
	}
	// The reputation hook refreshes the decayed score and rejects
	// blacklisted agents.
	if err := r.rep.OnApply(r.self, agent, common.RoleAgent, now); err != nil {
		return err
	}
	if !r.stakes.HasMinStake(agent, common.RoleAgent) {
		return ErrInsufficientAgentStake
	}
	if job.Stake.Sign() > 0 {
		if err := r.stakes.Lock(r.self, agent, common.RoleAgent, job.Stake, jobID); err != nil {
			return err
		}
	}
	r.state.SetJobAgent(jobID, agent)
	r.state.AddLog(types.NewLog(types.LogJobAssigned, jobID, "agent", agent))
	return nil
}

// Submit records the agent's result and starts validation. Only the
// assigned agent, only while the job is open and before the deadline. With
// the commit-reveal engine a round is opened; the synchronous variant
// certifies the submission immediately.
func (r *Registry) Submit(agent common.Address, jobID uint64, outputURI string, now uint64) error {
	return r.execute(func() error {
		job := r.state.GetJob(jobID)
		if job == nil {
			return ErrNoSuchJob
		}
		if job.Status != types.JobCreated {
			return ErrJobNotOpen
		}
		if agent != job.Agent || !job.Assigned() {
			return ErrNotAssignedAgent
		}
		if now > job.Deadline {
			return ErrDeadlinePassed
		}
		r.state.SetJobOutput(jobID, outputURI)
		r.state.AddLog(types.NewLog(types.LogJobSubmitted, jobID, "agent", agent, "output", outputURI))

		if r.validators == nil {
			// Synchronous variant: no committee, the submission is
			// taken at face value.
			return r.recordOutcome(jobID, true)
		}
		return r.validators.Open(r.self, jobID, job.SpecHash, now)
	})
}

// FinalizeValidation tallies the job's validation round and records the
// outcome into the job. Callable by anyone once the reveal deadline passed.
func (r *Registry) FinalizeValidation(jobID uint64, now uint64) error {
	return r.execute(func() error {
		job := r.state.GetJob(jobID)
		if job == nil {
			return ErrNoSuchJob
		}
		if job.Status != types.JobCreated {
			return ErrJobNotOpen
		}
		if r.validators == nil {
			return validation.ErrNoRound
		}
		approved, err := r.validators.Finalize(r.self, jobID, now)
		if err != nil {
			return err
		}
		return r.recordOutcome(jobID, approved)
	})
}

// recordOutcome writes the certified outcome and advances to Completed.
func (r *Registry) recordOutcome(jobID uint64, approved bool) error {
	success := types.SuccessFalse
	if approved {
		success = types.SuccessTrue
	}
	r.state.SetJobSuccess(jobID, success)
	if err := r.state.SetJobStatus(jobID, types.JobCompleted); err != nil {
		return err
	}
	r.state.AddLog(types.NewLog(types.LogJobCompleted, jobID, "approved", approved))
	return nil
}

// Challenge contests the tallied outcome of a job, locking the challenge
// bond. Settlement of the challenge happens through the dispute path.
func (r *Registry) Challenge(challenger common.Address, jobID uint64, now uint64) error {
	return r.execute(func() error {
		if r.validators == nil {
			return validation.ErrNoRound
		}
		if r.state.GetJob(jobID) == nil {
			return ErrNoSuchJob
		}
		return r.validators.Challenge(challenger, jobID, now)
	})
}

// Dispute raises a dispute over a completed job through the resolver.
func (r *Registry) Dispute(claimant common.Address, jobID uint64, now uint64) error {
	return r.execute(func() error {
		return r.resolver.Raise(claimant, jobID, now)
	})
}

// ResolveDispute rules on an open dispute. The resolver calls back into
// ApplyVerdict, overriding the outcome and settling the job in the same
// atomic step.
func (r *Registry) ResolveDispute(arbitrator common.Address, jobID uint64, agentWins bool, now uint64) error {
	return r.execute(func() error {
		return r.resolver.Resolve(arbitrator, jobID, agentWins, now)
	})
}

// ApplyVerdict enforces a dispute verdict: the job's outcome is overridden
// and the job settles immediately under it. Controller-only; the resolver
// is the expected caller.
func (r *Registry) ApplyVerdict(origin common.Address, jobID uint64, agentWins bool, now uint64) error {
	if err := r.perms.Require(origin, common.PermissionController); err != nil {
		return err
	}
	return r.execute(func() error {
		job := r.state.GetJob(jobID)
		if job == nil {
			return ErrNoSuchJob
		}
		if job.Status != types.JobDisputed {
			return ErrNotFinalizable
		}
		if err := r.recordOutcome(jobID, agentWins); err != nil {
			return err
		}
		return r.settle(jobID, now)
	})
}

// Finalize settles a completed job: the success path pays the agent and the
// fee pool and mints the credential, the failure path refunds the employer
// and slashes the agent. Callable by anyone once the challenge window of
// the tallied outcome has passed. A challenge that no party escalates into
// a dispute lapses after the dispute window: the tally stands and the bond
// is forfeited to the fee pool.
func (r *Registry) Finalize(jobID uint64, now uint64) error {
	return r.execute(func() error {
		job := r.state.GetJob(jobID)
		if job == nil {
			return ErrNoSuchJob
		}
		if job.Status != types.JobCompleted {
			return ErrNotFinalizable
		}
		if round := r.state.CurrentRound(jobID); round != nil && round.Tallied {
			switch {
			case round.Challenged:
				if now < round.ChallengedAt+r.config.DisputeWindow {
					return ErrChallengePending
				}
				if round.ChallengeBond != nil && round.ChallengeBond.Sign() > 0 {
					if err := r.stakes.Pay(r.self, params.FeePoolAddress, round.ChallengeBond, jobID); err != nil {
						return err
					}
					r.state.AddLog(types.NewLog(types.LogChallenge, jobID,
						"challenger", round.Challenger, "lapsed", true, "bond", round.ChallengeBond))
				}
			case now < round.TalliedAt+r.config.ChallengeWindow:
				return ErrChallengeWindowOpen
			}
		}
		return r.settle(jobID, now)
	})
}

// settle is the terminal payout step shared by Finalize and ApplyVerdict.
// Both branches account for every escrowed grain: reward+fee locked at
// creation leaves the escrow exactly once.
func (r *Registry) settle(jobID uint64, now uint64) error {
	job := r.state.GetJob(jobID)
	switch job.Success {
	case types.SuccessTrue:
		// Fee comes out of the reward; the employer's fee deposit
		// returns to them.
		payout := new(big.Int).Sub(job.Reward, job.Fee)
		if err := r.stakes.Pay(r.self, job.Agent, payout, jobID); err != nil {
			return err
		}
		if err := r.stakes.Pay(r.self, params.FeePoolAddress, job.Fee, jobID); err != nil {
			return err
		}
		if err := r.stakes.Pay(r.self, job.Employer, job.Fee, jobID); err != nil {
			return err
		}
		if job.Stake.Sign() > 0 {
			if err := r.stakes.Release(r.self, job.Agent, common.RoleAgent, job.Stake, jobID); err != nil {
				return err
			}
		}
		if err := r.rep.OnFinalize(r.self, job.Agent, common.RoleAgent, true, payout, job.CreatedAt, job.Deadline, now); err != nil {
			return err
		}
		if err := r.state.MintCredential(jobID, job.Agent, job.URI, now); err != nil {
			return err
		}
		r.state.AddLog(types.NewLog(types.LogCredential, jobID, "owner", job.Agent))
	case types.SuccessFalse:
		// Full refund to the employer plus the slashed collateral.
		if err := r.stakes.Pay(r.self, job.Employer, job.EscrowTotal(), jobID); err != nil {
			return err
		}
		if job.Stake.Sign() > 0 {
			if err := r.stakes.Slash(r.self, job.Agent, common.RoleAgent, job.Stake, job.Employer, jobID); err != nil {
				return err
			}
		}
		if err := r.rep.OnFinalize(r.self, job.Agent, common.RoleAgent, false, job.Reward, job.CreatedAt, job.Deadline, now); err != nil {
			return err
		}
	default:
		return ErrOutcomeUnset
	}
	if err := r.state.SetJobStatus(jobID, types.JobFinalized); err != nil {
		return err
	}
	r.state.AddLog(types.NewLog(types.LogJobFinalized, jobID, "success", job.Success == types.SuccessTrue))
	r.logger.Info("job finalized", "job", jobID, "success", job.Success == types.SuccessTrue)
	return nil
}

// CancelJob refunds an unassigned job in full. Employer-only; assignment
// closes the cancellation path for good.
func (r *Registry) CancelJob(employer common.Address, jobID uint64, now uint64) error {
	return r.execute(func() error {
		job := r.state.GetJob(jobID)
		if job == nil {
			return ErrNoSuchJob
		}
		if employer != job.Employer {
			return ErrNotEmployer
		}
		if job.Status != types.JobCreated {
			return ErrJobNotOpen
		}
		if job.Assigned() {
			return ErrAlreadyAssigned
		}
		if err := r.stakes.Pay(r.self, job.Employer, job.EscrowTotal(), jobID); err != nil {
			return err
		}
		if err := r.state.SetJobStatus(jobID, types.JobFinalized); err != nil {
			return err
		}
		r.state.AddLog(types.NewLog(types.LogJobCancelled, jobID, "employer", employer))
		return nil
	})
}

// TransferCredential moves a completion credential to a new owner. Only
// works while the governance transfer switch is on.
func (r *Registry) TransferCredential(from, to common.Address, jobID uint64) error {
	return r.execute(func() error {
		if !r.transfers {
			return ErrTransfersDisabled
		}
		cred := r.state.CredentialOf(jobID)
		if cred == nil {
			return ErrNoCredential
		}
		if cred.Owner != from {
			return ErrNotCredentialOwner
		}
		r.state.SetCredentialOwner(jobID, to)
		r.state.AddLog(types.NewLog(types.LogCredential, jobID, "owner", to, "from", from))
		return nil
	})
}

// GetJob returns a copy of a job record.
func (r *Registry) GetJob(jobID uint64) *types.Job {
	job := r.state.GetJob(jobID)
	if job == nil {
		return nil
	}
	return job.Copy()
}
