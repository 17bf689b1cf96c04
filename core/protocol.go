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

// Package core assembles the labor-market protocol: the journaled state, the
// stake, reputation, validation and dispute modules and the job registry,
// behind a single serialized facade. Every entrypoint takes the facade lock,
// so module code below runs strictly single-threaded over the ledger.
package core

import (
	"errors"
	"math/big"
	"sync"
	"time"

	log "gopkg.in/inconshreveable/log15.v2"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/dispute"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/registry"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/reputation"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/stake"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/state"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/types"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/validation"
	"github.com/MontrealAI/AGIJobsv0-sub011/identity"
	"github.com/MontrealAI/AGIJobsv0-sub011/jobsdb"
	"github.com/MontrealAI/AGIJobsv0-sub011/params"
)

// ErrNotOwner is returned when a governance setter is called by anyone but
// the protocol owner.
var ErrNotOwner = errors.New("caller is not the protocol owner")

// Protocol is the assembled labor market. All exported methods serialize on
// an internal mutex; parameters read by the modules are the live config, so
// governance changes take effect on the next call.
type Protocol struct {
	mu sync.Mutex

	config   params.ProtocolConfig
	owner    common.Address
	clock    func() uint64
	verifier identity.Verifier

	state    *state.StateDB
	perms    *common.PermissionTable
	stakes   *stake.Manager
	rep      *reputation.Engine
	valid    *validation.Engine
	resolver *dispute.Resolver
	registry *registry.Registry
	logger   log.Logger
}

// New assembles a protocol instance over a fresh ledger. The owner address
// controls governance; the verifier gates agent and validator admission.
func New(owner common.Address, config params.ProtocolConfig, verifier identity.Verifier) (*Protocol, error) {
	return assemble(owner, config, verifier, state.New())
}

// Load assembles a protocol instance over a ledger restored from the
// database.
func Load(db jobsdb.Database, owner common.Address, config params.ProtocolConfig, verifier identity.Verifier) (*Protocol, error) {
	st, err := state.Load(db)
	if err != nil {
		return nil, err
	}
	return assemble(owner, config, verifier, st)
}

func assemble(owner common.Address, config params.ProtocolConfig, verifier identity.Verifier, st *state.StateDB) (*Protocol, error) {
	if err := config.Check(); err != nil {
		return nil, err
	}
	if verifier == nil {
		verifier = identity.OpenVerifier{}
	}
	p := &Protocol{
		config:   config,
		owner:    owner,
		clock:    func() uint64 { return uint64(time.Now().Unix()) },
		verifier: verifier,
		state:    st,
		perms:    common.NewPermissionTable(),
		logger:   log.New("module", "protocol"),
	}
	p.perms.Grant(params.RegistryAddress, common.PermissionController)
	p.perms.Grant(params.DisputeAddress, common.PermissionController)

	p.rep = reputation.NewEngine(st, &p.config)
	p.rep.Authorize(params.RegistryAddress, common.RoleAgent)
	p.rep.Authorize(params.DisputeAddress, common.RoleAgent)
	p.rep.Authorize(params.DisputeAddress, common.RoleEmployer)

	p.stakes = stake.NewManager(st, stake.NewLedgerToken(st), &p.config, p.perms, p.rep)
	p.valid = validation.NewEngine(st, p.stakes, &p.config, p.perms, verifier, params.RegistryAddress)
	p.resolver = dispute.NewResolver(st, p.stakes, p.rep, &p.config, p.perms, params.DisputeAddress)
	p.registry = registry.New(st, p.stakes, p.rep, p.valid, p.resolver, &p.config, p.perms, verifier, params.RegistryAddress)
	p.resolver.SetJobBook(p.registry)
	return p, nil
}

// Commit persists the ledger.
func (p *Protocol) Commit(db jobsdb.Database) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Commit(db)
}

// Mint credits freshly issued tokens to an account. Owner-only; the entry
// point for bridging external token custody into the ledger.
func (p *Protocol) Mint(owner, to common.Address, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if owner != p.owner {
		return ErrNotOwner
	}
	if amount.Sign() < 0 {
		return stake.ErrNegativeAmount
	}
	p.state.AddBalance(to, amount)
	return nil
}

// BalanceOf returns an account's free token balance.
func (p *Protocol) BalanceOf(addr common.Address) *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.GetBalance(addr)
}

// Deposit stakes tokens for a role.
func (p *Protocol) Deposit(addr common.Address, role common.Role, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stakes.Deposit(addr, role, amount)
}

// InitiateUnstake begins (or, with a zero cooldown, completes) a withdrawal
// of free stake.
func (p *Protocol) InitiateUnstake(addr common.Address, role common.Role, amount *big.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stakes.InitiateUnstake(addr, role, amount, p.clock())
}

// Withdraw completes a queued unstake after its cooldown.
func (p *Protocol) Withdraw(addr common.Address, role common.Role) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stakes.Withdraw(addr, role, p.clock())
}

// StakeOf returns the total and locked stake of a participant in a role.
func (p *Protocol) StakeOf(addr common.Address, role common.Role) (total, locked *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stakes.StakeOf(addr, role)
}

// ReputationOf returns the decayed reputation score at the current time.
func (p *Protocol) ReputationOf(addr common.Address, role common.Role) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rep.ReputationOf(addr, role, p.clock())
}

// IsBlacklisted reports whether a participant is barred from a role.
func (p *Protocol) IsBlacklisted(addr common.Address, role common.Role) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rep.IsBlacklisted(addr, role)
}

// AcknowledgePolicy records that a participant accepted the protocol
// policy.
func (p *Protocol) AcknowledgePolicy(addr common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registry.AcknowledgePolicy(addr)
}

// CreateJob posts a job, escrowing reward plus fee from the employer. A
// non-zero agent pre-assigns the job.
func (p *Protocol) CreateJob(employer, agent common.Address, reward, agentStake *big.Int, uri string, specHash common.Hash, deadline uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.CreateJob(employer, agent, reward, agentStake, uri, specHash, deadline, p.clock())
}

// ApplyForJob assigns the caller to an open job.
func (p *Protocol) ApplyForJob(agent common.Address, jobID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.ApplyForJob(agent, jobID, p.clock())
}

// Submit records the agent's result and opens validation.
func (p *Protocol) Submit(agent common.Address, jobID uint64, outputURI string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.Submit(agent, jobID, outputURI, p.clock())
}

// CommitValidation records a validator's blinded vote digest.
func (p *Protocol) CommitValidation(validator common.Address, jobID uint64, digest common.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valid.Commit(validator, jobID, digest, p.clock())
}

// RevealValidation opens a previously committed vote.
func (p *Protocol) RevealValidation(validator common.Address, jobID uint64, approve bool, salt common.Hash) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.valid.Reveal(validator, jobID, approve, salt, p.clock())
}

// FinalizeValidation tallies the round and records the outcome on the job.
func (p *Protocol) FinalizeValidation(jobID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.FinalizeValidation(jobID, p.clock())
}

// Challenge contests a tallied outcome with a bond.
func (p *Protocol) Challenge(challenger common.Address, jobID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.Challenge(challenger, jobID, p.clock())
}

// Dispute raises a dispute over a completed job.
func (p *Protocol) Dispute(claimant common.Address, jobID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.Dispute(claimant, jobID, p.clock())
}

// ResolveDispute rules on an open dispute and settles the job under the
// verdict.
func (p *Protocol) ResolveDispute(arbitrator common.Address, jobID uint64, agentWins bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.ResolveDispute(arbitrator, jobID, agentWins, p.clock())
}

// Finalize settles a completed job once its challenge window has passed.
func (p *Protocol) Finalize(jobID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.Finalize(jobID, p.clock())
}

// CancelJob refunds an unassigned job in full.
func (p *Protocol) CancelJob(employer common.Address, jobID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.CancelJob(employer, jobID, p.clock())
}

// TransferCredential moves a completion credential, when transfers are
// enabled by governance.
func (p *Protocol) TransferCredential(from, to common.Address, jobID uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.TransferCredential(from, to, jobID)
}

// GetJob returns a copy of a job record, nil when unknown.
func (p *Protocol) GetJob(jobID uint64) *types.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registry.GetJob(jobID)
}

// Jobs returns copies of all job records in id order.
func (p *Protocol) Jobs() []*types.Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := p.state.JobIDs()
	jobs := make([]*types.Job, 0, len(ids))
	for _, id := range ids {
		jobs = append(jobs, p.state.GetJob(id).Copy())
	}
	return jobs
}

// Accounts returns the addresses of all token accounts in ascending order.
func (p *Protocol) Accounts() []common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Accounts()
}

// StakePositions returns every staked (address, role) pair, ordered by
// address then role.
func (p *Protocol) StakePositions() []state.StakeKey {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.StakeKeys()
}

// TotalStaked sums all staked collateral, in grains.
func (p *Protocol) TotalStaked() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.TotalStaked()
}

// Logs returns the ledger's audit trail.
func (p *Protocol) Logs() []*types.Log {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Logs()
}

// Config returns a copy of the live protocol parameters.
func (p *Protocol) Config() params.ProtocolConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config
}

// governance runs a setter under the owner gate.
func (p *Protocol) governance(caller common.Address, apply func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if caller != p.owner {
		return ErrNotOwner
	}
	apply()
	return nil
}

// SetOwner hands the governance key to a new address.
func (p *Protocol) SetOwner(caller, next common.Address) error {
	return p.governance(caller, func() { p.owner = next })
}

// SetFeePct updates the protocol's cut of job rewards.
func (p *Protocol) SetFeePct(caller common.Address, pct uint64) error {
	if pct > 100 {
		return errors.New("fee percentage above 100")
	}
	return p.governance(caller, func() { p.config.FeePct = pct })
}

// SetMinStake updates the minimum deposit for a role.
func (p *Protocol) SetMinStake(caller common.Address, role common.Role, grains uint64) error {
	return p.governance(caller, func() { p.config.MinStake[role] = grains })
}

// SetUnstakeCooldown updates the withdrawal delay.
func (p *Protocol) SetUnstakeCooldown(caller common.Address, seconds uint64) error {
	return p.governance(caller, func() { p.config.UnstakeCooldown = seconds })
}

// SetValidationWindows updates the commit and reveal phase lengths.
func (p *Protocol) SetValidationWindows(caller common.Address, commit, reveal uint64) error {
	if commit == 0 || reveal == 0 {
		return errors.New("validation windows must be positive")
	}
	return p.governance(caller, func() {
		p.config.CommitWindow, p.config.RevealWindow = commit, reveal
	})
}

// SetDisputeWindow updates the arbitration cooling-off period.
func (p *Protocol) SetDisputeWindow(caller common.Address, seconds uint64) error {
	return p.governance(caller, func() { p.config.DisputeWindow = seconds })
}

// SetReputationDecay updates the per-second score decay constant.
func (p *Protocol) SetReputationDecay(caller common.Address, wadPerSecond uint64) error {
	return p.governance(caller, func() { p.config.ReputationDecay = wadPerSecond })
}

// SetBlacklistThreshold updates the per-role blacklisting score floor.
func (p *Protocol) SetBlacklistThreshold(caller common.Address, role common.Role, score uint64) error {
	return p.governance(caller, func() { p.config.BlacklistThreshold[role] = score })
}

// SetCredentialTransfer flips the credential transferability switch.
func (p *Protocol) SetCredentialTransfer(caller common.Address, enabled bool) error {
	return p.governance(caller, func() { p.registry.SetCredentialTransfer(enabled) })
}

// AddArbitrator grants dispute-resolution authority to an address.
func (p *Protocol) AddArbitrator(caller, arbitrator common.Address) error {
	return p.governance(caller, func() {
		p.perms.Grant(arbitrator, common.PermissionArbitrator)
	})
}

// RemoveArbitrator revokes dispute-resolution authority.
func (p *Protocol) RemoveArbitrator(caller, arbitrator common.Address) error {
	return p.governance(caller, func() {
		p.perms.Revoke(arbitrator, common.PermissionArbitrator)
	})
}
