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

// Package state holds the shared mutable ledger of the labor-market
// protocol: token balances, stake and reputation entries, jobs, validation
// rounds, disputes and completion credentials. Every mutation is journaled
// so an enclosing operation can be reverted as one atomic unit.
package state

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/types"
)

// StakeKey identifies a per-participant, per-role ledger entry.
type StakeKey struct {
	Addr common.Address `json:"addr"`
	Role common.Role    `json:"role"`
}

// account is a token account. Balances are denominated in grains.
type account struct {
	Balance *big.Int
}

// stakeEntry is a per-(address, role) collateral record. Locked tracks the
// portion of Amount escrowed against in-flight jobs; PendingWithdrawal is
// the cooldown-gated unstake queue.
type stakeEntry struct {
	Amount            *big.Int
	Locked            *big.Int
	PendingWithdrawal *big.Int
	WithdrawalTime    uint64
}

// reputationEntry is a per-(address, role) score record. Score decays lazily
// using LastUpdated; Blacklisted may be derived from thresholds or toggled
// explicitly by an arbitrator.
type reputationEntry struct {
	Score       uint64
	LastUpdated uint64
	Blacklisted bool
}

// Commit is a stored commit-phase record of a validation round.
type Commit struct {
	Hash        common.Hash `json:"hash"`
	CommittedAt uint64      `json:"committedAt"`
}

// Reveal is a stored reveal-phase record of a validation round.
type Reveal struct {
	Approve    bool        `json:"approve"`
	Salt       common.Hash `json:"salt"`
	RevealedAt uint64      `json:"revealedAt"`
}

// Round is the commit-reveal voting round of a job. Epoch increments across
// successive rounds of the same job so stale commit/reveal data cannot be
// replayed after a dispute-triggered re-validation.
type Round struct {
	Epoch          uint64                    `json:"epoch"`
	SpecHash       common.Hash               `json:"specHash"`
	CommitDeadline uint64                    `json:"commitDeadline"`
	RevealDeadline uint64                    `json:"revealDeadline"`
	Commits        map[common.Address]*Commit `json:"commits"`
	Reveals        map[common.Address]*Reveal `json:"reveals"`
	Approvals      uint64                    `json:"approvals"`
	Rejections     uint64                    `json:"rejections"`
	Tallied        bool                      `json:"tallied"`
	Outcome        bool                      `json:"outcome"`
	TalliedAt      uint64                    `json:"talliedAt"`
	Challenged     bool                      `json:"challenged"`
	Challenger     common.Address            `json:"challenger"`
	ChallengeBond  *big.Int                  `json:"challengeBond"`
	ChallengedAt   uint64                    `json:"challengedAt"`
}

// Copy returns a deep copy of the round.
func (r *Round) Copy() *Round {
	cpy := *r
	cpy.Commits = make(map[common.Address]*Commit, len(r.Commits))
	for addr, c := range r.Commits {
		cc := *c
		cpy.Commits[addr] = &cc
	}
	cpy.Reveals = make(map[common.Address]*Reveal, len(r.Reveals))
	for addr, rv := range r.Reveals {
		rc := *rv
		cpy.Reveals[addr] = &rc
	}
	if r.ChallengeBond != nil {
		cpy.ChallengeBond = new(big.Int).Set(r.ChallengeBond)
	}
	return &cpy
}

// Dispute is an open dispute record. At most one exists per job at a time.
type Dispute struct {
	Claimant common.Address `json:"claimant"`
	RaisedAt uint64         `json:"raisedAt"`
	Fee      *big.Int       `json:"fee"`
}

// Copy returns a deep copy of the dispute record.
func (d *Dispute) Copy() *Dispute {
	cpy := *d
	cpy.Fee = new(big.Int).Set(d.Fee)
	return &cpy
}

// Credential is a completion credential bound 1:1 to a job ID, minted at
// most once and only for a successful job.
type Credential struct {
	Owner    common.Address `json:"owner"`
	URI      string         `json:"uri"`
	IssuedAt uint64         `json:"issuedAt"`
}

// revision is an identifier plus journal index of a state snapshot.
type revision struct {
	id           int
	journalIndex int
}

// StateDB is the in-memory protocol ledger. Callers are expected to be
// serialized by the protocol facade; the StateDB itself performs no locking.
type StateDB struct {
	accounts    map[common.Address]*account
	stakes      map[StakeKey]*stakeEntry
	reputations map[StakeKey]*reputationEntry
	jobs        map[uint64]*types.Job
	rounds      map[uint64]*Round
	disputes    map[uint64]*Dispute
	credentials map[uint64]*Credential
	nextJobID   uint64
	logs        []*types.Log

	journal        *journal
	validRevisions []revision
	nextRevisionId int
}

// New creates an empty ledger. Job IDs are 1-indexed.
func New() *StateDB {
	return &StateDB{
		accounts:    make(map[common.Address]*account),
		stakes:      make(map[StakeKey]*stakeEntry),
		reputations: make(map[StakeKey]*reputationEntry),
		jobs:        make(map[uint64]*types.Job),
		rounds:      make(map[uint64]*Round),
		disputes:    make(map[uint64]*Dispute),
		credentials: make(map[uint64]*Credential),
		nextJobID:   1,
		journal:     newJournal(),
	}
}

// Snapshot returns an identifier for the current revision of the state.
func (s *StateDB) Snapshot() int {
	id := s.nextRevisionId
	s.nextRevisionId++
	s.validRevisions = append(s.validRevisions, revision{id, s.journal.length()})
	return id
}

// RevertToSnapshot reverts all state changes made since the given revision.
func (s *StateDB) RevertToSnapshot(revid int) {
	// Find the snapshot in the stack of valid snapshots.
	idx := sort.Search(len(s.validRevisions), func(i int) bool {
		return s.validRevisions[i].id >= revid
	})
	if idx == len(s.validRevisions) || s.validRevisions[idx].id != revid {
		panic(fmt.Errorf("revision id %v cannot be reverted", revid))
	}
	snapshot := s.validRevisions[idx].journalIndex

	// Replay the journal to undo changes and remove invalidated snapshots
	s.journal.revert(s, snapshot)
	s.validRevisions = s.validRevisions[:idx]
}

// clearJournal drops all revert information, typically after a successful
// persistence commit.
func (s *StateDB) clearJournal() {
	s.journal = newJournal()
	s.validRevisions = s.validRevisions[:0]
}

//
// Token accounts
//

func (s *StateDB) getOrNewAccount(addr common.Address) *account {
	acc, ok := s.accounts[addr]
	if !ok {
		acc = &account{Balance: new(big.Int)}
		s.accounts[addr] = acc
		s.journal.append(createAccountChange{account: addr})
	}
	return acc
}

// Exist reports whether the given account exists in the ledger.
func (s *StateDB) Exist(addr common.Address) bool {
	_, ok := s.accounts[addr]
	return ok
}

// GetBalance retrieves the token balance of the account, in grains.
func (s *StateDB) GetBalance(addr common.Address) *big.Int {
	if acc, ok := s.accounts[addr]; ok {
		return new(big.Int).Set(acc.Balance)
	}
	return new(big.Int)
}

// AddBalance adds amount to the account associated with addr.
func (s *StateDB) AddBalance(addr common.Address, amount *big.Int) {
	acc := s.getOrNewAccount(addr)
	s.journal.append(balanceChange{account: addr, prev: acc.Balance})
	acc.Balance = new(big.Int).Add(acc.Balance, amount)
}

// SubBalance subtracts amount from the account associated with addr. The
// balance is never allowed below zero.
func (s *StateDB) SubBalance(addr common.Address, amount *big.Int) error {
	acc := s.getOrNewAccount(addr)
	if acc.Balance.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance at %s: have %s, need %s",
			addr, acc.Balance, amount)
	}
	s.journal.append(balanceChange{account: addr, prev: acc.Balance})
	acc.Balance = new(big.Int).Sub(acc.Balance, amount)
	return nil
}

// Accounts returns the addresses of all token accounts in ascending order.
func (s *StateDB) Accounts() []common.Address {
	addrs := make([]common.Address, 0, len(s.accounts))
	for addr := range s.accounts {
		addrs = append(addrs, addr)
	}
	sort.Sort(common.AddressesAscending(addrs))
	return addrs
}

//
// Stake entries
//

func (s *StateDB) getOrNewStake(key StakeKey) *stakeEntry {
	entry, ok := s.stakes[key]
	if !ok {
		entry = &stakeEntry{
			Amount:            new(big.Int),
			Locked:            new(big.Int),
			PendingWithdrawal: new(big.Int),
		}
		s.stakes[key] = entry
		s.journal.append(createStakeChange{key: key})
	}
	return entry
}

// StakeAmount returns the total staked balance for (addr, role), in grains.
func (s *StateDB) StakeAmount(addr common.Address, role common.Role) *big.Int {
	if entry, ok := s.stakes[StakeKey{addr, role}]; ok {
		return new(big.Int).Set(entry.Amount)
	}
	return new(big.Int)
}

// StakeLocked returns the portion of the stake escrowed against jobs.
func (s *StateDB) StakeLocked(addr common.Address, role common.Role) *big.Int {
	if entry, ok := s.stakes[StakeKey{addr, role}]; ok {
		return new(big.Int).Set(entry.Locked)
	}
	return new(big.Int)
}

// StakeFree returns the withdrawable portion of the stake.
func (s *StateDB) StakeFree(addr common.Address, role common.Role) *big.Int {
	if entry, ok := s.stakes[StakeKey{addr, role}]; ok {
		free := new(big.Int).Sub(entry.Amount, entry.Locked)
		free.Sub(free, entry.PendingWithdrawal)
		if free.Sign() < 0 {
			return new(big.Int)
		}
		return free
	}
	return new(big.Int)
}

// PendingWithdrawal returns the queued unstake amount and its release time.
func (s *StateDB) PendingWithdrawal(addr common.Address, role common.Role) (*big.Int, uint64) {
	if entry, ok := s.stakes[StakeKey{addr, role}]; ok {
		return new(big.Int).Set(entry.PendingWithdrawal), entry.WithdrawalTime
	}
	return new(big.Int), 0
}

// AddStakeAmount increases the staked balance for (addr, role).
func (s *StateDB) AddStakeAmount(addr common.Address, role common.Role, amount *big.Int) {
	key := StakeKey{addr, role}
	entry := s.getOrNewStake(key)
	s.journal.append(stakeAmountChange{key: key, prev: entry.Amount})
	entry.Amount = new(big.Int).Add(entry.Amount, amount)
}

// SubStakeAmount decreases the staked balance for (addr, role). The amount
// invariant Amount >= 0 is enforced here as a last line of defense.
func (s *StateDB) SubStakeAmount(addr common.Address, role common.Role, amount *big.Int) error {
	key := StakeKey{addr, role}
	entry := s.getOrNewStake(key)
	if entry.Amount.Cmp(amount) < 0 {
		return fmt.Errorf("stake underflow for %s/%s: have %s, need %s",
			addr, role, entry.Amount, amount)
	}
	s.journal.append(stakeAmountChange{key: key, prev: entry.Amount})
	entry.Amount = new(big.Int).Sub(entry.Amount, amount)
	return nil
}

// AddStakeLocked increases the escrowed portion of a stake.
func (s *StateDB) AddStakeLocked(addr common.Address, role common.Role, amount *big.Int) {
	key := StakeKey{addr, role}
	entry := s.getOrNewStake(key)
	s.journal.append(stakeLockedChange{key: key, prev: entry.Locked})
	entry.Locked = new(big.Int).Add(entry.Locked, amount)
}

// SubStakeLocked releases part of the escrowed portion of a stake.
func (s *StateDB) SubStakeLocked(addr common.Address, role common.Role, amount *big.Int) error {
	key := StakeKey{addr, role}
	entry := s.getOrNewStake(key)
	if entry.Locked.Cmp(amount) < 0 {
		return fmt.Errorf("locked stake underflow for %s/%s: have %s, need %s",
			addr, role, entry.Locked, amount)
	}
	s.journal.append(stakeLockedChange{key: key, prev: entry.Locked})
	entry.Locked = new(big.Int).Sub(entry.Locked, amount)
	return nil
}

// SetPendingWithdrawal replaces the cooldown withdrawal queue entry.
func (s *StateDB) SetPendingWithdrawal(addr common.Address, role common.Role, amount *big.Int, releaseTime uint64) {
	key := StakeKey{addr, role}
	entry := s.getOrNewStake(key)
	s.journal.append(stakeWithdrawalChange{
		key:        key,
		prevAmount: entry.PendingWithdrawal,
		prevTime:   entry.WithdrawalTime,
	})
	entry.PendingWithdrawal = new(big.Int).Set(amount)
	entry.WithdrawalTime = releaseTime
}

// StakeKeys returns all stake entry keys, ordered by address then role.
func (s *StateDB) StakeKeys() []StakeKey {
	keys := make([]StakeKey, 0, len(s.stakes))
	for key := range s.stakes {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Addr != keys[j].Addr {
			return keys[i].Addr.Big().Cmp(keys[j].Addr.Big()) < 0
		}
		return keys[i].Role < keys[j].Role
	})
	return keys
}

// TotalStaked sums every stake entry's total amount, in grains.
func (s *StateDB) TotalStaked() *big.Int {
	total := new(big.Int)
	for _, entry := range s.stakes {
		total.Add(total, entry.Amount)
	}
	return total
}

//
// Reputation entries
//

func (s *StateDB) getOrNewReputation(key StakeKey) *reputationEntry {
	entry, ok := s.reputations[key]
	if !ok {
		entry = &reputationEntry{}
		s.reputations[key] = entry
		s.journal.append(createReputationChange{key: key})
	}
	return entry
}

// Reputation returns the stored (undecayed) score and its update time.
func (s *StateDB) Reputation(addr common.Address, role common.Role) (score uint64, lastUpdated uint64) {
	if entry, ok := s.reputations[StakeKey{addr, role}]; ok {
		return entry.Score, entry.LastUpdated
	}
	return 0, 0
}

// Blacklisted reports whether (addr, role) is blacklisted.
func (s *StateDB) Blacklisted(addr common.Address, role common.Role) bool {
	if entry, ok := s.reputations[StakeKey{addr, role}]; ok {
		return entry.Blacklisted
	}
	return false
}

// SetReputation stores a new score and update timestamp for (addr, role).
func (s *StateDB) SetReputation(addr common.Address, role common.Role, score uint64, updated uint64) {
	key := StakeKey{addr, role}
	entry := s.getOrNewReputation(key)
	s.journal.append(reputationChange{
		key:         key,
		prevScore:   entry.Score,
		prevUpdated: entry.LastUpdated,
	})
	entry.Score = score
	entry.LastUpdated = updated
}

// SetBlacklisted toggles the blacklist flag for (addr, role).
func (s *StateDB) SetBlacklisted(addr common.Address, role common.Role, blacklisted bool) {
	key := StakeKey{addr, role}
	entry := s.getOrNewReputation(key)
	s.journal.append(blacklistChange{key: key, prev: entry.Blacklisted})
	entry.Blacklisted = blacklisted
}

//
// Jobs
//

// NextJobID returns the identifier the next created job will receive.
func (s *StateDB) NextJobID() uint64 { return s.nextJobID }

// CreateJob inserts the job into the ledger, assigning the next job ID.
func (s *StateDB) CreateJob(job *types.Job) uint64 {
	id := s.nextJobID
	s.journal.append(createJobChange{id: id, prevNext: s.nextJobID})
	job.ID = id
	s.jobs[id] = job
	s.nextJobID = id + 1
	return id
}

// GetJob returns the job record, or nil when no such job exists. The
// returned record must only be mutated through the StateDB setters.
func (s *StateDB) GetJob(id uint64) *types.Job {
	return s.jobs[id]
}

// SetJobStatus advances the job lifecycle. The transition must be legal
// under the forward-only state machine.
func (s *StateDB) SetJobStatus(id uint64, status types.JobStatus) error {
	job := s.jobs[id]
	if job == nil {
		return fmt.Errorf("unknown job %d", id)
	}
	if !job.Status.CanAdvanceTo(status) {
		return fmt.Errorf("job %d: illegal transition %s -> %s", id, job.Status, status)
	}
	s.journal.append(jobStatusChange{id: id, prev: job.Status})
	job.Status = status
	return nil
}

// SetJobAgent binds the agent to the job.
func (s *StateDB) SetJobAgent(id uint64, agent common.Address) {
	job := s.jobs[id]
	s.journal.append(jobAgentChange{id: id, prev: job.Agent})
	job.Agent = agent
}

// SetJobSuccess records the job outcome.
func (s *StateDB) SetJobSuccess(id uint64, success types.Tristate) {
	job := s.jobs[id]
	s.journal.append(jobSuccessChange{id: id, prev: job.Success})
	job.Success = success
}

// SetJobOutput records the off-chain result pointer.
func (s *StateDB) SetJobOutput(id uint64, uri string) {
	job := s.jobs[id]
	s.journal.append(jobOutputChange{id: id, prev: job.OutputURI})
	job.OutputURI = uri
}

// JobIDs returns all job identifiers in ascending order.
func (s *StateDB) JobIDs() []uint64 {
	ids := make([]uint64, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

//
// Validation rounds
//

// CurrentRound returns the job's validation round, or nil.
func (s *StateDB) CurrentRound(jobID uint64) *Round {
	return s.rounds[jobID]
}

// OpenRound replaces the job's validation round. The previous round, if
// any, is preserved in the journal for revert.
func (s *StateDB) OpenRound(jobID uint64, round *Round) {
	s.journal.append(openRoundChange{id: jobID, prev: s.rounds[jobID]})
	s.rounds[jobID] = round
}

// RecordCommit stores a validator's commit for the job's round.
func (s *StateDB) RecordCommit(jobID uint64, validator common.Address, c *Commit) {
	s.journal.append(commitChange{id: jobID, validator: validator})
	s.rounds[jobID].Commits[validator] = c
}

// RecordReveal stores a validator's reveal for the job's round.
func (s *StateDB) RecordReveal(jobID uint64, validator common.Address, r *Reveal) {
	s.journal.append(revealChange{id: jobID, validator: validator})
	s.rounds[jobID].Reveals[validator] = r
}

// SetRoundTallied marks the round terminal with the given tallies.
func (s *StateDB) SetRoundTallied(jobID uint64, outcome bool, approvals, rejections uint64, at uint64) {
	round := s.rounds[jobID]
	s.journal.append(roundTallyChange{
		id:             jobID,
		prevTallied:    round.Tallied,
		prevOutcome:    round.Outcome,
		prevApprovals:  round.Approvals,
		prevRejections: round.Rejections,
		prevTalliedAt:  round.TalliedAt,
	})
	round.Tallied = true
	round.Outcome = outcome
	round.Approvals = approvals
	round.Rejections = rejections
	round.TalliedAt = at
}

// SetRoundChallenge flags the round result as contested.
func (s *StateDB) SetRoundChallenge(jobID uint64, challenger common.Address, bond *big.Int, at uint64) {
	round := s.rounds[jobID]
	s.journal.append(challengeChange{
		id:             jobID,
		prevChallenged: round.Challenged,
		prevChallenger: round.Challenger,
		prevBond:       round.ChallengeBond,
		prevAt:         round.ChallengedAt,
	})
	round.Challenged = true
	round.Challenger = challenger
	round.ChallengeBond = new(big.Int).Set(bond)
	round.ChallengedAt = at
}

//
// Disputes
//

// GetDispute returns the open dispute record for the job, or nil.
func (s *StateDB) GetDispute(jobID uint64) *Dispute {
	return s.disputes[jobID]
}

// OpenDispute stores a new dispute record for the job.
func (s *StateDB) OpenDispute(jobID uint64, d *Dispute) {
	s.journal.append(openDisputeChange{id: jobID})
	s.disputes[jobID] = d
}

// ClearDispute removes the job's dispute record.
func (s *StateDB) ClearDispute(jobID uint64) {
	prev, ok := s.disputes[jobID]
	if !ok {
		return
	}
	s.journal.append(clearDisputeChange{id: jobID, prev: prev})
	delete(s.disputes, jobID)
}

//
// Credentials
//

// CredentialOf returns the completion credential for the job, or nil.
func (s *StateDB) CredentialOf(jobID uint64) *Credential {
	return s.credentials[jobID]
}

// MintCredential issues the completion credential for the job. Minting
// twice for the same job is a programming error surfaced to the caller.
func (s *StateDB) MintCredential(jobID uint64, owner common.Address, uri string, at uint64) error {
	if _, ok := s.credentials[jobID]; ok {
		return fmt.Errorf("credential for job %d already minted", jobID)
	}
	s.journal.append(mintCredentialChange{id: jobID})
	s.credentials[jobID] = &Credential{Owner: owner, URI: uri, IssuedAt: at}
	return nil
}

// SetCredentialOwner reassigns a credential. The registry gates this behind
// the owner-enabled transfer switch.
func (s *StateDB) SetCredentialOwner(jobID uint64, owner common.Address) {
	cred := s.credentials[jobID]
	s.journal.append(credentialOwnerChange{id: jobID, prev: cred.Owner})
	cred.Owner = owner
}

//
// Logs
//

// AddLog appends an event record to the audit stream.
func (s *StateDB) AddLog(l *types.Log) {
	s.journal.append(addLogChange{})
	l.Index = uint64(len(s.logs))
	s.logs = append(s.logs, l)
}

// Logs returns the full event stream.
func (s *StateDB) Logs() []*types.Log {
	return s.logs
}

// LogsFor returns the events recorded for a job.
func (s *StateDB) LogsFor(jobID uint64) []*types.Log {
	var out []*types.Log
	for _, l := range s.logs {
		if l.JobID == jobID {
			out = append(out, l)
		}
	}
	return out
}
