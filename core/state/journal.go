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

package state

import (
	"math/big"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/types"
)

// journalEntry is a modification entry in the state change journal that can
// be reverted on demand.
type journalEntry interface {
	// revert undoes the changes introduced by this journal entry.
	revert(*StateDB)
}

// journal contains the list of state modifications applied since the last
// state commit. These are tracked to be able to be reverted in case of an
// execution error or revertal request.
type journal struct {
	entries []journalEntry // Current changes tracked by the journal
}

// newJournal creates a new initialized journal.
func newJournal() *journal {
	return &journal{}
}

// append inserts a new modification entry to the end of the change journal.
func (j *journal) append(entry journalEntry) {
	j.entries = append(j.entries, entry)
}

// revert undoes a batch of journalled modifications.
func (j *journal) revert(statedb *StateDB, snapshot int) {
	for i := len(j.entries) - 1; i >= snapshot; i-- {
		j.entries[i].revert(statedb)
	}
	j.entries = j.entries[:snapshot]
}

// length returns the current number of entries in the journal.
func (j *journal) length() int {
	return len(j.entries)
}

type (
	// Changes to token accounts.
	createAccountChange struct {
		account common.Address
	}
	balanceChange struct {
		account common.Address
		prev    *big.Int
	}

	// Changes to stake entries.
	createStakeChange struct {
		key StakeKey
	}
	stakeAmountChange struct {
		key  StakeKey
		prev *big.Int
	}
	stakeLockedChange struct {
		key  StakeKey
		prev *big.Int
	}
	stakeWithdrawalChange struct {
		key        StakeKey
		prevAmount *big.Int
		prevTime   uint64
	}

	// Changes to reputation entries.
	createReputationChange struct {
		key StakeKey
	}
	reputationChange struct {
		key         StakeKey
		prevScore   uint64
		prevUpdated uint64
	}
	blacklistChange struct {
		key  StakeKey
		prev bool
	}

	// Changes to the job table.
	createJobChange struct {
		id       uint64
		prevNext uint64
	}
	jobStatusChange struct {
		id   uint64
		prev types.JobStatus
	}
	jobAgentChange struct {
		id   uint64
		prev common.Address
	}
	jobSuccessChange struct {
		id   uint64
		prev types.Tristate
	}
	jobOutputChange struct {
		id   uint64
		prev string
	}

	// Changes to validation rounds.
	openRoundChange struct {
		id   uint64
		prev *Round // nil when no round existed
	}
	commitChange struct {
		id        uint64
		validator common.Address
	}
	revealChange struct {
		id        uint64
		validator common.Address
	}
	roundTallyChange struct {
		id             uint64
		prevTallied    bool
		prevOutcome    bool
		prevApprovals  uint64
		prevRejections uint64
		prevTalliedAt  uint64
	}
	challengeChange struct {
		id             uint64
		prevChallenged bool
		prevChallenger common.Address
		prevBond       *big.Int
		prevAt         uint64
	}

	// Changes to dispute records.
	openDisputeChange struct {
		id uint64
	}
	clearDisputeChange struct {
		id   uint64
		prev *Dispute
	}

	// Changes to completion credentials.
	mintCredentialChange struct {
		id uint64
	}
	credentialOwnerChange struct {
		id   uint64
		prev common.Address
	}

	// Changes to the log stream.
	addLogChange struct{}
)

func (ch createAccountChange) revert(s *StateDB) {
	delete(s.accounts, ch.account)
}

func (ch balanceChange) revert(s *StateDB) {
	s.accounts[ch.account].Balance = ch.prev
}

func (ch createStakeChange) revert(s *StateDB) {
	delete(s.stakes, ch.key)
}

func (ch stakeAmountChange) revert(s *StateDB) {
	s.stakes[ch.key].Amount = ch.prev
}

func (ch stakeLockedChange) revert(s *StateDB) {
	s.stakes[ch.key].Locked = ch.prev
}

func (ch stakeWithdrawalChange) revert(s *StateDB) {
	entry := s.stakes[ch.key]
	entry.PendingWithdrawal = ch.prevAmount
	entry.WithdrawalTime = ch.prevTime
}

func (ch createReputationChange) revert(s *StateDB) {
	delete(s.reputations, ch.key)
}

func (ch reputationChange) revert(s *StateDB) {
	entry := s.reputations[ch.key]
	entry.Score = ch.prevScore
	entry.LastUpdated = ch.prevUpdated
}

func (ch blacklistChange) revert(s *StateDB) {
	s.reputations[ch.key].Blacklisted = ch.prev
}

func (ch createJobChange) revert(s *StateDB) {
	delete(s.jobs, ch.id)
	s.nextJobID = ch.prevNext
}

func (ch jobStatusChange) revert(s *StateDB) {
	s.jobs[ch.id].Status = ch.prev
}

func (ch jobAgentChange) revert(s *StateDB) {
	s.jobs[ch.id].Agent = ch.prev
}

func (ch jobSuccessChange) revert(s *StateDB) {
	s.jobs[ch.id].Success = ch.prev
}

func (ch jobOutputChange) revert(s *StateDB) {
	s.jobs[ch.id].OutputURI = ch.prev
}

func (ch openRoundChange) revert(s *StateDB) {
	if ch.prev == nil {
		delete(s.rounds, ch.id)
	} else {
		s.rounds[ch.id] = ch.prev
	}
}

func (ch commitChange) revert(s *StateDB) {
	delete(s.rounds[ch.id].Commits, ch.validator)
}

func (ch revealChange) revert(s *StateDB) {
	delete(s.rounds[ch.id].Reveals, ch.validator)
}

func (ch roundTallyChange) revert(s *StateDB) {
	round := s.rounds[ch.id]
	round.Tallied = ch.prevTallied
	round.Outcome = ch.prevOutcome
	round.Approvals = ch.prevApprovals
	round.Rejections = ch.prevRejections
	round.TalliedAt = ch.prevTalliedAt
}

func (ch challengeChange) revert(s *StateDB) {
	round := s.rounds[ch.id]
	round.Challenged = ch.prevChallenged
	round.Challenger = ch.prevChallenger
	round.ChallengeBond = ch.prevBond
	round.ChallengedAt = ch.prevAt
}

func (ch openDisputeChange) revert(s *StateDB) {
	delete(s.disputes, ch.id)
}

func (ch clearDisputeChange) revert(s *StateDB) {
	s.disputes[ch.id] = ch.prev
}

func (ch mintCredentialChange) revert(s *StateDB) {
	delete(s.credentials, ch.id)
}

func (ch credentialOwnerChange) revert(s *StateDB) {
	s.credentials[ch.id].Owner = ch.prev
}

func (ch addLogChange) revert(s *StateDB) {
	s.logs = s.logs[:len(s.logs)-1]
}
