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
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/types"
	"github.com/MontrealAI/AGIJobsv0-sub011/jobsdb"
)

// ledgerKey is the database key the ledger snapshot is stored under.
var ledgerKey = []byte("agijobs-ledger")

// stakeDump is the serialized form of a stake entry.
type stakeDump struct {
	Addr              common.Address `json:"addr"`
	Role              common.Role    `json:"role"`
	Amount            *big.Int       `json:"amount"`
	Locked            *big.Int       `json:"locked"`
	PendingWithdrawal *big.Int       `json:"pendingWithdrawal"`
	WithdrawalTime    uint64         `json:"withdrawalTime"`
}

// reputationDump is the serialized form of a reputation entry.
type reputationDump struct {
	Addr        common.Address `json:"addr"`
	Role        common.Role    `json:"role"`
	Score       uint64         `json:"score"`
	LastUpdated uint64         `json:"lastUpdated"`
	Blacklisted bool           `json:"blacklisted"`
}

// ledgerDump is the full serialized ledger, complete enough to rebuild the
// StateDB without replaying the event stream.
type ledgerDump struct {
	NextJobID   uint64                     `json:"nextJobId"`
	Accounts    map[string]*big.Int        `json:"accounts"`
	Stakes      []stakeDump                `json:"stakes"`
	Reputations []reputationDump           `json:"reputations"`
	Jobs        []*types.Job               `json:"jobs"`
	Rounds      map[string]*Round          `json:"rounds"`
	Disputes    map[string]*Dispute        `json:"disputes"`
	Credentials map[string]*Credential     `json:"credentials"`
	Logs        []*types.Log               `json:"logs"`
}

// dump serializes the ledger into its persistent form.
func (s *StateDB) dump() *ledgerDump {
	d := &ledgerDump{
		NextJobID:   s.nextJobID,
		Accounts:    make(map[string]*big.Int, len(s.accounts)),
		Rounds:      make(map[string]*Round, len(s.rounds)),
		Disputes:    make(map[string]*Dispute, len(s.disputes)),
		Credentials: make(map[string]*Credential, len(s.credentials)),
		Logs:        s.logs,
	}
	for _, addr := range s.Accounts() {
		d.Accounts[addr.Hex()] = s.accounts[addr].Balance
	}
	for _, key := range s.StakeKeys() {
		entry := s.stakes[key]
		d.Stakes = append(d.Stakes, stakeDump{
			Addr:              key.Addr,
			Role:              key.Role,
			Amount:            entry.Amount,
			Locked:            entry.Locked,
			PendingWithdrawal: entry.PendingWithdrawal,
			WithdrawalTime:    entry.WithdrawalTime,
		})
	}
	for key, entry := range s.reputations {
		d.Reputations = append(d.Reputations, reputationDump{
			Addr:        key.Addr,
			Role:        key.Role,
			Score:       entry.Score,
			LastUpdated: entry.LastUpdated,
			Blacklisted: entry.Blacklisted,
		})
	}
	for _, id := range s.JobIDs() {
		d.Jobs = append(d.Jobs, s.jobs[id])
	}
	for id, round := range s.rounds {
		d.Rounds[strconv.FormatUint(id, 10)] = round
	}
	for id, dispute := range s.disputes {
		d.Disputes[strconv.FormatUint(id, 10)] = dispute
	}
	for id, cred := range s.credentials {
		d.Credentials[strconv.FormatUint(id, 10)] = cred
	}
	return d
}

// Commit persists the ledger snapshot into the database and clears the
// journal: committed state is the new revert baseline.
func (s *StateDB) Commit(db jobsdb.Database) error {
	blob, err := json.Marshal(s.dump())
	if err != nil {
		return err
	}
	if err := db.Put(ledgerKey, blob); err != nil {
		return err
	}
	s.clearJournal()
	return nil
}

// Load restores a ledger snapshot from the database.
func Load(db jobsdb.Database) (*StateDB, error) {
	blob, err := db.Get(ledgerKey)
	if err != nil {
		return nil, err
	}
	d := new(ledgerDump)
	if err := json.Unmarshal(blob, d); err != nil {
		return nil, err
	}

	s := New()
	s.nextJobID = d.NextJobID
	for hexAddr, balance := range d.Accounts {
		s.accounts[common.HexToAddress(hexAddr)] = &account{Balance: balance}
	}
	for _, sd := range d.Stakes {
		s.stakes[StakeKey{sd.Addr, sd.Role}] = &stakeEntry{
			Amount:            sd.Amount,
			Locked:            sd.Locked,
			PendingWithdrawal: sd.PendingWithdrawal,
			WithdrawalTime:    sd.WithdrawalTime,
		}
	}
	for _, rd := range d.Reputations {
		s.reputations[StakeKey{rd.Addr, rd.Role}] = &reputationEntry{
			Score:       rd.Score,
			LastUpdated: rd.LastUpdated,
			Blacklisted: rd.Blacklisted,
		}
	}
	for _, job := range d.Jobs {
		s.jobs[job.ID] = job
	}
	for key, round := range d.Rounds {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt round key %q: %w", key, err)
		}
		if round.Commits == nil {
			round.Commits = make(map[common.Address]*Commit)
		}
		if round.Reveals == nil {
			round.Reveals = make(map[common.Address]*Reveal)
		}
		s.rounds[id] = round
	}
	for key, dispute := range d.Disputes {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt dispute key %q: %w", key, err)
		}
		s.disputes[id] = dispute
	}
	for key, cred := range d.Credentials {
		id, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt credential key %q: %w", key, err)
		}
		s.credentials[id] = cred
	}
	s.logs = d.Logs
	return s, nil
}
