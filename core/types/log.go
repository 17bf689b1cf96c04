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

package types

import "fmt"

// Log event names emitted by the protocol. The log stream is the audit
// trail: it must be complete enough to rebuild full ledger state.
const (
	LogJobCreated     = "JobCreated"
	LogJobAssigned    = "JobAssigned"
	LogJobSubmitted   = "JobSubmitted"
	LogJobCompleted   = "JobCompleted"
	LogJobDisputed    = "JobDisputed"
	LogJobFinalized   = "JobFinalized"
	LogJobCancelled   = "JobCancelled"
	LogStakeDeposited = "StakeDeposited"
	LogStakeWithdrawn = "StakeWithdrawn"
	LogUnstakeQueued  = "UnstakeQueued"
	LogStakeLocked    = "StakeLocked"
	LogStakeReleased  = "StakeReleased"
	LogStakeSlashed   = "StakeSlashed"
	LogEscrowFunded   = "EscrowFunded"
	LogEscrowPaid     = "EscrowPaid"
	LogRepChanged     = "ReputationChanged"
	LogBlacklist      = "BlacklistChanged"
	LogCommit         = "ValidationCommit"
	LogReveal         = "ValidationReveal"
	LogRoundTallied   = "ValidationTallied"
	LogChallenge      = "OutcomeChallenged"
	LogDisputeRaised  = "DisputeRaised"
	LogDisputeSettled = "DisputeResolved"
	LogCredential     = "CredentialMinted"
)

// LogField is a single key/value attribute of a log record. Values are
// stringified so the stream serializes without type information.
type LogField struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Log is a structured event record appended to the ledger on every state
// transition. Index is assigned by the state when the record is added.
type Log struct {
	Name   string     `json:"name"`
	JobID  uint64     `json:"jobId"` // zero when not job-scoped
	Index  uint64     `json:"index"`
	Fields []LogField `json:"fields"`
}

// NewLog builds a log record from alternating key/value pairs, mirroring
// the call shape of the structured logger.
func NewLog(name string, jobID uint64, kv ...interface{}) *Log {
	l := &Log{Name: name, JobID: jobID}
	for i := 0; i+1 < len(kv); i += 2 {
		l.Fields = append(l.Fields, LogField{
			Key:   fmt.Sprint(kv[i]),
			Value: fmt.Sprint(kv[i+1]),
		})
	}
	return l
}

// Field returns the value for a key, or the empty string.
func (l *Log) Field(key string) string {
	for _, f := range l.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}
