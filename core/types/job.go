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

import (
	"math/big"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
)

// JobStatus is the lifecycle state of a job. Transitions are strictly
// forward: None -> Created -> Completed -> {Disputed -> Completed} -> Finalized.
type JobStatus uint8

const (
	JobNone JobStatus = iota
	JobCreated
	JobCompleted
	JobDisputed
	JobFinalized
)

// String implements fmt.Stringer.
func (s JobStatus) String() string {
	switch s {
	case JobNone:
		return "none"
	case JobCreated:
		return "created"
	case JobCompleted:
		return "completed"
	case JobDisputed:
		return "disputed"
	case JobFinalized:
		return "finalized"
	}
	return "invalid"
}

// CanAdvanceTo reports whether the transition from s to next is allowed by
// the lifecycle state machine. A job is never deleted, so there is no
// transition out of Finalized.
func (s JobStatus) CanAdvanceTo(next JobStatus) bool {
	switch s {
	case JobNone:
		return next == JobCreated
	case JobCreated:
		// Created -> Finalized covers employer cancellation of an
		// unassigned job; the registry guards the agent check.
		return next == JobCompleted || next == JobFinalized
	case JobCompleted:
		return next == JobDisputed || next == JobFinalized
	case JobDisputed:
		return next == JobCompleted
	}
	return false
}

// Tristate is the job outcome: unset until validation records a verdict.
type Tristate uint8

const (
	SuccessUnset Tristate = iota
	SuccessTrue
	SuccessFalse
)

// String implements fmt.Stringer.
func (t Tristate) String() string {
	switch t {
	case SuccessTrue:
		return "true"
	case SuccessFalse:
		return "false"
	}
	return "unset"
}

// Job is the on-ledger record of a posted job. IDs are 1-indexed, strictly
// increasing and never reused; finalized jobs are retained as a historical
// record.
type Job struct {
	ID       uint64         `json:"id"`
	Employer common.Address `json:"employer"`
	Agent    common.Address `json:"agent"` // zero until assignment

	Reward *big.Int `json:"reward"` // grains, escrowed at creation
	Fee    *big.Int `json:"fee"`    // grains, reward*feePct/100 at creation
	Stake  *big.Int `json:"stake"`  // grains, required agent collateral

	Success Tristate  `json:"success"`
	Status  JobStatus `json:"status"`

	SpecHash  common.Hash `json:"specHash"`  // binds commits to the job spec
	URI       string      `json:"uri"`       // off-chain job description
	OutputURI string      `json:"outputURI"` // off-chain result pointer

	CreatedAt uint64 `json:"createdAt"` // unix seconds
	Deadline  uint64 `json:"deadline"`  // submission deadline, unix seconds
}

// Assigned reports whether an agent has been bound to the job.
func (j *Job) Assigned() bool { return !j.Agent.IsZero() }

// EscrowTotal returns reward+fee, the amount locked from the employer.
func (j *Job) EscrowTotal() *big.Int {
	return new(big.Int).Add(j.Reward, j.Fee)
}

// Copy returns a deep copy of the job.
func (j *Job) Copy() *Job {
	cpy := *j
	cpy.Reward = new(big.Int).Set(j.Reward)
	cpy.Fee = new(big.Int).Set(j.Fee)
	cpy.Stake = new(big.Int).Set(j.Stake)
	return &cpy
}
