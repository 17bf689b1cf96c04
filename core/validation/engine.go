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

// Package validation implements the commit-reveal voting rounds that certify
// submitted work. Validators first commit a blinded vote digest, then reveal
// vote and salt once the commit phase closes; votes that fail to reveal are
// abstentions. A tallied outcome can be escalated with a bonded challenge
// during the challenge window.
package validation

import (
	"encoding/binary"
	"errors"
	"math/big"

	"golang.org/x/crypto/sha3"
	log "gopkg.in/inconshreveable/log15.v2"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/stake"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/state"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/types"
	"github.com/MontrealAI/AGIJobsv0-sub011/identity"
	"github.com/MontrealAI/AGIJobsv0-sub011/params"
)

var (
	// ErrNoRound is returned when a job has no validation round open.
	ErrNoRound = errors.New("no validation round")
	// ErrRoundOpen is returned by Open while an unfinished round exists.
	ErrRoundOpen = errors.New("validation round already open")
	// ErrNotAdmitted is returned when a validator fails the identity check.
	ErrNotAdmitted = errors.New("validator not admitted by identity oracle")
	// ErrInsufficientStake is returned when a validator lacks the minimum
	// validator stake at commit time.
	ErrInsufficientStake = errors.New("validator stake below minimum")
	// ErrCommitClosed is returned for commits after the commit deadline.
	ErrCommitClosed = errors.New("commit phase closed")
	// ErrAlreadyCommitted is returned on a second commit in the same round.
	ErrAlreadyCommitted = errors.New("validator already committed")
	// ErrRevealNotOpen is returned for reveals before the commit deadline.
	ErrRevealNotOpen = errors.New("reveal phase not open")
	// ErrRevealClosed is returned for reveals after the reveal deadline.
	ErrRevealClosed = errors.New("reveal phase closed")
	// ErrNoCommit is returned when a reveal has no matching commit.
	ErrNoCommit = errors.New("no commit to reveal")
	// ErrAlreadyRevealed is returned on a second reveal in the same round.
	ErrAlreadyRevealed = errors.New("validator already revealed")
	// ErrRevealMismatch is returned when the revealed vote does not hash to
	// the committed digest.
	ErrRevealMismatch = errors.New("reveal does not match commit")
	// ErrRevealPending is returned by Finalize before the reveal deadline.
	ErrRevealPending = errors.New("reveal phase still open")
	// ErrAlreadyTallied is returned on a second Finalize of the same round.
	ErrAlreadyTallied = errors.New("round already tallied")
	// ErrNotTallied is returned by Challenge before the round is tallied.
	ErrNotTallied = errors.New("round not tallied")
	// ErrChallengeClosed is returned for challenges outside the window.
	ErrChallengeClosed = errors.New("challenge window closed")
	// ErrAlreadyChallenged is returned on a second challenge of a round.
	ErrAlreadyChallenged = errors.New("round already challenged")
)

// CommitDigest computes the blinded vote digest a validator commits to:
// keccak256(jobID || epoch || approve || salt || specHash). Binding the
// job, epoch and spec hash into the preimage makes commits non-replayable
// across jobs, rounds and spec revisions.
func CommitDigest(jobID, epoch uint64, approve bool, salt, specHash common.Hash) common.Hash {
	hasher := sha3.NewLegacyKeccak256()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], jobID)
	hasher.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], epoch)
	hasher.Write(buf[:])
	if approve {
		hasher.Write([]byte{1})
	} else {
		hasher.Write([]byte{0})
	}
	hasher.Write(salt[:])
	hasher.Write(specHash[:])
	var digest common.Hash
	hasher.(interface{ Sum([]byte) []byte }).Sum(digest[:0])
	return digest
}

// Engine runs the validation rounds. It holds a module identity of its own
// so its escrow movements pass the stake ledger's controller gate.
type Engine struct {
	state    *state.StateDB
	stakes   *stake.Manager
	config   *params.ProtocolConfig
	perms    *common.PermissionTable
	verifier identity.Verifier
	self     common.Address
	logger   log.Logger
}

// NewEngine wires a validation engine. The self address must hold the
// controller permission for challenge bonds to be lockable.
func NewEngine(st *state.StateDB, stakes *stake.Manager, config *params.ProtocolConfig, perms *common.PermissionTable, verifier identity.Verifier, self common.Address) *Engine {
	return &Engine{
		state:    st,
		stakes:   stakes,
		config:   config,
		perms:    perms,
		verifier: verifier,
		self:     self,
		logger:   log.New("module", "validation"),
	}
}

// Open starts a new commit-reveal round for a job. Controller-only: rounds
// are opened by the registry on submission and by the dispute path on
// re-validation. The epoch continues from the previous round so old votes
// cannot be replayed.
func (e *Engine) Open(origin common.Address, jobID uint64, specHash common.Hash, now uint64) error {
	if err := e.perms.Require(origin, common.PermissionController); err != nil {
		return err
	}
	epoch := uint64(1)
	if prev := e.state.CurrentRound(jobID); prev != nil {
		if !prev.Tallied {
			return ErrRoundOpen
		}
		epoch = prev.Epoch + 1
	}
	e.state.OpenRound(jobID, &state.Round{
		Epoch:          epoch,
		SpecHash:       specHash,
		CommitDeadline: now + e.config.CommitWindow,
		RevealDeadline: now + e.config.CommitWindow + e.config.RevealWindow,
		Commits:        make(map[common.Address]*state.Commit),
		Reveals:        make(map[common.Address]*state.Reveal),
	})
	e.logger.Debug("validation round opened", "job", jobID, "epoch", epoch)
	return nil
}

// Commit records a validator's blinded vote. The validator must pass the
// identity oracle and hold the minimum validator stake at commit time, and
// may commit at most once per round.
func (e *Engine) Commit(validator common.Address, jobID uint64, digest common.Hash, now uint64) error {
	round := e.state.CurrentRound(jobID)
	if round == nil || round.Tallied {
		return ErrNoRound
	}
	if now >= round.CommitDeadline {
		return ErrCommitClosed
	}
	if !e.verifier.Verify(validator, common.RoleValidator) {
		return ErrNotAdmitted
	}
	if !e.stakes.HasMinStake(validator, common.RoleValidator) {
		return ErrInsufficientStake
	}
	if _, ok := round.Commits[validator]; ok {
		return ErrAlreadyCommitted
	}
	e.state.RecordCommit(jobID, validator, &state.Commit{Hash: digest, CommittedAt: now})
	e.state.AddLog(types.NewLog(types.LogCommit, jobID,
		"validator", validator, "epoch", round.Epoch))
	return nil
}

// Reveal opens a committed vote. Accepted only between the commit and reveal
// deadlines, and only if the vote and salt hash back to the committed
// digest.
func (e *Engine) Reveal(validator common.Address, jobID uint64, approve bool, salt common.Hash, now uint64) error {
	round := e.state.CurrentRound(jobID)
	if round == nil || round.Tallied {
		return ErrNoRound
	}
	if now < round.CommitDeadline {
		return ErrRevealNotOpen
	}
	if now >= round.RevealDeadline {
		return ErrRevealClosed
	}
	commit, ok := round.Commits[validator]
	if !ok {
		return ErrNoCommit
	}
	if _, ok := round.Reveals[validator]; ok {
		return ErrAlreadyRevealed
	}
	if CommitDigest(jobID, round.Epoch, approve, salt, round.SpecHash) != commit.Hash {
		return ErrRevealMismatch
	}
	e.state.RecordReveal(jobID, validator, &state.Reveal{Approve: approve, Salt: salt, RevealedAt: now})
	e.state.AddLog(types.NewLog(types.LogReveal, jobID,
		"validator", validator, "epoch", round.Epoch, "approve", approve))
	return nil
}

// Finalize tallies a round after the reveal deadline. The majority of
// revealed votes wins; a tie, zero reveals, or a quorum shortfall resolve to
// reject. Controller-only, fires at most once per round.
func (e *Engine) Finalize(origin common.Address, jobID uint64, now uint64) (approved bool, err error) {
	if err := e.perms.Require(origin, common.PermissionController); err != nil {
		return false, err
	}
	round := e.state.CurrentRound(jobID)
	if round == nil {
		return false, ErrNoRound
	}
	if round.Tallied {
		return false, ErrAlreadyTallied
	}
	if now < round.RevealDeadline {
		return false, ErrRevealPending
	}
	var approvals, rejections uint64
	for _, reveal := range round.Reveals {
		if reveal.Approve {
			approvals++
		} else {
			rejections++
		}
	}
	approved = approvals > rejections && approvals >= e.config.ValidationQuorum
	e.state.SetRoundTallied(jobID, approved, approvals, rejections, now)
	e.state.AddLog(types.NewLog(types.LogRoundTallied, jobID,
		"epoch", round.Epoch, "approved", approved, "approvals", approvals, "rejections", rejections))
	e.logger.Debug("validation round tallied", "job", jobID, "epoch", round.Epoch,
		"approved", approved, "approvals", approvals, "rejections", rejections)
	return approved, nil
}

// Challenge contests a tallied outcome within the challenge window. The
// challenger locks the configured bond in escrow; settlement of the bond is
// deferred to the dispute resolution that the challenge triggers.
func (e *Engine) Challenge(challenger common.Address, jobID uint64, now uint64) error {
	round := e.state.CurrentRound(jobID)
	if round == nil {
		return ErrNoRound
	}
	if !round.Tallied {
		return ErrNotTallied
	}
	if round.Challenged {
		return ErrAlreadyChallenged
	}
	if now >= round.TalliedAt+e.config.ChallengeWindow {
		return ErrChallengeClosed
	}
	bond := new(big.Int).SetUint64(e.config.ChallengeBond)
	if err := e.stakes.LockFunds(e.self, challenger, bond, jobID); err != nil {
		return err
	}
	e.state.SetRoundChallenge(jobID, challenger, bond, now)
	e.state.AddLog(types.NewLog(types.LogChallenge, jobID,
		"challenger", challenger, "epoch", round.Epoch, "bond", bond))
	e.logger.Info("validation outcome challenged", "job", jobID, "challenger", challenger)
	return nil
}

// Outcome returns the tallied result of the current round.
func (e *Engine) Outcome(jobID uint64) (tallied, approved bool) {
	round := e.state.CurrentRound(jobID)
	if round == nil {
		return false, false
	}
	return round.Tallied, round.Outcome
}

// CurrentEpoch returns the epoch of the job's current round, zero when no
// round was ever opened.
func (e *Engine) CurrentEpoch(jobID uint64) uint64 {
	round := e.state.CurrentRound(jobID)
	if round == nil {
		return 0
	}
	return round.Epoch
}
