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

package validation

import (
	"errors"
	"math/big"
	"testing"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/stake"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/state"
	"github.com/MontrealAI/AGIJobsv0-sub011/identity"
	"github.com/MontrealAI/AGIJobsv0-sub011/params"
)

var (
	registry = params.RegistryAddress
	val1     = common.HexToAddress("0x1111111111111111111111111111111111111111")
	val2     = common.HexToAddress("0x2222222222222222222222222222222222222222")
	val3     = common.HexToAddress("0x3333333333333333333333333333333333333333")
	outsider = common.HexToAddress("0x9999999999999999999999999999999999999999")

	specHash = common.HexToHash("0xdeadbeef")
	salt1    = common.HexToHash("0x01")
	salt2    = common.HexToHash("0x02")
)

type harness struct {
	engine *Engine
	state  *state.StateDB
	config *params.ProtocolConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := state.New()
	cfg := params.DefaultConfig
	perms := common.NewPermissionTable()
	perms.Grant(registry, common.PermissionController)

	stakes := stake.NewManager(st, stake.NewLedgerToken(st), &cfg, perms, nil)
	verifier := identity.NewAllowlistVerifier()
	engine := NewEngine(st, stakes, &cfg, perms, verifier, registry)

	for _, v := range []common.Address{val1, val2, val3} {
		verifier.Allow(v, common.RoleValidator)
		st.AddBalance(v, new(big.Int).SetUint64(10_000*params.Token))
		if err := stakes.Deposit(v, common.RoleValidator, new(big.Int).SetUint64(1000*params.Token)); err != nil {
			t.Fatal(err)
		}
	}
	return &harness{engine: engine, state: st, config: &cfg}
}

// commit computes and submits the digest for a vote in the current round.
func (h *harness) commit(t *testing.T, v common.Address, jobID uint64, approve bool, salt common.Hash, now uint64) {
	t.Helper()
	epoch := h.engine.CurrentEpoch(jobID)
	if err := h.engine.Commit(v, jobID, CommitDigest(jobID, epoch, approve, salt, specHash), now); err != nil {
		t.Fatal(err)
	}
}

func TestOpenAuthorization(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Open(outsider, 1, specHash, 0); !errors.Is(err, common.ErrUnauthorizedCaller) {
		t.Fatalf("unauthorized open: got %v", err)
	}
	if err := h.engine.Open(registry, 1, specHash, 0); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.Open(registry, 1, specHash, 0); !errors.Is(err, ErrRoundOpen) {
		t.Fatalf("double open: got %v", err)
	}
}

func TestCommitAdmission(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Open(registry, 1, specHash, 0); err != nil {
		t.Fatal(err)
	}
	digest := CommitDigest(1, 1, true, salt1, specHash)

	// Not on the allowlist.
	if err := h.engine.Commit(outsider, 1, digest, 10); !errors.Is(err, ErrNotAdmitted) {
		t.Fatalf("unadmitted commit: got %v", err)
	}
	// Admitted but unstaked.
	h.engine.verifier.(*identity.AllowlistVerifier).Allow(outsider, common.RoleValidator)
	if err := h.engine.Commit(outsider, 1, digest, 10); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("unstaked commit: got %v", err)
	}

	if err := h.engine.Commit(val1, 1, digest, 10); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.Commit(val1, 1, digest, 11); !errors.Is(err, ErrAlreadyCommitted) {
		t.Fatalf("double commit: got %v", err)
	}
	if err := h.engine.Commit(val2, 1, digest, h.config.CommitWindow); !errors.Is(err, ErrCommitClosed) {
		t.Fatalf("late commit: got %v", err)
	}
}

func TestRevealRules(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Open(registry, 1, specHash, 0); err != nil {
		t.Fatal(err)
	}
	h.commit(t, val1, 1, true, salt1, 10)

	commitEnd := h.config.CommitWindow
	if err := h.engine.Reveal(val1, 1, true, salt1, commitEnd-1); !errors.Is(err, ErrRevealNotOpen) {
		t.Fatalf("early reveal: got %v", err)
	}
	// Flipping the vote or the salt must not verify.
	if err := h.engine.Reveal(val1, 1, false, salt1, commitEnd); !errors.Is(err, ErrRevealMismatch) {
		t.Fatalf("flipped vote: got %v", err)
	}
	if err := h.engine.Reveal(val1, 1, true, salt2, commitEnd); !errors.Is(err, ErrRevealMismatch) {
		t.Fatalf("wrong salt: got %v", err)
	}
	if err := h.engine.Reveal(val2, 1, true, salt1, commitEnd); !errors.Is(err, ErrNoCommit) {
		t.Fatalf("reveal without commit: got %v", err)
	}
	if err := h.engine.Reveal(val1, 1, true, salt1, commitEnd); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.Reveal(val1, 1, true, salt1, commitEnd+1); !errors.Is(err, ErrAlreadyRevealed) {
		t.Fatalf("double reveal: got %v", err)
	}

	revealEnd := h.config.CommitWindow + h.config.RevealWindow
	if err := h.engine.Reveal(val3, 1, true, salt1, revealEnd); !errors.Is(err, ErrRevealClosed) {
		t.Fatalf("late reveal: got %v", err)
	}
}

func TestFinalizeMajority(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Open(registry, 1, specHash, 0); err != nil {
		t.Fatal(err)
	}
	h.commit(t, val1, 1, true, salt1, 10)
	h.commit(t, val2, 1, true, salt2, 10)
	h.commit(t, val3, 1, false, salt1, 10)

	commitEnd := h.config.CommitWindow
	for _, r := range []struct {
		v       common.Address
		approve bool
		salt    common.Hash
	}{{val1, true, salt1}, {val2, true, salt2}, {val3, false, salt1}} {
		if err := h.engine.Reveal(r.v, 1, r.approve, r.salt, commitEnd); err != nil {
			t.Fatal(err)
		}
	}

	revealEnd := commitEnd + h.config.RevealWindow
	if _, err := h.engine.Finalize(registry, 1, revealEnd-1); !errors.Is(err, ErrRevealPending) {
		t.Fatalf("early finalize: got %v", err)
	}
	approved, err := h.engine.Finalize(registry, 1, revealEnd)
	if err != nil {
		t.Fatal(err)
	}
	if !approved {
		t.Fatal("2-1 approval should certify success")
	}
	if _, err := h.engine.Finalize(registry, 1, revealEnd+1); !errors.Is(err, ErrAlreadyTallied) {
		t.Fatalf("double finalize: got %v", err)
	}
}

func TestFinalizeRejectFallbacks(t *testing.T) {
	revealEnd := params.DefaultConfig.CommitWindow + params.DefaultConfig.RevealWindow

	t.Run("zero reveals", func(t *testing.T) {
		h := newHarness(t)
		if err := h.engine.Open(registry, 1, specHash, 0); err != nil {
			t.Fatal(err)
		}
		h.commit(t, val1, 1, true, salt1, 10) // commits but never reveals
		approved, err := h.engine.Finalize(registry, 1, revealEnd)
		if err != nil {
			t.Fatal(err)
		}
		if approved {
			t.Fatal("zero reveals must resolve to reject")
		}
	})

	t.Run("tie", func(t *testing.T) {
		h := newHarness(t)
		if err := h.engine.Open(registry, 1, specHash, 0); err != nil {
			t.Fatal(err)
		}
		h.commit(t, val1, 1, true, salt1, 10)
		h.commit(t, val2, 1, false, salt2, 10)
		if err := h.engine.Reveal(val1, 1, true, salt1, h.config.CommitWindow); err != nil {
			t.Fatal(err)
		}
		if err := h.engine.Reveal(val2, 1, false, salt2, h.config.CommitWindow); err != nil {
			t.Fatal(err)
		}
		approved, err := h.engine.Finalize(registry, 1, revealEnd)
		if err != nil {
			t.Fatal(err)
		}
		if approved {
			t.Fatal("a tie must resolve to reject")
		}
	})

	t.Run("quorum shortfall", func(t *testing.T) {
		h := newHarness(t)
		h.config.ValidationQuorum = 2
		if err := h.engine.Open(registry, 1, specHash, 0); err != nil {
			t.Fatal(err)
		}
		h.commit(t, val1, 1, true, salt1, 10)
		if err := h.engine.Reveal(val1, 1, true, salt1, h.config.CommitWindow); err != nil {
			t.Fatal(err)
		}
		approved, err := h.engine.Finalize(registry, 1, revealEnd)
		if err != nil {
			t.Fatal(err)
		}
		if approved {
			t.Fatal("a lone approval below quorum must resolve to reject")
		}
	})
}

func TestEpochReplayProtection(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Open(registry, 1, specHash, 0); err != nil {
		t.Fatal(err)
	}
	revealEnd := h.config.CommitWindow + h.config.RevealWindow
	if _, err := h.engine.Finalize(registry, 1, revealEnd); err != nil {
		t.Fatal(err)
	}

	// Second round continues the epoch sequence.
	if err := h.engine.Open(registry, 1, specHash, revealEnd); err != nil {
		t.Fatal(err)
	}
	if got := h.engine.CurrentEpoch(1); got != 2 {
		t.Fatalf("epoch = %d, want 2", got)
	}

	// A digest computed against the old epoch commits fine (it is opaque)
	// but can never be revealed in the new round.
	stale := CommitDigest(1, 1, true, salt1, specHash)
	if err := h.engine.Commit(val1, 1, stale, revealEnd+10); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.Reveal(val1, 1, true, salt1, revealEnd+h.config.CommitWindow); !errors.Is(err, ErrRevealMismatch) {
		t.Fatalf("stale reveal: got %v", err)
	}
}

func TestChallenge(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Open(registry, 1, specHash, 0); err != nil {
		t.Fatal(err)
	}
	if err := h.engine.Challenge(val1, 1, 10); !errors.Is(err, ErrNotTallied) {
		t.Fatalf("premature challenge: got %v", err)
	}
	revealEnd := h.config.CommitWindow + h.config.RevealWindow
	if _, err := h.engine.Finalize(registry, 1, revealEnd); err != nil {
		t.Fatal(err)
	}

	// Challenger without the bond balance is refused.
	if err := h.engine.Challenge(outsider, 1, revealEnd+1); err == nil {
		t.Fatal("penniless challenge should fail")
	}

	escrowBefore := h.state.GetBalance(params.EscrowAddress)
	if err := h.engine.Challenge(val1, 1, revealEnd+1); err != nil {
		t.Fatal(err)
	}
	bond := new(big.Int).SetUint64(h.config.ChallengeBond)
	diff := new(big.Int).Sub(h.state.GetBalance(params.EscrowAddress), escrowBefore)
	if diff.Cmp(bond) != 0 {
		t.Fatalf("escrowed bond = %s, want %s", diff, bond)
	}
	if err := h.engine.Challenge(val2, 1, revealEnd+2); !errors.Is(err, ErrAlreadyChallenged) {
		t.Fatalf("double challenge: got %v", err)
	}

	round := h.state.CurrentRound(1)
	if !round.Challenged || round.Challenger != val1 {
		t.Fatal("challenge not recorded on the round")
	}
}

func TestChallengeWindowCloses(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Open(registry, 1, specHash, 0); err != nil {
		t.Fatal(err)
	}
	revealEnd := h.config.CommitWindow + h.config.RevealWindow
	if _, err := h.engine.Finalize(registry, 1, revealEnd); err != nil {
		t.Fatal(err)
	}
	closed := revealEnd + h.config.ChallengeWindow
	if err := h.engine.Challenge(val1, 1, closed); !errors.Is(err, ErrChallengeClosed) {
		t.Fatalf("late challenge: got %v", err)
	}
}
