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

package dispute

import (
	"errors"
	"math/big"
	"testing"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/reputation"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/stake"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/state"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/types"
	"github.com/MontrealAI/AGIJobsv0-sub011/params"
)

var (
	moduleSelf = common.HexToAddress("0x0000000000000000000000000000000044697370")
	arbiter    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	employer   = common.HexToAddress("0x2222222222222222222222222222222222222222")
	agent      = common.HexToAddress("0x3333333333333333333333333333333333333333")
	outsider   = common.HexToAddress("0x9999999999999999999999999999999999999999")
)

type verdictCall struct {
	jobID     uint64
	agentWins bool
}

type verdictBook struct {
	calls []verdictCall
}

func (b *verdictBook) ApplyVerdict(origin common.Address, jobID uint64, agentWins bool, now uint64) error {
	b.calls = append(b.calls, verdictCall{jobID, agentWins})
	return nil
}

type harness struct {
	resolver *Resolver
	state    *state.StateDB
	rep      *reputation.Engine
	config   *params.ProtocolConfig
	book     *verdictBook
	jobID    uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := state.New()
	cfg := params.DefaultConfig
	perms := common.NewPermissionTable()
	perms.Grant(moduleSelf, common.PermissionController)
	perms.Grant(arbiter, common.PermissionArbitrator)

	stakes := stake.NewManager(st, stake.NewLedgerToken(st), &cfg, perms, nil)
	rep := reputation.NewEngine(st, &cfg)
	rep.Authorize(moduleSelf, common.RoleAgent)
	rep.Authorize(moduleSelf, common.RoleEmployer)

	r := NewResolver(st, stakes, rep, &cfg, perms, moduleSelf)
	book := &verdictBook{}
	r.SetJobBook(book)

	st.AddBalance(employer, new(big.Int).SetUint64(10_000*params.Token))
	st.AddBalance(agent, new(big.Int).SetUint64(10_000*params.Token))

	id := st.CreateJob(&types.Job{
		Employer: employer,
		Reward:   new(big.Int).SetUint64(1000 * params.Token),
		Fee:      new(big.Int).SetUint64(50 * params.Token),
		Stake:    new(big.Int).SetUint64(200 * params.Token),
	})
	if err := st.SetJobStatus(id, types.JobCreated); err != nil {
		t.Fatal(err)
	}
	st.SetJobAgent(id, agent)
	if err := st.SetJobStatus(id, types.JobCompleted); err != nil {
		t.Fatal(err)
	}
	return &harness{resolver: r, state: st, rep: rep, config: &cfg, book: book, jobID: id}
}

func TestRaiseParties(t *testing.T) {
	h := newHarness(t)

	if err := h.resolver.Raise(outsider, h.jobID, 100); !errors.Is(err, ErrNotParty) {
		t.Fatalf("outsider raise: got %v", err)
	}
	if err := h.resolver.Raise(agent, 42, 100); !errors.Is(err, ErrNoSuchJob) {
		t.Fatalf("unknown job: got %v", err)
	}
	if err := h.resolver.Raise(agent, h.jobID, 100); err != nil {
		t.Fatal(err)
	}

	d := h.state.GetDispute(h.jobID)
	if d == nil || d.Claimant != agent || d.RaisedAt != 100 {
		t.Fatal("dispute record not written")
	}
	if h.state.GetJob(h.jobID).Status != types.JobDisputed {
		t.Fatal("job should be in the disputed state")
	}
	fee := new(big.Int).SetUint64(h.config.DisputeFee)
	if got := h.state.GetBalance(params.EscrowAddress); got.Cmp(fee) != 0 {
		t.Fatalf("escrowed fee = %s, want %s", got, fee)
	}

	// A disputed job cannot be disputed again.
	if err := h.resolver.Raise(employer, h.jobID, 101); !errors.Is(err, ErrNotDisputable) {
		t.Fatalf("double raise: got %v", err)
	}
}

func TestRaiseRequiresCompletedJob(t *testing.T) {
	h := newHarness(t)
	id := h.state.CreateJob(&types.Job{Employer: employer, Reward: new(big.Int), Fee: new(big.Int), Stake: new(big.Int)})
	if err := h.state.SetJobStatus(id, types.JobCreated); err != nil {
		t.Fatal(err)
	}
	if err := h.resolver.Raise(employer, id, 100); !errors.Is(err, ErrNotDisputable) {
		t.Fatalf("dispute of unfinished job: got %v", err)
	}
}

func TestResolveGates(t *testing.T) {
	h := newHarness(t)
	if err := h.resolver.Resolve(arbiter, h.jobID, true, 100); !errors.Is(err, ErrNoDispute) {
		t.Fatalf("resolve without dispute: got %v", err)
	}
	if err := h.resolver.Raise(agent, h.jobID, 100); err != nil {
		t.Fatal(err)
	}
	if err := h.resolver.Resolve(outsider, h.jobID, true, 100+h.config.DisputeWindow); !errors.Is(err, common.ErrUnauthorizedCaller) {
		t.Fatalf("unauthorized resolve: got %v", err)
	}
	if err := h.resolver.Resolve(arbiter, h.jobID, true, 99+h.config.DisputeWindow); !errors.Is(err, ErrWindowOpen) {
		t.Fatalf("early resolve: got %v", err)
	}
}

func TestResolveAgentWins(t *testing.T) {
	h := newHarness(t)
	if err := h.resolver.Raise(agent, h.jobID, 100); err != nil {
		t.Fatal(err)
	}
	now := 100 + h.config.DisputeWindow
	agentBefore := new(big.Int).Set(h.state.GetBalance(agent))
	employerBefore := new(big.Int).Set(h.state.GetBalance(employer))

	if err := h.resolver.Resolve(arbiter, h.jobID, true, now); err != nil {
		t.Fatal(err)
	}

	// Winner recovers the locked fee and collects the loser-funded bonus.
	fee := new(big.Int).SetUint64(h.config.DisputeFee)
	wantAgent := new(big.Int).Add(agentBefore, new(big.Int).Add(fee, fee))
	if got := h.state.GetBalance(agent); got.Cmp(wantAgent) != 0 {
		t.Fatalf("agent balance = %s, want %s", got, wantAgent)
	}
	wantEmployer := new(big.Int).Sub(employerBefore, fee)
	if got := h.state.GetBalance(employer); got.Cmp(wantEmployer) != 0 {
		t.Fatalf("employer balance = %s, want %s", got, wantEmployer)
	}

	// Reputation moved both ways.
	if got := h.rep.ReputationOf(agent, common.RoleAgent, now); got == 0 {
		t.Fatal("winner should gain reputation")
	}
	// The employer threshold defaults to zero, so the penalty alone does
	// not blacklist.
	if h.rep.IsBlacklisted(employer, common.RoleEmployer) {
		t.Fatal("employer should not be blacklisted with a zero threshold")
	}

	// The verdict reached the registry and the record is gone.
	if len(h.book.calls) != 1 || !h.book.calls[0].agentWins || h.book.calls[0].jobID != h.jobID {
		t.Fatalf("verdict calls = %+v", h.book.calls)
	}
	if h.state.GetDispute(h.jobID) != nil {
		t.Fatal("dispute record should be cleared")
	}

	// Double resolve finds nothing.
	if err := h.resolver.Resolve(arbiter, h.jobID, true, now+1); !errors.Is(err, ErrNoDispute) {
		t.Fatalf("double resolve: got %v", err)
	}
}

func TestResolveEmployerWins(t *testing.T) {
	h := newHarness(t)
	if err := h.resolver.Raise(employer, h.jobID, 100); err != nil {
		t.Fatal(err)
	}
	now := 100 + h.config.DisputeWindow
	if err := h.resolver.Resolve(arbiter, h.jobID, false, now); err != nil {
		t.Fatal(err)
	}
	if len(h.book.calls) != 1 || h.book.calls[0].agentWins {
		t.Fatalf("verdict calls = %+v", h.book.calls)
	}
	// The losing agent took the reputation penalty.
	if score, _ := h.state.Reputation(agent, common.RoleAgent); score != 0 {
		t.Fatalf("agent score = %d, want 0", score)
	}
	if !h.rep.IsBlacklisted(agent, common.RoleAgent) {
		t.Fatal("agent penalized to zero should fall under the blacklist threshold")
	}
}

func TestBlacklistedWinnerForfeitsReputation(t *testing.T) {
	h := newHarness(t)
	h.state.SetBlacklisted(agent, common.RoleAgent, true)
	if err := h.resolver.Raise(agent, h.jobID, 100); err != nil {
		t.Fatal(err)
	}
	now := 100 + h.config.DisputeWindow
	agentBefore := new(big.Int).Set(h.state.GetBalance(agent))

	if err := h.resolver.Resolve(arbiter, h.jobID, true, now); err != nil {
		t.Fatal(err)
	}
	if got := h.rep.ReputationOf(agent, common.RoleAgent, now); got != 0 {
		t.Fatalf("blacklisted winner gained reputation: %d", got)
	}
	// The money still flows.
	if got := h.state.GetBalance(agent); got.Cmp(agentBefore) <= 0 {
		t.Fatal("blacklisted winner should still receive the fee and bonus")
	}
}

func TestInsolventLoserSkipsBonus(t *testing.T) {
	h := newHarness(t)
	if err := h.resolver.Raise(agent, h.jobID, 100); err != nil {
		t.Fatal(err)
	}
	// Drain the employer.
	drain := h.state.GetBalance(employer)
	if err := h.state.SubBalance(employer, drain); err != nil {
		t.Fatal(err)
	}

	now := 100 + h.config.DisputeWindow
	if err := h.resolver.Resolve(arbiter, h.jobID, true, now); err != nil {
		t.Fatal(err)
	}
	// Only the locked fee came back, no bonus.
	want := new(big.Int).SetUint64(10_000 * params.Token)
	if got := h.state.GetBalance(agent); got.Cmp(want) != 0 {
		t.Fatalf("agent balance = %s, want %s", got, want)
	}
	if len(h.book.calls) != 1 {
		t.Fatal("resolution must not be blocked by an insolvent loser")
	}
}

func TestChallengeBondSettlement(t *testing.T) {
	h := newHarness(t)
	bond := new(big.Int).SetUint64(h.config.ChallengeBond)

	// Tallied reject, challenged by the agent, verdict overturns: the
	// challenger gets the bond back.
	h.state.OpenRound(h.jobID, &state.Round{
		Epoch:   1,
		Commits: make(map[common.Address]*state.Commit),
		Reveals: make(map[common.Address]*state.Reveal),
	})
	h.state.SetRoundTallied(h.jobID, false, 0, 1, 90)
	h.state.SetRoundChallenge(h.jobID, agent, bond, 95)
	h.state.AddBalance(params.EscrowAddress, bond) // bond escrowed at challenge time

	if err := h.resolver.Raise(agent, h.jobID, 100); err != nil {
		t.Fatal(err)
	}
	now := 100 + h.config.DisputeWindow
	agentBefore := new(big.Int).Set(h.state.GetBalance(agent))
	if err := h.resolver.Resolve(arbiter, h.jobID, true, now); err != nil {
		t.Fatal(err)
	}

	fee := new(big.Int).SetUint64(h.config.DisputeFee)
	want := new(big.Int).Add(agentBefore, fee)  // locked fee back
	want.Add(want, fee)                         // loser-funded bonus
	want.Add(want, bond)                        // vindicated challenge bond
	if got := h.state.GetBalance(agent); got.Cmp(want) != 0 {
		t.Fatalf("agent balance = %s, want %s", got, want)
	}
}

func TestChallengeBondForfeitedWhenTallyStands(t *testing.T) {
	h := newHarness(t)
	bond := new(big.Int).SetUint64(h.config.ChallengeBond)

	h.state.OpenRound(h.jobID, &state.Round{
		Epoch:   1,
		Commits: make(map[common.Address]*state.Commit),
		Reveals: make(map[common.Address]*state.Reveal),
	})
	h.state.SetRoundTallied(h.jobID, true, 1, 0, 90)
	h.state.SetRoundChallenge(h.jobID, employer, bond, 95)
	h.state.AddBalance(params.EscrowAddress, bond)

	if err := h.resolver.Raise(employer, h.jobID, 100); err != nil {
		t.Fatal(err)
	}
	now := 100 + h.config.DisputeWindow
	if err := h.resolver.Resolve(arbiter, h.jobID, true, now); err != nil {
		t.Fatal(err)
	}
	if got := h.state.GetBalance(params.FeePoolAddress); got.Cmp(bond) != 0 {
		t.Fatalf("fee pool = %s, want forfeited bond %s", got, bond)
	}
}
