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

package reputation

import (
	"errors"
	"math/big"
	"testing"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/state"
	"github.com/MontrealAI/AGIJobsv0-sub011/params"
)

var (
	registry = common.HexToAddress("0x0000000000000000000000000000000052656779")
	agent    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	stranger = common.HexToAddress("0x9999999999999999999999999999999999999999")
)

func newTestEngine(t *testing.T) (*Engine, *state.StateDB, *params.ProtocolConfig) {
	t.Helper()
	st := state.New()
	cfg := params.DefaultConfig
	e := NewEngine(st, &cfg)
	e.Authorize(registry, common.RoleAgent)
	return e, st, &cfg
}

func TestMutationAuthorization(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if err := e.Add(stranger, agent, common.RoleAgent, 100, 0); !errors.Is(err, ErrUnauthorizedMutation) {
		t.Fatalf("unauthorized add: got %v", err)
	}
	// Authorized for agent scores only, not validator scores.
	if err := e.Add(registry, agent, common.RoleValidator, 100, 0); !errors.Is(err, ErrUnauthorizedMutation) {
		t.Fatalf("cross-role add: got %v", err)
	}
	if err := e.Add(registry, agent, common.RoleAgent, 100, 0); err != nil {
		t.Fatal(err)
	}

	e.Deauthorize(registry, common.RoleAgent)
	if err := e.Add(registry, agent, common.RoleAgent, 100, 0); !errors.Is(err, ErrUnauthorizedMutation) {
		t.Fatalf("deauthorized add: got %v", err)
	}
}

func TestGrowthDiminishes(t *testing.T) {
	e, _, cfg := newTestEngine(t)

	if err := e.Add(registry, agent, common.RoleAgent, 500, 0); err != nil {
		t.Fatal(err)
	}
	low := e.ReputationOf(agent, common.RoleAgent, 0)
	if low == 0 || low > 500 {
		t.Fatalf("small gain landed at %d, want (0, 500]", low)
	}

	// Drive the score up with repeated large gains: each credited point
	// must be worth no more than the one before, and the ceiling holds.
	prev := low
	var prevGain uint64
	for i := 1; i <= 200; i++ {
		if err := e.Add(registry, agent, common.RoleAgent, 5000, 0); err != nil {
			t.Fatal(err)
		}
		cur := e.ReputationOf(agent, common.RoleAgent, 0)
		if cur < prev {
			t.Fatalf("score regressed on gain: %d -> %d", prev, cur)
		}
		gain := cur - prev
		if i > 1 && gain > prevGain+1 { // +1 absorbs integer rounding
			t.Fatalf("gain grew on a saturating curve: %d then %d", prevGain, gain)
		}
		prevGain, prev = gain, cur
	}
	if prev > cfg.MaxReputation {
		t.Fatalf("score %d above ceiling %d", prev, cfg.MaxReputation)
	}
}

func TestDecayHalfLife(t *testing.T) {
	e, st, _ := newTestEngine(t)
	st.SetReputation(agent, common.RoleAgent, 8000, 0)

	// The default decay constant gives a half-life of about 180 days.
	halfLife := uint64(180 * 24 * 3600)
	got := e.ReputationOf(agent, common.RoleAgent, halfLife)
	if got < 3995 || got > 4005 {
		t.Fatalf("score after one half-life = %d, want ~4000", got)
	}
	if got := e.ReputationOf(agent, common.RoleAgent, 4*halfLife); got < 495 || got > 505 {
		t.Fatalf("score after four half-lives = %d, want ~500", got)
	}
	// A read must not persist the decay.
	if score, _ := st.Reputation(agent, common.RoleAgent); score != 8000 {
		t.Fatalf("read persisted decay: stored score = %d", score)
	}
	// No time passed, no decay.
	if got := e.ReputationOf(agent, common.RoleAgent, 0); got != 8000 {
		t.Fatalf("score at t=0 = %d, want 8000", got)
	}
}

func TestBlacklistThreshold(t *testing.T) {
	e, st, _ := newTestEngine(t)
	st.SetReputation(agent, common.RoleAgent, 150, 0)

	// Threshold for agents is 100: a penalty landing below it blacklists.
	if err := e.Subtract(registry, agent, common.RoleAgent, 60, 0); err != nil {
		t.Fatal(err)
	}
	if !e.IsBlacklisted(agent, common.RoleAgent) {
		t.Fatal("penalty below threshold should blacklist")
	}
	if err := e.OnApply(registry, agent, common.RoleAgent, 0); !errors.Is(err, ErrBlacklisted) {
		t.Fatalf("blacklisted apply: got %v", err)
	}

	// Recovery above the threshold clears the flag.
	if err := e.Add(registry, agent, common.RoleAgent, 50, 0); err != nil {
		t.Fatal(err)
	}
	if e.IsBlacklisted(agent, common.RoleAgent) {
		t.Fatal("recovery above threshold should clear the blacklist")
	}
	if err := e.OnApply(registry, agent, common.RoleAgent, 0); err != nil {
		t.Fatal(err)
	}
}

func TestDecayAloneNeverBlacklists(t *testing.T) {
	e, st, _ := newTestEngine(t)
	st.SetReputation(agent, common.RoleAgent, 150, 0)

	tenYears := uint64(10 * 365 * 24 * 3600)
	if got := e.ReputationOf(agent, common.RoleAgent, tenYears); got != 0 {
		t.Fatalf("score after ten years = %d, want 0", got)
	}
	if err := e.OnApply(registry, agent, common.RoleAgent, tenYears); err != nil {
		t.Fatal(err)
	}
	if e.IsBlacklisted(agent, common.RoleAgent) {
		t.Fatal("decay alone must not blacklist")
	}
}

func TestSetBlacklistOverride(t *testing.T) {
	e, _, _ := newTestEngine(t)

	if err := e.SetBlacklist(stranger, agent, common.RoleAgent, true); !errors.Is(err, ErrUnauthorizedMutation) {
		t.Fatalf("unauthorized override: got %v", err)
	}
	if err := e.SetBlacklist(registry, agent, common.RoleAgent, true); err != nil {
		t.Fatal(err)
	}
	if !e.IsBlacklisted(agent, common.RoleAgent) {
		t.Fatal("override should blacklist")
	}
	if err := e.SetBlacklist(registry, agent, common.RoleAgent, false); err != nil {
		t.Fatal(err)
	}
	if e.IsBlacklisted(agent, common.RoleAgent) {
		t.Fatal("override should clear")
	}
}

func TestPointsFor(t *testing.T) {
	e, _, cfg := newTestEngine(t)
	payout := new(big.Int).SetUint64(1000 * params.Token)

	// 1000 whole tokens has a bit length of 10.
	base := e.PointsFor(payout, 0, 10000, 10000)
	if want := cfg.PayoutPointWeight * 10; base != want {
		t.Fatalf("base points = %d, want %d", base, want)
	}
	// Finishing halfway through the window earns half the duration bonus.
	early := e.PointsFor(payout, 0, 10000, 5000)
	if want := base + cfg.DurationBonusMax/2; early != want {
		t.Fatalf("early points = %d, want %d", early, want)
	}
	// Deterministic.
	if again := e.PointsFor(payout, 0, 10000, 5000); again != early {
		t.Fatalf("points not deterministic: %d vs %d", early, again)
	}
	// A late finish earns no bonus.
	if late := e.PointsFor(payout, 0, 10000, 20000); late != base {
		t.Fatalf("late points = %d, want %d", late, base)
	}
}

func TestOnFinalize(t *testing.T) {
	e, st, _ := newTestEngine(t)
	payout := new(big.Int).SetUint64(1000 * params.Token)

	if err := e.OnFinalize(registry, agent, common.RoleAgent, true, payout, 0, 10000, 10000); err != nil {
		t.Fatal(err)
	}
	gained := e.ReputationOf(agent, common.RoleAgent, 10000)
	if gained == 0 {
		t.Fatal("successful finalize should credit points")
	}

	st.SetReputation(agent, common.RoleAgent, 5000, 10000)
	if err := e.OnFinalize(registry, agent, common.RoleAgent, false, payout, 0, 10000, 10000); err != nil {
		t.Fatal(err)
	}
	if got := e.ReputationOf(agent, common.RoleAgent, 10000); got >= 5000 {
		t.Fatalf("failed finalize should debit points, score = %d", got)
	}
}
