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
	"reflect"
	"testing"

	"github.com/davecgh/go-spew/spew"

	"github.com/MontrealAI/AGIJobsv0-sub011/common"
	"github.com/MontrealAI/AGIJobsv0-sub011/core/types"
	"github.com/MontrealAI/AGIJobsv0-sub011/jobsdb"
)

var (
	alice = common.HexToAddress("0xAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	bob   = common.HexToAddress("0xBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB")
	carol = common.HexToAddress("0xCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCCC")
)

func newTestJob() *types.Job {
	return &types.Job{
		Employer:  alice,
		Reward:    big.NewInt(1000),
		Fee:       big.NewInt(50),
		Stake:     big.NewInt(200),
		URI:       "ipfs://job",
		SpecHash:  common.HexToHash("0x01"),
		CreatedAt: 100,
		Deadline:  10000,
	}
}

func TestSnapshotRevertBalances(t *testing.T) {
	s := New()
	s.AddBalance(alice, big.NewInt(100))

	snap := s.Snapshot()
	s.AddBalance(alice, big.NewInt(50))
	if err := s.SubBalance(alice, big.NewInt(30)); err != nil {
		t.Fatal(err)
	}
	s.AddBalance(bob, big.NewInt(7))

	s.RevertToSnapshot(snap)
	if got := s.GetBalance(alice); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("alice balance = %s, want 100", got)
	}
	if s.Exist(bob) {
		t.Fatal("bob's account should have been reverted away")
	}
}

func TestSubBalanceInsufficient(t *testing.T) {
	s := New()
	s.AddBalance(alice, big.NewInt(10))
	if err := s.SubBalance(alice, big.NewInt(11)); err == nil {
		t.Fatal("expected insufficient balance error")
	}
	if got := s.GetBalance(alice); got.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("failed subtract must not change balance, got %s", got)
	}
}

func TestSnapshotRevertStakes(t *testing.T) {
	s := New()
	s.AddStakeAmount(alice, common.RoleAgent, big.NewInt(500))

	snap := s.Snapshot()
	s.AddStakeLocked(alice, common.RoleAgent, big.NewInt(200))
	s.SetPendingWithdrawal(alice, common.RoleAgent, big.NewInt(100), 9999)
	if err := s.SubStakeAmount(alice, common.RoleAgent, big.NewInt(50)); err != nil {
		t.Fatal(err)
	}

	s.RevertToSnapshot(snap)
	if got := s.StakeAmount(alice, common.RoleAgent); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("stake amount = %s, want 500", got)
	}
	if got := s.StakeLocked(alice, common.RoleAgent); got.Sign() != 0 {
		t.Fatalf("locked = %s, want 0", got)
	}
	pending, release := s.PendingWithdrawal(alice, common.RoleAgent)
	if pending.Sign() != 0 || release != 0 {
		t.Fatalf("pending withdrawal not reverted: %s at %d", pending, release)
	}
}

func TestStakeUnderflowRejected(t *testing.T) {
	s := New()
	s.AddStakeAmount(alice, common.RoleAgent, big.NewInt(100))
	if err := s.SubStakeAmount(alice, common.RoleAgent, big.NewInt(101)); err == nil {
		t.Fatal("expected stake underflow error")
	}
	if err := s.SubStakeLocked(alice, common.RoleAgent, big.NewInt(1)); err == nil {
		t.Fatal("expected locked stake underflow error")
	}
}

func TestSnapshotRevertJobLifecycle(t *testing.T) {
	s := New()

	snap := s.Snapshot()
	id := s.CreateJob(newTestJob())
	if id != 1 {
		t.Fatalf("first job id = %d, want 1", id)
	}
	if err := s.SetJobStatus(id, types.JobCreated); err != nil {
		t.Fatal(err)
	}
	s.SetJobAgent(id, bob)
	s.SetJobSuccess(id, types.SuccessTrue)
	s.SetJobOutput(id, "ipfs://result")

	s.RevertToSnapshot(snap)
	if s.GetJob(id) != nil {
		t.Fatal("job should have been reverted away")
	}
	if s.NextJobID() != 1 {
		t.Fatalf("nextJobID = %d, want 1", s.NextJobID())
	}

	// Recreate: the id must be reissued since the create was reverted.
	id2 := s.CreateJob(newTestJob())
	if id2 != 1 {
		t.Fatalf("reissued job id = %d, want 1", id2)
	}
}

func TestJobStatusForwardOnly(t *testing.T) {
	s := New()
	id := s.CreateJob(newTestJob())
	if err := s.SetJobStatus(id, types.JobCreated); err != nil {
		t.Fatal(err)
	}
	if err := s.SetJobStatus(id, types.JobCompleted); err != nil {
		t.Fatal(err)
	}
	// Completed -> Created is a regression and must be rejected.
	if err := s.SetJobStatus(id, types.JobCreated); err == nil {
		t.Fatal("expected illegal transition error")
	}
	if err := s.SetJobStatus(id, types.JobDisputed); err != nil {
		t.Fatal(err)
	}
	if err := s.SetJobStatus(id, types.JobCompleted); err != nil {
		t.Fatal(err)
	}
	if err := s.SetJobStatus(id, types.JobFinalized); err != nil {
		t.Fatal(err)
	}
	if err := s.SetJobStatus(id, types.JobCompleted); err == nil {
		t.Fatal("finalized is terminal")
	}
}

func TestSnapshotRevertRound(t *testing.T) {
	s := New()
	id := s.CreateJob(newTestJob())

	s.OpenRound(id, &Round{
		Epoch:          1,
		CommitDeadline: 200,
		RevealDeadline: 300,
		Commits:        make(map[common.Address]*Commit),
		Reveals:        make(map[common.Address]*Reveal),
	})

	snap := s.Snapshot()
	s.RecordCommit(id, carol, &Commit{Hash: common.HexToHash("0x02"), CommittedAt: 150})
	s.RecordReveal(id, carol, &Reveal{Approve: true, Salt: common.HexToHash("0x03"), RevealedAt: 250})
	s.SetRoundTallied(id, true, 1, 0, 301)
	s.SetRoundChallenge(id, bob, big.NewInt(50), 310)

	s.RevertToSnapshot(snap)
	round := s.CurrentRound(id)
	if len(round.Commits) != 0 || len(round.Reveals) != 0 {
		t.Fatal("commit/reveal records should have been reverted")
	}
	if round.Tallied || round.Challenged {
		t.Fatal("tally and challenge flags should have been reverted")
	}
}

func TestSnapshotRevertDisputeAndCredential(t *testing.T) {
	s := New()
	id := s.CreateJob(newTestJob())

	s.OpenDispute(id, &Dispute{Claimant: bob, RaisedAt: 100, Fee: big.NewInt(10)})

	snap := s.Snapshot()
	s.ClearDispute(id)
	if s.GetDispute(id) != nil {
		t.Fatal("dispute should be cleared")
	}
	if err := s.MintCredential(id, bob, "ipfs://cred", 500); err != nil {
		t.Fatal(err)
	}

	s.RevertToSnapshot(snap)
	if s.GetDispute(id) == nil {
		t.Fatal("dispute record should have been restored")
	}
	if s.CredentialOf(id) != nil {
		t.Fatal("credential mint should have been reverted")
	}
}

func TestMintCredentialOnce(t *testing.T) {
	s := New()
	id := s.CreateJob(newTestJob())
	if err := s.MintCredential(id, bob, "", 1); err != nil {
		t.Fatal(err)
	}
	if err := s.MintCredential(id, bob, "", 2); err == nil {
		t.Fatal("second mint for the same job must fail")
	}
}

func TestSnapshotRevertLogs(t *testing.T) {
	s := New()
	s.AddLog(types.NewLog(types.LogJobCreated, 1, "employer", alice))

	snap := s.Snapshot()
	s.AddLog(types.NewLog(types.LogJobAssigned, 1, "agent", bob))
	if len(s.Logs()) != 2 {
		t.Fatalf("log count = %d, want 2", len(s.Logs()))
	}

	s.RevertToSnapshot(snap)
	if len(s.Logs()) != 1 {
		t.Fatalf("log count after revert = %d, want 1", len(s.Logs()))
	}
	if s.Logs()[0].Name != types.LogJobCreated {
		t.Fatalf("surviving log = %s", s.Logs()[0].Name)
	}
}

func TestNestedSnapshots(t *testing.T) {
	s := New()
	s.AddBalance(alice, big.NewInt(1))
	outer := s.Snapshot()
	s.AddBalance(alice, big.NewInt(1))
	inner := s.Snapshot()
	s.AddBalance(alice, big.NewInt(1))

	s.RevertToSnapshot(inner)
	if got := s.GetBalance(alice); got.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("balance after inner revert = %s, want 2", got)
	}
	s.RevertToSnapshot(outer)
	if got := s.GetBalance(alice); got.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("balance after outer revert = %s, want 1", got)
	}
}

func TestCommitLoadRoundTrip(t *testing.T) {
	s := New()
	s.AddBalance(alice, big.NewInt(1_000_000))
	s.AddStakeAmount(bob, common.RoleAgent, big.NewInt(200_000_000))
	s.AddStakeLocked(bob, common.RoleAgent, big.NewInt(50_000_000))
	s.SetReputation(bob, common.RoleAgent, 1234, 99)
	s.SetBlacklisted(carol, common.RoleValidator, true)

	id := s.CreateJob(newTestJob())
	if err := s.SetJobStatus(id, types.JobCreated); err != nil {
		t.Fatal(err)
	}
	s.SetJobAgent(id, bob)
	s.OpenRound(id, &Round{
		Epoch:          1,
		SpecHash:       common.HexToHash("0x01"),
		CommitDeadline: 200,
		RevealDeadline: 300,
		Commits:        map[common.Address]*Commit{carol: {Hash: common.HexToHash("0x02"), CommittedAt: 10}},
		Reveals:        map[common.Address]*Reveal{carol: {Approve: true, Salt: common.HexToHash("0x03"), RevealedAt: 20}},
	})
	s.OpenDispute(id, &Dispute{Claimant: bob, RaisedAt: 50, Fee: big.NewInt(10)})
	if err := s.MintCredential(id, bob, "ipfs://cred", 60); err != nil {
		t.Fatal(err)
	}
	s.AddLog(types.NewLog(types.LogJobCreated, id, "employer", alice))

	db := jobsdb.NewMemoryDB()
	if err := s.Commit(db); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(db)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(s.dump(), loaded.dump()) {
		t.Fatalf("ledger round trip mismatch:\nstored: %s\nloaded: %s",
			spew.Sdump(s.dump()), spew.Sdump(loaded.dump()))
	}
}

func TestLogsFor(t *testing.T) {
	s := New()
	s.AddLog(types.NewLog(types.LogJobCreated, 1))
	s.AddLog(types.NewLog(types.LogJobCreated, 2))
	s.AddLog(types.NewLog(types.LogJobAssigned, 1))
	if got := len(s.LogsFor(1)); got != 2 {
		t.Fatalf("LogsFor(1) = %d entries, want 2", got)
	}
}
