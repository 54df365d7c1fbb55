package consensus

import (
	"bytes"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/swarmworks/hivemind/src/agents"
	"github.com/swarmworks/hivemind/src/config"
	"github.com/swarmworks/hivemind/src/memory"
)

func initEngine(t *testing.T, ids ...string) (*Engine, *agents.Registry, *memory.Coordinator) {
	conf := config.NewTestConfig(t)
	logger := conf.Logger()

	reg := agents.NewRegistry(conf, nil, nil, logger)
	for _, id := range ids {
		reg.Register(agents.NewAgent(id, "", nil))
	}

	coord, err := memory.NewCoordinator(conf, memory.NewInmemStore(), nil, nil, logger)
	if err != nil {
		t.Fatal(err)
	}

	eng := NewEngine(conf, reg, NewDetector(conf, logger), coord, nil, nil, logger)

	return eng, reg, coord
}

// mockClock freezes the engine clock at start and returns a function that
// advances it.
func mockClock(t *testing.T, start time.Time) func(time.Duration) {
	was := timeNow
	t.Cleanup(func() { timeNow = was })

	current := start
	timeNow = func() time.Time { return current }

	return func(d time.Duration) { current = current.Add(d) }
}

func castVote(t *testing.T, eng *Engine, pid, agentID string, choice bool) {
	t.Helper()
	err := eng.SubmitVote(pid, Vote{AgentID: agentID, Choice: choice, Confidence: 0.9})
	if err != nil {
		t.Fatalf("vote %s on %s: %v", agentID, pid, err)
	}
}

func TestCreateProposalValidation(t *testing.T) {
	eng, _, _ := initEngine(t, "alice", "bob")

	if _, err := eng.CreateProposal(ProposalRequest{Namespace: "swarm"}); err == nil {
		t.Fatal("empty key should be rejected")
	}

	req := ProposalRequest{Namespace: "swarm", Key: "k", Threshold: 1.5}
	if _, err := eng.CreateProposal(req); err == nil {
		t.Fatal("threshold outside (0,1] should be rejected")
	}

	req = ProposalRequest{Namespace: "swarm", Key: "k", Algorithm: "coin_toss"}
	if _, err := eng.CreateProposal(req); err == nil {
		t.Fatal("unknown algorithm should be rejected")
	}

	req = ProposalRequest{Namespace: "swarm", Key: "k", RequiredCapabilities: []string{"vision"}}
	_, err := eng.CreateProposal(req)
	if !IsProposalErr(err, NoEligibleAgents) {
		t.Fatalf("got %v, expected NoEligibleAgents", err)
	}
}

func TestVoteEligibility(t *testing.T) {
	eng, reg, _ := initEngine(t, "alice")
	reg.Register(agents.NewAgent("seer", "", []string{"vision"}))

	p, err := eng.CreateProposal(ProposalRequest{
		Namespace:            "swarm",
		Key:                  "k",
		RequiredCapabilities: []string{"vision"},
	})
	if err != nil {
		t.Fatal(err)
	}

	err = eng.SubmitVote(p.ID, Vote{AgentID: "alice", Choice: true, Confidence: 0.9})
	if !IsProposalErr(err, Ineligible) {
		t.Fatalf("got %v, expected Ineligible", err)
	}

	err = eng.SubmitVote(p.ID, Vote{AgentID: "ghost", Choice: true, Confidence: 0.9})
	if !IsProposalErr(err, Ineligible) {
		t.Fatalf("got %v, expected Ineligible for unknown agent", err)
	}

	castVote(t, eng, p.ID, "seer", true)

	err = eng.SubmitVote("no-such-proposal", Vote{AgentID: "seer", Choice: true})
	if !IsProposalErr(err, UnknownProposal) {
		t.Fatalf("got %v, expected UnknownProposal", err)
	}
}

func TestWeightedMajorityEndToEnd(t *testing.T) {
	eng, reg, coord := initEngine(t, "a1", "a2", "a3", "a4", "a5")

	value := []byte(`{"answer":42}`)

	p, err := eng.CreateProposal(ProposalRequest{
		Type:      "dispute",
		Namespace: "swarm",
		Key:       "facts/answer",
		Value:     value,
		Question:  "is it 42?",
	})
	if err != nil {
		t.Fatal(err)
	}
	if p.EligibleCount != 5 {
		t.Fatalf("eligible %d, expected 5", p.EligibleCount)
	}

	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		castVote(t, eng, p.ID, id, true)
	}
	castVote(t, eng, p.ID, "a5", false)

	d, err := eng.FinalizeProposal(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Consensus {
		t.Fatal("expected consensus")
	}
	if d.Ratio != 0.8 {
		t.Fatalf("ratio %f, expected 0.8", d.Ratio)
	}
	if d.PositiveVotes != 4 || d.NegativeVotes != 1 {
		t.Fatalf("votes %d/%d, expected 4/1", d.PositiveVotes, d.NegativeVotes)
	}
	if d.Participation != 1.0 {
		t.Fatalf("participation %f, expected 1", d.Participation)
	}

	// the winning option is written once, with confidence = ratio
	entry, err := coord.Retrieve("swarm", "facts/answer")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || !bytes.Equal(entry.Payload, value) {
		t.Fatalf("stored entry %+v", entry)
	}
	if entry.Type != memory.TypeConsensus {
		t.Fatalf("type %s, expected consensus", entry.Type)
	}
	if entry.Confidence != 0.8 {
		t.Fatalf("confidence %f, expected 0.8", entry.Confidence)
	}
	if entry.Version != 1 {
		t.Fatalf("version %d, expected a single write", entry.Version)
	}
	if entry.Metadata["positive_votes"] != "4" || entry.Metadata["participants"] != "5" {
		t.Fatalf("metadata %+v", entry.Metadata)
	}

	// majority gained standing, the dissenter lost some
	winner, _ := reg.Get("a1")
	if math.Abs(winner.Reputation-1.05) > 1e-9 {
		t.Fatalf("winner reputation %f, expected 1.05", winner.Reputation)
	}
	loser, _ := reg.Get("a5")
	if math.Abs(loser.Weight-0.99) > 1e-9 {
		t.Fatalf("loser weight %f, expected 0.99", loser.Weight)
	}

	// an audit row was persisted for the terminal proposal
	audit, err := coord.Retrieve("proposals", p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if audit == nil || audit.Metadata["status"] != string(StatusFinalized) {
		t.Fatalf("audit row %+v", audit)
	}
}

func TestUnanimousEndToEnd(t *testing.T) {
	eng, _, coord := initEngine(t, "a1", "a2", "a3", "a4", "a5")

	p, err := eng.CreateProposal(ProposalRequest{
		Namespace: "swarm",
		Key:       "facts/answer",
		Value:     []byte("42"),
		Algorithm: Unanimous,
	})
	if err != nil {
		t.Fatal(err)
	}

	// same 4/1 split as the weighted-majority scenario
	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		castVote(t, eng, p.ID, id, true)
	}
	castVote(t, eng, p.ID, "a5", false)

	d, err := eng.FinalizeProposal(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Consensus {
		t.Fatal("4/1 should not pass a unanimous proposal")
	}

	// no consensus, no memory write
	entry, err := coord.Retrieve("swarm", "facts/answer")
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Fatalf("disputed key should be untouched, got %+v", entry)
	}
}

func TestSubMajorityThresholdWrites(t *testing.T) {
	eng, _, coord := initEngine(t, "a1", "a2", "a3", "a4", "a5")

	value := []byte(`{"answer":42}`)

	p, err := eng.CreateProposal(ProposalRequest{
		Namespace: "swarm",
		Key:       "facts/answer",
		Value:     value,
		Threshold: 0.4,
	})
	if err != nil {
		t.Fatal(err)
	}

	// 2 of 5 positive clears a 0.4 threshold without a strict majority
	castVote(t, eng, p.ID, "a1", true)
	castVote(t, eng, p.ID, "a2", true)
	castVote(t, eng, p.ID, "a3", false)
	castVote(t, eng, p.ID, "a4", false)
	castVote(t, eng, p.ID, "a5", false)

	d, err := eng.FinalizeProposal(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Consensus || !d.Adopted {
		t.Fatalf("decision %+v, expected the positive side to carry at 0.4", d)
	}
	if d.Ratio != 0.4 {
		t.Fatalf("ratio %f, expected 0.4", d.Ratio)
	}

	// consensus above the threshold writes the value, majority or not
	entry, err := coord.Retrieve("swarm", "facts/answer")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || !bytes.Equal(entry.Payload, value) {
		t.Fatalf("stored entry %+v", entry)
	}
	if entry.Confidence != 0.4 {
		t.Fatalf("confidence %f, expected the ratio", entry.Confidence)
	}
}

func TestUnanimousRejectionNoWrite(t *testing.T) {
	eng, _, coord := initEngine(t, "a1", "a2", "a3", "a4")

	p, err := eng.CreateProposal(ProposalRequest{
		Namespace: "swarm",
		Key:       "facts/answer",
		Value:     []byte("42"),
		Algorithm: Unanimous,
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		castVote(t, eng, p.ID, id, false)
	}

	d, err := eng.FinalizeProposal(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Consensus {
		t.Fatal("unanimous rejection is still consensus")
	}
	if d.Adopted {
		t.Fatal("a rejected value must not be adopted")
	}

	// agreement on the negative side leaves the disputed key untouched
	entry, err := coord.Retrieve("swarm", "facts/answer")
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Fatalf("rejected value was written: %+v", entry)
	}
}

func TestFinalizeIdempotent(t *testing.T) {
	eng, reg, _ := initEngine(t, "a1", "a2", "a3")

	p, err := eng.CreateProposal(ProposalRequest{Namespace: "swarm", Key: "k", Value: []byte("v")})
	if err != nil {
		t.Fatal(err)
	}

	castVote(t, eng, p.ID, "a1", true)
	castVote(t, eng, p.ID, "a2", true)
	castVote(t, eng, p.ID, "a3", false)

	first, err := eng.FinalizeProposal(p.ID)
	if err != nil {
		t.Fatal(err)
	}

	again, err := eng.FinalizeProposal(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, again) {
		t.Fatalf("decisions differ: %+v != %+v", first, again)
	}

	// the reputation update ran exactly once
	a1, _ := reg.Get("a1")
	if math.Abs(a1.Reputation-1.05) > 1e-9 {
		t.Fatalf("reputation %f, expected a single 1.05 step", a1.Reputation)
	}

	// votes bounce off a finalized proposal
	err = eng.SubmitVote(p.ID, Vote{AgentID: "a1", Choice: false, Confidence: 0.9})
	if !IsProposalErr(err, ProposalClosed) {
		t.Fatalf("got %v, expected ProposalClosed", err)
	}
}

func TestQuorumFloor(t *testing.T) {
	eng, _, _ := initEngine(t, "a1", "a2", "a3", "a4", "a5")

	p, err := eng.CreateProposal(ProposalRequest{Namespace: "swarm", Key: "k", Value: []byte("v")})
	if err != nil {
		t.Fatal(err)
	}

	// 3 of 5 is below the 0.75 participation floor
	castVote(t, eng, p.ID, "a1", true)
	castVote(t, eng, p.ID, "a2", true)
	castVote(t, eng, p.ID, "a3", true)

	_, err = eng.FinalizeProposal(p.ID)
	if !IsProposalErr(err, NoQuorum) {
		t.Fatalf("got %v, expected NoQuorum", err)
	}

	// the proposal stays open; a fourth vote clears the floor
	castVote(t, eng, p.ID, "a4", false)

	d, err := eng.FinalizeProposal(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Participation != 0.8 {
		t.Fatalf("participation %f, expected 0.8", d.Participation)
	}
}

func TestDeadlineExpiry(t *testing.T) {
	advance := mockClock(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	eng, _, coord := initEngine(t, "a1", "a2")

	p, err := eng.CreateProposal(ProposalRequest{Namespace: "swarm", Key: "k", Value: []byte("v")})
	if err != nil {
		t.Fatal(err)
	}

	castVote(t, eng, p.ID, "a1", true)

	advance(2 * time.Minute)

	if n := eng.SweepExpired(); n != 1 {
		t.Fatalf("swept %d, expected 1", n)
	}

	got, err := eng.GetProposal(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusExpired {
		t.Fatalf("status %s, expected expired", got.Status)
	}

	// expiry is terminal: no votes, no finalize, no memory write
	err = eng.SubmitVote(p.ID, Vote{AgentID: "a2", Choice: true, Confidence: 0.9})
	if !IsProposalErr(err, ProposalClosed) {
		t.Fatalf("got %v, expected ProposalClosed", err)
	}
	if _, err := eng.FinalizeProposal(p.ID); !IsProposalErr(err, ProposalClosed) {
		t.Fatalf("got %v, expected ProposalClosed", err)
	}

	entry, err := coord.Retrieve("swarm", "k")
	if err != nil {
		t.Fatal(err)
	}
	if entry != nil {
		t.Fatalf("expired proposal should not write memory, got %+v", entry)
	}
}

func TestVoteOverwrite(t *testing.T) {
	eng, _, _ := initEngine(t, "a1", "a2")

	p, err := eng.CreateProposal(ProposalRequest{Namespace: "swarm", Key: "k"})
	if err != nil {
		t.Fatal(err)
	}

	castVote(t, eng, p.ID, "a1", false)
	castVote(t, eng, p.ID, "a1", true)

	got, err := eng.GetProposal(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Votes) != 1 {
		t.Fatalf("votes %d, expected 1", len(got.Votes))
	}
	if !got.Votes["a1"].Choice {
		t.Fatal("later vote should overwrite the earlier one")
	}
}

func TestQuarantinedVotesCarryNoWeight(t *testing.T) {
	eng, reg, _ := initEngine(t, "a1", "a2", "a3", "a4")
	reg.Register(agents.NewAgent("eve", "", nil))

	// five flags place eve in quarantine
	for i := 0; i < 5; i++ {
		if _, _, err := reg.Flag("eve", FlagConfidenceMismatch); err != nil {
			t.Fatal(err)
		}
	}

	eve, _ := reg.Get("eve")
	if !eve.Quarantined || eve.Online || eve.Weight != 0 {
		t.Fatalf("eve %+v, expected quarantined, offline, weightless", eve)
	}

	p, err := eng.CreateProposal(ProposalRequest{Namespace: "swarm", Key: "k", Value: []byte("v")})
	if err != nil {
		t.Fatal(err)
	}
	if p.EligibleCount != 4 {
		t.Fatalf("eligible %d, expected quarantined agent excluded", p.EligibleCount)
	}

	for _, id := range []string{"a1", "a2", "a3", "a4"} {
		castVote(t, eng, p.ID, id, true)
	}
	// eve's dissent is accepted but must not move the ratio
	castVote(t, eng, p.ID, "eve", false)

	d, err := eng.FinalizeProposal(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Ratio != 1.0 {
		t.Fatalf("ratio %f, expected 1.0", d.Ratio)
	}
	if d.NegativeVotes != 0 {
		t.Fatal("quarantined vote should not be tallied")
	}

	// and her standing is frozen out of the reputation update
	after, _ := reg.Get("eve")
	if after.Weight != 0 {
		t.Fatalf("eve weight %f, expected 0", after.Weight)
	}
}

func TestVoteTriggersDetector(t *testing.T) {
	eng, reg, _ := initEngine(t, "a1", "a2")

	p, err := eng.CreateProposal(ProposalRequest{Namespace: "swarm", Key: "k"})
	if err != nil {
		t.Fatal(err)
	}

	// a definitive vote with low stated confidence raises a flag before
	// the vote is recorded
	err = eng.SubmitVote(p.ID, Vote{AgentID: "a1", Choice: true, Confidence: 0.1})
	if err != nil {
		t.Fatal(err)
	}

	a1, _ := reg.Get("a1")
	if a1.Flags != 1 {
		t.Fatalf("flags %d, expected 1", a1.Flags)
	}
	if math.Abs(a1.Weight-0.95) > 1e-9 {
		t.Fatalf("weight %f, expected 0.95 decay", a1.Weight)
	}

	got, err := eng.GetProposal(p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := got.Votes["a1"]; !ok {
		t.Fatal("flagged vote should still be recorded")
	}
}

func TestEngineStats(t *testing.T) {
	eng, _, _ := initEngine(t, "a1", "a2")

	p, err := eng.CreateProposal(ProposalRequest{Namespace: "swarm", Key: "k", Value: []byte("v")})
	if err != nil {
		t.Fatal(err)
	}
	castVote(t, eng, p.ID, "a1", true)
	castVote(t, eng, p.ID, "a2", true)
	if _, err := eng.FinalizeProposal(p.ID); err != nil {
		t.Fatal(err)
	}

	stats := eng.Stats()
	if stats["proposals_created"] != "1" || stats["proposals_finalized"] != "1" {
		t.Fatalf("stats %+v", stats)
	}
	if stats["consensus_rate"] != "1.00" {
		t.Fatalf("consensus rate %s, expected 1.00", stats["consensus_rate"])
	}
}
