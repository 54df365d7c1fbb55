package consensus

import (
	"reflect"
	"testing"

	"github.com/swarmworks/hivemind/src/agents"
)

func testRoster(weights map[string]float64) map[string]*agents.Agent {
	roster := make(map[string]*agents.Agent, len(weights))
	for id, w := range weights {
		a := agents.NewAgent(id, "", nil)
		a.Weight = w
		roster[id] = a
	}
	return roster
}

func testVotes(choices map[string]bool) map[string]*Vote {
	votes := make(map[string]*Vote, len(choices))
	for id, c := range choices {
		votes[id] = &Vote{AgentID: id, Choice: c, Confidence: 0.9}
	}
	return votes
}

func TestWeightedMajority(t *testing.T) {
	// 5 agents with weight 1.0, 4 in favour, threshold 0.6
	roster := testRoster(map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1})
	votes := testVotes(map[string]bool{"a": true, "b": true, "c": true, "d": true, "e": false})

	d := computeDecision(WeightedMajority, 0.6, votes, roster)

	if !d.Consensus {
		t.Fatal("expected consensus")
	}
	if d.Ratio != 0.8 {
		t.Fatalf("ratio %f, expected 0.8", d.Ratio)
	}
	if d.PositiveVotes != 4 || d.NegativeVotes != 1 {
		t.Fatalf("votes %d/%d, expected 4/1", d.PositiveVotes, d.NegativeVotes)
	}
	if d.TotalWeight != 5 {
		t.Fatalf("total weight %f, expected 5", d.TotalWeight)
	}
}

func TestWeightedMajorityUsesWeights(t *testing.T) {
	// one heavyweight dissenter outweighs three supporters
	roster := testRoster(map[string]float64{"a": 1, "b": 1, "c": 1, "d": 5})
	votes := testVotes(map[string]bool{"a": true, "b": true, "c": true, "d": false})

	d := computeDecision(WeightedMajority, 0.6, votes, roster)

	if d.Consensus {
		t.Fatal("expected no consensus")
	}
	if d.Ratio != 3.0/8.0 {
		t.Fatalf("ratio %f, expected 0.375", d.Ratio)
	}
}

func TestSimpleMajorityIgnoresWeights(t *testing.T) {
	roster := testRoster(map[string]float64{"a": 1, "b": 1, "c": 1, "d": 5})
	votes := testVotes(map[string]bool{"a": true, "b": true, "c": true, "d": false})

	d := computeDecision(SimpleMajority, 0.6, votes, roster)

	if !d.Consensus {
		t.Fatal("expected consensus")
	}
	if d.Ratio != 0.75 {
		t.Fatalf("ratio %f, expected 0.75", d.Ratio)
	}
	// weights still reported for observability
	if d.TotalWeight != 8 {
		t.Fatalf("total weight %f, expected 8", d.TotalWeight)
	}
}

func TestUnanimous(t *testing.T) {
	roster := testRoster(map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1, "e": 1})

	// the weighted-majority scenario fails under unanimity
	votes := testVotes(map[string]bool{"a": true, "b": true, "c": true, "d": true, "e": false})
	if d := computeDecision(Unanimous, 0.6, votes, roster); d.Consensus {
		t.Fatal("4/1 should not be unanimous")
	}

	// all in favour
	votes = testVotes(map[string]bool{"a": true, "b": true, "c": true, "d": true, "e": true})
	d := computeDecision(Unanimous, 0.6, votes, roster)
	if !d.Consensus || !d.Adopted || d.Ratio != 1.0 {
		t.Fatalf("all-true: consensus=%t adopted=%t ratio=%f", d.Consensus, d.Adopted, d.Ratio)
	}

	// unanimity works in the negative direction too, but adopts nothing
	votes = testVotes(map[string]bool{"a": false, "b": false})
	d = computeDecision(Unanimous, 0.6, votes, roster)
	if !d.Consensus || d.Ratio != 0 {
		t.Fatalf("all-false: consensus=%t ratio=%f", d.Consensus, d.Ratio)
	}
	if d.Adopted {
		t.Fatal("agreeing to reject must not adopt the value")
	}

	// no cast votes, no consensus
	d = computeDecision(Unanimous, 0.6, map[string]*Vote{}, roster)
	if d.Consensus {
		t.Fatal("empty ballot should not be unanimous")
	}
}

func TestByzantineTolerant(t *testing.T) {
	roster := testRoster(map[string]float64{"a": 1, "b": 1, "c": 1, "d": 1})
	// d is flagged, its vote must not count
	roster["d"].Flags = 1
	votes := testVotes(map[string]bool{"a": true, "b": true, "c": true, "d": false})

	d := computeDecision(ByzantineTolerant, 0.6, votes, roster)

	if !d.Consensus || d.Ratio != 1.0 {
		t.Fatalf("consensus=%t ratio=%f, expected true 1.0", d.Consensus, d.Ratio)
	}
	if d.PositiveVotes != 3 || d.NegativeVotes != 0 {
		t.Fatalf("votes %d/%d, expected 3/0", d.PositiveVotes, d.NegativeVotes)
	}
}

func TestByzantineTolerantReputationFloor(t *testing.T) {
	roster := testRoster(map[string]float64{"a": 1, "b": 1, "c": 1})
	// c's reputation is below the trust floor
	roster["c"].Reputation = 0.5
	votes := testVotes(map[string]bool{"a": true, "b": true, "c": false})

	d := computeDecision(ByzantineTolerant, 0.6, votes, roster)

	if !d.Consensus || d.Ratio != 1.0 {
		t.Fatalf("consensus=%t ratio=%f, expected true 1.0", d.Consensus, d.Ratio)
	}
}

func TestByzantineTolerantThresholdFloor(t *testing.T) {
	roster := testRoster(map[string]float64{"a": 1, "b": 1, "c": 1})
	votes := testVotes(map[string]bool{"a": true, "b": true, "c": false})

	// ratio is 2/3 ~ 0.667, below the raised 0.67 floor even though the
	// caller asked for 0.5
	d := computeDecision(ByzantineTolerant, 0.5, votes, roster)

	if d.Consensus {
		t.Fatalf("ratio %f should not clear the 0.67 floor", d.Ratio)
	}
}

func TestAbstentions(t *testing.T) {
	roster := testRoster(map[string]float64{"a": 1, "b": 1, "c": 1})
	votes := testVotes(map[string]bool{"a": true, "b": true})
	votes["c"] = &Vote{AgentID: "c", Abstain: true}

	d := computeDecision(WeightedMajority, 0.6, votes, roster)

	if !d.Consensus || d.Ratio != 1.0 {
		t.Fatalf("consensus=%t ratio=%f, expected true 1.0", d.Consensus, d.Ratio)
	}
	if d.Abstentions != 1 {
		t.Fatalf("abstentions %d, expected 1", d.Abstentions)
	}

	// an abstention alone is not a unanimous ballot
	only := map[string]*Vote{"c": {AgentID: "c", Abstain: true}}
	if d := computeDecision(Unanimous, 0.6, only, roster); d.Consensus {
		t.Fatal("abstentions alone should not reach consensus")
	}
}

func TestQuarantinedBallotsDropped(t *testing.T) {
	roster := testRoster(map[string]float64{"a": 1, "b": 1, "e": 1})
	roster["e"].Quarantined = true
	roster["e"].Weight = 0

	votes := testVotes(map[string]bool{"a": true, "b": true, "e": false})

	d := computeDecision(SimpleMajority, 0.6, votes, roster)

	if !d.Consensus || d.Ratio != 1.0 {
		t.Fatalf("consensus=%t ratio=%f, expected true 1.0", d.Consensus, d.Ratio)
	}
	if d.PositiveVotes+d.NegativeVotes != 2 {
		t.Fatal("quarantined vote should not be counted")
	}
}

func TestDecisionDeterminism(t *testing.T) {
	roster := testRoster(map[string]float64{"a": 1.3, "b": 0.7, "c": 1.1, "d": 0.9, "e": 1.0})
	votes := testVotes(map[string]bool{"a": true, "b": false, "c": true, "d": true, "e": false})

	first := computeDecision(WeightedMajority, 0.6, votes, roster)
	for i := 0; i < 10; i++ {
		again := computeDecision(WeightedMajority, 0.6, votes, roster)
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d: %+v != %+v", i, again, first)
		}
	}
}
