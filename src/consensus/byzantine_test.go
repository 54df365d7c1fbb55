package consensus

import (
	"fmt"
	"testing"

	"github.com/swarmworks/hivemind/src/config"
)

func initDetector(t *testing.T) *Detector {
	conf := config.NewTestConfig(t)
	return NewDetector(conf, conf.Logger())
}

func hasFlag(flags []string, kind string) bool {
	for _, f := range flags {
		if f == kind {
			return true
		}
	}
	return false
}

func TestDetectorVoteFlipping(t *testing.T) {
	d := initDetector(t)

	first := &Vote{AgentID: "alice", Choice: true, Confidence: 0.9}
	if flags := d.Inspect("p1", first, nil); len(flags) != 0 {
		t.Fatalf("first vote flagged: %v", flags)
	}

	// first change of mind is tolerated
	second := &Vote{AgentID: "alice", Choice: false, Confidence: 0.9}
	if flags := d.Inspect("p1", second, first); hasFlag(flags, FlagVoteFlipping) {
		t.Fatal("one flip should not be flagged")
	}

	// second change on the same proposal is not
	third := &Vote{AgentID: "alice", Choice: true, Confidence: 0.9}
	if flags := d.Inspect("p1", third, second); !hasFlag(flags, FlagVoteFlipping) {
		t.Fatal("two flips should be flagged")
	}

	// flip counters are per proposal
	other := &Vote{AgentID: "alice", Choice: false, Confidence: 0.9}
	if flags := d.Inspect("p2", other, nil); hasFlag(flags, FlagVoteFlipping) {
		t.Fatal("fresh proposal should start with a clean flip counter")
	}
}

func TestDetectorConfidenceMismatch(t *testing.T) {
	d := initDetector(t)

	v := &Vote{AgentID: "bob", Choice: true, Confidence: 0.2}
	if flags := d.Inspect("p1", v, nil); !hasFlag(flags, FlagConfidenceMismatch) {
		t.Fatal("definitive vote with confidence 0.2 should be flagged")
	}

	ok := &Vote{AgentID: "bob", Choice: true, Confidence: 0.3}
	if flags := d.Inspect("p2", ok, nil); hasFlag(flags, FlagConfidenceMismatch) {
		t.Fatal("confidence 0.3 is acceptable")
	}

	// low confidence on an abstention is honest, not suspect
	abstain := &Vote{AgentID: "bob", Abstain: true, Confidence: 0.1}
	if flags := d.Inspect("p3", abstain, nil); hasFlag(flags, FlagConfidenceMismatch) {
		t.Fatal("abstentions are exempt from the confidence check")
	}
}

func TestDetectorContrarianPattern(t *testing.T) {
	d := initDetector(t)

	// five resolved proposals where carol sided against the majority
	for i := 0; i < 5; i++ {
		pid := fmt.Sprintf("p%d", i)
		v := &Vote{AgentID: "carol", Choice: false, Confidence: 0.9}
		if flags := d.Inspect(pid, v, nil); hasFlag(flags, FlagContrarianPattern) {
			t.Fatalf("proposal %s: flagged before enough history resolved", pid)
		}
		d.Resolve(pid, map[string]bool{"carol": false})
	}

	// with 5/5 resolved votes against the majority, the next vote trips
	// the pattern check
	v := &Vote{AgentID: "carol", Choice: false, Confidence: 0.9}
	if flags := d.Inspect("p5", v, nil); !hasFlag(flags, FlagContrarianPattern) {
		t.Fatal("expected contrarian flag after 5 resolved dissents")
	}
}

func TestDetectorConformistNotFlagged(t *testing.T) {
	d := initDetector(t)

	for i := 0; i < 8; i++ {
		pid := fmt.Sprintf("p%d", i)
		d.Inspect(pid, &Vote{AgentID: "dave", Choice: true, Confidence: 0.9}, nil)
		d.Resolve(pid, map[string]bool{"dave": true})
	}

	v := &Vote{AgentID: "dave", Choice: true, Confidence: 0.9}
	if flags := d.Inspect("p8", v, nil); len(flags) != 0 {
		t.Fatalf("conformist flagged: %v", flags)
	}
}

func TestDetectorRevoteUpdatesMark(t *testing.T) {
	d := initDetector(t)

	first := &Vote{AgentID: "erin", Choice: false, Confidence: 0.9}
	d.Inspect("p1", first, nil)

	// erin reconsiders and lands with the majority
	second := &Vote{AgentID: "erin", Choice: true, Confidence: 0.9}
	d.Inspect("p1", second, first)

	d.Resolve("p1", map[string]bool{"erin": true})

	marks := d.history.GetLastN("erin", 10)
	if len(marks) != 1 {
		t.Fatalf("history length %d, expected 1", len(marks))
	}

	mark := marks[0].(*voteMark)
	if !mark.choice {
		t.Fatal("re-vote should update the recorded choice")
	}
}
