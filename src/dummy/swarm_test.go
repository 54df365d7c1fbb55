package dummy

import (
	"testing"

	"github.com/swarmworks/hivemind/src/config"
	"github.com/swarmworks/hivemind/src/hivemind"
	"github.com/swarmworks/hivemind/src/memory"
)

func TestSwarmRun(t *testing.T) {
	conf := config.NewTestConfig(t)
	conf.SetDataDir(t.TempDir())

	hive := hivemind.NewHivemind(conf)
	if err := hive.Init(); err != nil {
		t.Fatal(err)
	}
	defer hive.Shutdown()

	swarm := NewSwarm(hive, 4, conf.Logger())

	decision, err := swarm.Run()
	if err != nil {
		t.Fatal(err)
	}

	// 3 of 4 scripted in favour
	if !decision.Consensus || decision.Ratio != 0.75 {
		t.Fatalf("consensus=%t ratio=%f, expected true 0.75", decision.Consensus, decision.Ratio)
	}

	// the winning option was adopted into collective memory
	entry, err := hive.Retrieve("", "observations/summary")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || entry.Confidence != 0.75 {
		t.Fatalf("adopted entry %+v", entry)
	}

	// the seeded observations share a shape, so consolidation merged them
	merged, err := hive.Search("", memory.SearchOptions{Pattern: "consolidated/*"})
	if err != nil {
		t.Fatal(err)
	}
	if len(merged) != 1 {
		t.Fatalf("consolidated entries %d, expected 1", len(merged))
	}
}

func TestSwarmMinimumSize(t *testing.T) {
	conf := config.NewTestConfig(t)
	conf.SetDataDir(t.TempDir())

	hive := hivemind.NewHivemind(conf)
	if err := hive.Init(); err != nil {
		t.Fatal(err)
	}
	defer hive.Shutdown()

	swarm := NewSwarm(hive, 0, conf.Logger())

	// with two agents the lone dissenter blocks the 0.6 threshold
	decision, err := swarm.Run()
	if err != nil {
		t.Fatal(err)
	}
	if decision.Consensus {
		t.Fatalf("ratio %f should not clear the threshold", decision.Ratio)
	}
}
