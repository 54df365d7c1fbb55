package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func TestJSONAgentSet(t *testing.T) {
	dir := t.TempDir()

	store := NewJSONAgentSet(dir)

	// Try a read, should get nothing
	agents, err := store.Agents()
	if err == nil {
		t.Fatalf("store.Agents() should generate an error")
	}
	if agents != nil {
		t.Fatalf("agents: %v", agents)
	}

	roster := []*Agent{}
	for i := 0; i < 3; i++ {
		roster = append(roster, NewAgent(
			fmt.Sprintf("agent%d", i),
			fmt.Sprintf("Agent %d", i),
			[]string{"search", "vote"},
		))
	}

	if err := store.Write(roster); err != nil {
		t.Fatalf("err: %v", err)
	}

	// Try a read, should find 3 agents
	agents, err = store.Agents()
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if len(agents) != 3 {
		t.Fatalf("agents: %v", agents)
	}

	for i := 0; i < 3; i++ {
		if agents[i].ID != roster[i].ID {
			t.Fatalf("agents[%d] ID should be %s, not %s", i,
				roster[i].ID, agents[i].ID)
		}
		if agents[i].Moniker != roster[i].Moniker {
			t.Fatalf("agents[%d] Moniker should be %s, not %s", i,
				roster[i].Moniker, agents[i].Moniker)
		}
		if agents[i].Weight != 1.0 || agents[i].Reputation != 1.0 {
			t.Fatalf("agents[%d] should load with default weight and reputation", i)
		}
		if !agents[i].Online {
			t.Fatalf("agents[%d] should load online", i)
		}
	}
}

func TestJSONAgentSetDefaults(t *testing.T) {
	dir := t.TempDir()

	// A hand-written roster: bare identities, one custom weight
	raw := `[
  {"id": "alice", "moniker": "Alice"},
  {"id": "bob", "weight": 1.5, "quarantined": true, "flags": 9}
]`
	if err := os.WriteFile(filepath.Join(dir, "agents.json"), []byte(raw), 0644); err != nil {
		t.Fatal(err)
	}

	agents, err := NewJSONAgentSet(dir).Agents()
	if err != nil {
		t.Fatal(err)
	}
	if len(agents) != 2 {
		t.Fatalf("agents: %v", agents)
	}

	alice := agents[0]
	if alice.Weight != 1.0 || alice.Reputation != 1.0 || !alice.Online {
		t.Fatalf("alice not normalized: %+v", alice)
	}

	//custom weight survives, quarantine and flags do not come from the roster
	bob := agents[1]
	if bob.Weight != 1.5 {
		t.Fatalf("bob weight %f, expected 1.5", bob.Weight)
	}
	if bob.Quarantined || bob.Flags != 0 {
		t.Fatalf("bob should load clean: %+v", bob)
	}
}
