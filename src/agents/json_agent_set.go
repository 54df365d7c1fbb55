package agents

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const jsonAgentSetPath = "agents.json"

// JSONAgentSet is used to provide agent roster persistence on disk in the
// form of a JSON file.
type JSONAgentSet struct {
	l    sync.Mutex
	path string
}

// NewJSONAgentSet creates a new JSONAgentSet with reference to a base
// directory where the JSON file resides.
func NewJSONAgentSet(base string) *JSONAgentSet {
	return &JSONAgentSet{
		path: filepath.Join(base, jsonAgentSetPath),
	}
}

// Agents parses the underlying JSON file and returns the corresponding agent
// list. Unset weight and reputation default to 1.0, and roster agents always
// load online, unflagged, and unquarantined.
func (j *JSONAgentSet) Agents() ([]*Agent, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := os.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	// Check for an empty roster
	if len(buf) == 0 {
		return nil, nil
	}

	var agents []*Agent
	dec := json.NewDecoder(bytes.NewReader(buf))
	if err := dec.Decode(&agents); err != nil {
		return nil, err
	}

	cleanseAgents(agents)

	return agents, nil
}

// cleanseAgents normalizes roster entries to the same defaults NewAgent
// applies.
func cleanseAgents(agents []*Agent) {
	for _, a := range agents {
		if a.Weight == 0 {
			a.Weight = 1.0
		}
		if a.Reputation == 0 {
			a.Reputation = 1.0
		}
		a.Online = true
		a.Quarantined = false
		a.Flags = 0
		if a.JoinedAt.IsZero() {
			a.JoinedAt = time.Now().UTC()
		}
	}
}

// Write persists an agent list to the JSON file.
func (j *JSONAgentSet) Write(agents []*Agent) error {
	j.l.Lock()
	defer j.l.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(agents); err != nil {
		return err
	}

	return os.WriteFile(j.path, buf.Bytes(), 0644)
}
