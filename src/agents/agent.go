package agents

import (
	"bytes"
	"time"

	"github.com/google/uuid"
	"github.com/ugorji/go/codec"
)

// Agent represents a member of the population that reads and writes shared
// memory and takes part in consensus. Weight and Reputation both start at 1.0
// and drift with voting behaviour.
type Agent struct {
	ID           string    `json:"id"`
	Moniker      string    `json:"moniker,omitempty"`
	Capabilities []string  `json:"capabilities,omitempty"`
	Weight       float64   `json:"weight"`
	Reputation   float64   `json:"reputation"`
	Flags        int       `json:"flags"`
	Online       bool      `json:"online"`
	Quarantined  bool      `json:"quarantined"`
	JoinedAt     time.Time `json:"joined_at"`
}

// NewAgent creates an online Agent with default weight and reputation. An
// empty id is replaced with a fresh UUID.
func NewAgent(id string, moniker string, capabilities []string) *Agent {
	if id == "" {
		id = uuid.NewString()
	}

	return &Agent{
		ID:           id,
		Moniker:      moniker,
		Capabilities: capabilities,
		Weight:       1.0,
		Reputation:   1.0,
		Online:       true,
		JoinedAt:     time.Now().UTC(),
	}
}

// Eligible reports whether the agent may take part in consensus.
func (a *Agent) Eligible() bool {
	return a.Online && !a.Quarantined
}

// Copy returns a shallow copy with its own capability slice.
func (a *Agent) Copy() *Agent {
	c := *a
	if a.Capabilities != nil {
		c.Capabilities = append([]string{}, a.Capabilities...)
	}
	return &c
}

// Marshal - json encoding of Agent
func (a *Agent) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(a); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (a *Agent) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(a)
}
