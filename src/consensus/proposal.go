package consensus

import (
	"bytes"
	"time"

	"github.com/ugorji/go/codec"
)

// Algorithm selects how cast votes are combined into a decision.
type Algorithm string

const (
	// WeightedMajority compares the weighted fraction of positive votes
	// against the threshold. Default.
	WeightedMajority Algorithm = "weighted_majority"
	// ByzantineTolerant is WeightedMajority restricted to unflagged,
	// trusted agents, with a raised threshold floor.
	ByzantineTolerant Algorithm = "byzantine_tolerant"
	// Unanimous requires every cast vote to agree.
	Unanimous Algorithm = "unanimous"
	// SimpleMajority compares the unweighted fraction of positive votes
	// against the threshold.
	SimpleMajority Algorithm = "simple_majority"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	// StatusOpen - accepting votes
	StatusOpen Status = "open"
	// StatusFinalized - decided, immutable
	StatusFinalized Status = "finalized"
	// StatusExpired - deadline passed without a finalize, terminal
	StatusExpired Status = "expired"
)

// Vote is one agent's position on a proposal. An agent casts at most one
// vote; a later vote overwrites the earlier one.
type Vote struct {
	AgentID    string    `json:"agent_id"`
	Choice     bool      `json:"choice"`
	Abstain    bool      `json:"abstain,omitempty"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Decision is the outcome of a finalized proposal.
type Decision struct {
	Consensus bool `json:"consensus"`

	// Adopted reports whether the positive side carried the decision, in
	// which case the proposed value is written to memory. Consensus on
	// rejection, possible under Unanimous, leaves it false.
	Adopted bool `json:"adopted"`

	Ratio         float64   `json:"ratio"`
	PositiveVotes int       `json:"positive_votes"`
	NegativeVotes int       `json:"negative_votes"`
	Abstentions   int       `json:"abstentions"`
	TotalWeight   float64   `json:"total_weight"`
	Participation float64   `json:"participation"`
	Algorithm     Algorithm `json:"algorithm"`
	FinalizedAt   time.Time `json:"finalized_at"`
}

// Proposal is one disputed question put to the population. It is mutated
// only by the Engine: votes while open, then exactly one terminal
// transition to finalized or expired.
type Proposal struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Namespace string `json:"namespace"`
	Key       string `json:"key"`

	// Value is the candidate payload written to memory when the positive
	// side carries the decision.
	Value []byte `json:"value,omitempty"`

	// Question is a human readable statement of what is being decided.
	Question string `json:"question,omitempty"`

	Threshold            float64          `json:"threshold"`
	Algorithm            Algorithm        `json:"algorithm"`
	RequiredCapabilities []string         `json:"required_capabilities,omitempty"`
	Votes                map[string]*Vote `json:"votes"`

	// EligibleCount is the number of eligible agents when the proposal was
	// created; the quorum floor is measured against it.
	EligibleCount int `json:"eligible_count"`

	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
	Status    Status    `json:"status"`
	Decision  *Decision `json:"decision,omitempty"`
}

// Copy returns a deep copy of the proposal.
func (p *Proposal) Copy() *Proposal {
	c := *p

	if p.Value != nil {
		c.Value = append([]byte{}, p.Value...)
	}
	if p.RequiredCapabilities != nil {
		c.RequiredCapabilities = append([]string{}, p.RequiredCapabilities...)
	}

	c.Votes = make(map[string]*Vote, len(p.Votes))
	for id, v := range p.Votes {
		vc := *v
		c.Votes[id] = &vc
	}

	if p.Decision != nil {
		dc := *p.Decision
		c.Decision = &dc
	}

	return &c
}

// Marshal - json encoding of Proposal
func (p *Proposal) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(p); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal ...
func (p *Proposal) Unmarshal(data []byte) error {
	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(p)
}
