package consensus

import "fmt"

// ErrType enumerates the expected business failures of the proposal flow.
// They are surfaced as typed errors, never as panics; callers test them with
// IsProposalErr and treat them as normal outcomes.
type ErrType int

const (
	// UnknownProposal - no proposal with that ID
	UnknownProposal ErrType = iota
	// ProposalClosed - the proposal is already finalized or expired
	ProposalClosed
	// Ineligible - the agent may not vote on this proposal
	Ineligible
	// NoEligibleAgents - no registered agent satisfies the proposal's
	// capability requirements
	NoEligibleAgents
	// NoQuorum - participation is below the quorum floor; the proposal
	// stays open
	NoQuorum
)

// ProposalErr is a typed error returned by Engine operations.
type ProposalErr struct {
	errType ErrType
	id      string
	detail  string
}

// NewProposalErr creates a new ProposalErr.
func NewProposalErr(t ErrType, id, detail string) ProposalErr {
	return ProposalErr{
		errType: t,
		id:      id,
		detail:  detail,
	}
}

// Error implements the error interface.
func (e ProposalErr) Error() string {
	var m string
	switch e.errType {
	case UnknownProposal:
		m = "Unknown Proposal"
	case ProposalClosed:
		m = "Proposal Closed"
	case Ineligible:
		m = "Ineligible"
	case NoEligibleAgents:
		m = "No Eligible Agents"
	case NoQuorum:
		m = "No Quorum"
	default:
		m = "Unknown ProposalErr"
	}

	if e.detail == "" {
		return fmt.Sprintf("%s, %s", m, e.id)
	}

	return fmt.Sprintf("%s, %s: %s", m, e.id, e.detail)
}

// IsProposalErr checks that an error is of a specific type.
func IsProposalErr(err error, t ErrType) bool {
	pe, ok := err.(ProposalErr)
	return ok && pe.errType == t
}
