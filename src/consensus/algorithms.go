package consensus

import (
	"sort"

	"github.com/swarmworks/hivemind/src/agents"
)

// byzantineTrustFloor is the reputation an agent needs for its vote to
// count under the ByzantineTolerant algorithm.
const byzantineTrustFloor = 0.7

// byzantineThresholdFloor is the lowest threshold the ByzantineTolerant
// algorithm will accept.
const byzantineThresholdFloor = 0.67

// ballot joins a cast vote with the voter's standing at tally time.
type ballot struct {
	vote  *Vote
	agent *agents.Agent
}

// collectBallots joins votes with agent records in agent ID order, dropping
// votes from quarantined or unknown agents. The fixed order keeps floating
// point tallies reproducible.
func collectBallots(votes map[string]*Vote, roster map[string]*agents.Agent) []ballot {
	ids := make([]string, 0, len(votes))
	for id := range votes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	ballots := make([]ballot, 0, len(ids))
	for _, id := range ids {
		agent, ok := roster[id]
		if !ok || agent.Quarantined {
			continue
		}
		ballots = append(ballots, ballot{vote: votes[id], agent: agent})
	}

	return ballots
}

// computeDecision tallies the votes under the proposal's algorithm. It is a
// pure function of its inputs: recomputing over the same votes and roster
// yields the identical decision.
func computeDecision(
	alg Algorithm,
	threshold float64,
	votes map[string]*Vote,
	roster map[string]*agents.Agent,
) *Decision {
	ballots := collectBallots(votes, roster)

	d := &Decision{Algorithm: alg}

	switch alg {
	case ByzantineTolerant:
		trusted := make([]ballot, 0, len(ballots))
		for _, b := range ballots {
			if b.agent.Flags == 0 && b.agent.Reputation > byzantineTrustFloor {
				trusted = append(trusted, b)
			}
		}
		if threshold < byzantineThresholdFloor {
			threshold = byzantineThresholdFloor
		}
		weightedTally(d, trusted, threshold)
	case Unanimous:
		unanimousTally(d, ballots)
	case SimpleMajority:
		countTally(d, ballots, threshold)
	default:
		weightedTally(d, ballots, threshold)
	}

	return d
}

// weightedTally computes ratio = sum(weight of positive votes) / sum(weight
// of cast votes). No cast weight means no consensus.
func weightedTally(d *Decision, ballots []ballot, threshold float64) {
	var yes, total float64

	for _, b := range ballots {
		if b.vote.Abstain {
			d.Abstentions++
			continue
		}

		w := b.agent.Weight
		total += w

		if b.vote.Choice {
			d.PositiveVotes++
			yes += w
		} else {
			d.NegativeVotes++
		}
	}

	d.TotalWeight = total
	if total > 0 {
		d.Ratio = yes / total
		d.Consensus = d.Ratio >= threshold
		d.Adopted = d.Consensus
	}
}

// countTally is the unweighted variant: ratio is the plain fraction of
// positive votes among cast votes.
func countTally(d *Decision, ballots []ballot, threshold float64) {
	cast := 0

	for _, b := range ballots {
		if b.vote.Abstain {
			d.Abstentions++
			continue
		}

		cast++
		d.TotalWeight += b.agent.Weight

		if b.vote.Choice {
			d.PositiveVotes++
		} else {
			d.NegativeVotes++
		}
	}

	if cast > 0 {
		d.Ratio = float64(d.PositiveVotes) / float64(cast)
		d.Consensus = d.Ratio >= threshold
		d.Adopted = d.Consensus
	}
}

// unanimousTally reaches consensus only when every cast vote agrees, in
// either direction, and at least one vote was cast.
func unanimousTally(d *Decision, ballots []ballot) {
	for _, b := range ballots {
		if b.vote.Abstain {
			d.Abstentions++
			continue
		}

		d.TotalWeight += b.agent.Weight

		if b.vote.Choice {
			d.PositiveVotes++
		} else {
			d.NegativeVotes++
		}
	}

	cast := d.PositiveVotes + d.NegativeVotes
	if cast > 0 {
		d.Ratio = float64(d.PositiveVotes) / float64(cast)
		d.Consensus = d.PositiveVotes == cast || d.NegativeVotes == cast
		d.Adopted = d.PositiveVotes == cast
	}
}
