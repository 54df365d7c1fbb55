package consensus

import (
	"github.com/sirupsen/logrus"

	cm "github.com/swarmworks/hivemind/src/common"
	"github.com/swarmworks/hivemind/src/config"
)

// Flag kinds raised by the detector.
const (
	FlagVoteFlipping       = "vote_flipping"
	FlagConfidenceMismatch = "confidence_mismatch"
	FlagContrarianPattern  = "contrarian_pattern"
)

// definitiveConfidenceFloor: a definitive vote stated with less confidence
// than this is suspect.
const definitiveConfidenceFloor = 0.3

// contrarianFraction: fraction of recent resolved votes against the
// eventual majority beyond which an agent is flagged.
const contrarianFraction = 0.8

// voteMark is one remembered vote, awaiting the outcome of its proposal.
type voteMark struct {
	proposalID string
	choice     bool
	abstain    bool
	alignment  cm.Trilean
}

// Detector inspects each incoming vote against the voting agent's recent
// history and raises flags for the reputation ledger to act on. It keeps no
// lock of its own: the Engine serializes all access.
type Detector struct {
	lookback int

	// history holds a bounded window of votes per agent
	history *cm.RollingIndexMap
	// counts tracks the next history index per agent
	counts map[string]int

	// flips counts vote changes per proposal, per agent
	flips map[string]map[string]int

	logger *logrus.Entry
}

// NewDetector creates a Detector with the configured lookback window.
func NewDetector(conf *config.Config, logger *logrus.Entry) *Detector {
	return &Detector{
		lookback: conf.VoteLookback,
		history:  cm.NewRollingIndexMap("VoteHistory", conf.VoteLookback),
		counts:   make(map[string]int),
		flips:    make(map[string]map[string]int),
		logger:   logger,
	}
}

// Inspect runs the checks against an incoming vote and returns the flag
// kinds raised. prior is the agent's earlier vote on the same proposal, if
// any. The vote is recorded into the history window afterwards, whether or
// not it was flagged.
func (d *Detector) Inspect(proposalID string, v *Vote, prior *Vote) []string {
	flags := []string{}

	if prior != nil && (prior.Choice != v.Choice || prior.Abstain != v.Abstain) {
		pf, ok := d.flips[proposalID]
		if !ok {
			pf = make(map[string]int)
			d.flips[proposalID] = pf
		}

		pf[v.AgentID]++
		if pf[v.AgentID] >= 2 {
			flags = append(flags, FlagVoteFlipping)
		}
	}

	if !v.Abstain && v.Confidence < definitiveConfidenceFloor {
		flags = append(flags, FlagConfidenceMismatch)
	}

	if d.contrarian(v.AgentID) {
		flags = append(flags, FlagContrarianPattern)
	}

	d.record(proposalID, v)

	return flags
}

// contrarian reports whether the agent's resolved recent votes sided
// against the majority more than contrarianFraction of the time. The check
// stays silent until at least half a window of votes has resolved, so a
// single dissent never counts as a pattern.
func (d *Detector) contrarian(agentID string) bool {
	resolved, against := 0, 0

	for _, item := range d.history.GetLastN(agentID, d.lookback) {
		mark := item.(*voteMark)
		if mark.alignment == cm.Undefined {
			continue
		}

		resolved++
		if mark.alignment == cm.False {
			against++
		}
	}

	if resolved < (d.lookback+1)/2 {
		return false
	}

	return float64(against)/float64(resolved) > contrarianFraction
}

// record appends the vote to the agent's history window. A re-vote on the
// same proposal updates the existing mark instead of appending.
func (d *Detector) record(proposalID string, v *Vote) {
	for _, item := range d.history.GetLastN(v.AgentID, d.lookback) {
		mark := item.(*voteMark)
		if mark.proposalID == proposalID {
			mark.choice = v.Choice
			mark.abstain = v.Abstain
			return
		}
	}

	idx := d.counts[v.AgentID]
	mark := &voteMark{
		proposalID: proposalID,
		choice:     v.Choice,
		abstain:    v.Abstain,
	}

	if err := d.history.Set(v.AgentID, mark, idx); err != nil {
		d.logger.WithField("error", err).Errorf("Recording vote history for %s", v.AgentID)
		return
	}

	d.counts[v.AgentID] = idx + 1
}

// Resolve marks, for every listed participant, whether their final vote
// sided with the majority, and drops the proposal's flip counters.
// Abstainers are left out, so their marks stay Undefined.
func (d *Detector) Resolve(proposalID string, withMajority map[string]bool) {
	for agentID, with := range withMajority {
		for _, item := range d.history.GetLastN(agentID, d.lookback) {
			mark := item.(*voteMark)
			if mark.proposalID == proposalID {
				mark.alignment = cm.TrileanFromBool(with)
				break
			}
		}
	}

	delete(d.flips, proposalID)
}

// Discard drops the flip counters of a proposal that expired unresolved.
func (d *Detector) Discard(proposalID string) {
	delete(d.flips, proposalID)
}
