// Package dummy implements a scripted swarm of demo agents. It drives a
// Hivemind instance end to end and is used by the standalone mode of the
// hivemind command, as well as by integration tests.
package dummy

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/swarmworks/hivemind/src/consensus"
	"github.com/swarmworks/hivemind/src/hivemind"
	"github.com/swarmworks/hivemind/src/memory"
)

const demoCapability = "demo"

// Swarm is a scripted population of demo agents. Run makes the agents
// register, seed observations into collective memory, dispute a key, vote it
// out with a single scripted dissenter, and consolidate what they learned.
type Swarm struct {
	hive   *hivemind.Hivemind
	size   int
	logger *logrus.Entry
}

// NewSwarm creates a Swarm of the given size over an initialized Hivemind
// instance. Sizes below two are raised to two; a single agent has nobody to
// disagree with.
func NewSwarm(hive *hivemind.Hivemind, size int, logger *logrus.Entry) *Swarm {
	if size < 2 {
		size = 2
	}

	return &Swarm{
		hive:   hive,
		size:   size,
		logger: logger.WithField("component", "swarm"),
	}
}

func (s *Swarm) agentID(i int) string {
	return fmt.Sprintf("demo-%d", i)
}

// Run executes the script. It returns the decision of the disputed
// proposal.
func (s *Swarm) Run() (*consensus.Decision, error) {
	for i := 0; i < s.size; i++ {
		s.hive.RegisterAgent(s.agentID(i), fmt.Sprintf("Demo Agent %d", i), []string{demoCapability})
	}

	s.logger.WithField("size", s.size).Info("Swarm registered")

	// every agent contributes one like-shaped observation, giving the
	// consolidation pass something to merge
	for i := 0; i < s.size; i++ {
		key := fmt.Sprintf("observations/%s", s.agentID(i))
		payload := []byte(fmt.Sprintf(`{"reporter":%q,"reading":%d}`, s.agentID(i), 20+i))

		if _, err := s.hive.Store("", key, payload, memory.TypeKnowledge, 0.7, nil); err != nil {
			return nil, fmt.Errorf("seeding %s: %v", key, err)
		}
	}

	proposal, err := s.hive.CreateProposal(consensus.ProposalRequest{
		Type:                 "demo_dispute",
		Key:                  "observations/summary",
		Value:                []byte(`{"status":"readings agree"}`),
		Question:             "do the readings agree?",
		RequiredCapabilities: []string{demoCapability},
	})
	if err != nil {
		return nil, fmt.Errorf("opening proposal: %v", err)
	}

	// the last agent is scripted to dissent
	for i := 0; i < s.size; i++ {
		vote := consensus.Vote{
			AgentID:    s.agentID(i),
			Choice:     i < s.size-1,
			Confidence: 0.9,
			Reasoning:  "scripted",
		}

		if err := s.hive.SubmitVote(proposal.ID, vote); err != nil {
			return nil, fmt.Errorf("voting: %v", err)
		}
	}

	decision, err := s.hive.FinalizeProposal(proposal.ID)
	if err != nil {
		return nil, fmt.Errorf("finalizing: %v", err)
	}

	s.logger.WithFields(logrus.Fields{
		"proposal":  proposal.ID,
		"consensus": decision.Consensus,
		"ratio":     decision.Ratio,
	}).Info("Swarm settled the dispute")

	report, err := s.hive.Consolidate()
	if err != nil {
		return nil, fmt.Errorf("consolidating: %v", err)
	}

	s.logger.WithFields(logrus.Fields{
		"scanned": report.Scanned,
		"merged":  report.Merged,
	}).Info("Swarm consolidated its observations")

	return decision, nil
}
