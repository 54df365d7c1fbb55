package agents

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/swarmworks/hivemind/src/common"
	"github.com/swarmworks/hivemind/src/config"
	"github.com/swarmworks/hivemind/src/metrics"
	"github.com/swarmworks/hivemind/src/notify"
)

// Multipliers applied once per finalized proposal.
const (
	majorityReputationGain = 1.05
	majorityWeightGain     = 1.02
	minorityReputationLoss = 0.98
	minorityWeightLoss     = 0.99
)

// Registry is the reputation ledger. It owns every mutation of agent weight,
// reputation, flag count, and quarantine state; other components read
// snapshots.
type Registry struct {
	l      sync.RWMutex
	agents map[string]*Agent

	flagDecay       float64
	reputationCap   float64
	quarantineFlags int

	persist func(*Agent) error

	notifier *notify.Notifier
	metrics  *metrics.Metrics
	logger   *logrus.Entry
}

// NewRegistry creates an empty Registry with the behaviour parameters taken
// from the configuration.
func NewRegistry(conf *config.Config, notifier *notify.Notifier, m *metrics.Metrics, logger *logrus.Entry) *Registry {
	return &Registry{
		agents:          make(map[string]*Agent),
		flagDecay:       conf.FlagDecay,
		reputationCap:   conf.ReputationCap,
		quarantineFlags: conf.QuarantineFlags,
		notifier:        notifier,
		metrics:         m,
		logger:          logger,
	}
}

// SetPersist installs a write-through hook called with a snapshot of every
// agent the Registry mutates.
func (r *Registry) SetPersist(fn func(*Agent) error) {
	r.l.Lock()
	defer r.l.Unlock()
	r.persist = fn
}

// Register adds an agent to the population, or refreshes its moniker,
// capabilities, and online status if it is already registered. Weight,
// reputation, and flags survive re-registration. Quarantined agents stay
// quarantined.
func (r *Registry) Register(agent *Agent) *Agent {
	r.l.Lock()
	defer r.l.Unlock()

	existing, ok := r.agents[agent.ID]
	if ok {
		existing.Moniker = agent.Moniker
		existing.Capabilities = append([]string{}, agent.Capabilities...)
		if !existing.Quarantined {
			existing.Online = true
		}
		r.persistLocked(existing)
		return existing.Copy()
	}

	a := agent.Copy()
	if a.Weight == 0 && !a.Quarantined {
		a.Weight = 1.0
	}
	if a.Reputation == 0 {
		a.Reputation = 1.0
	}
	r.agents[a.ID] = a

	r.logger.WithFields(logrus.Fields{
		"agent":   a.ID,
		"moniker": a.Moniker,
	}).Debug("Registered agent")

	r.persistLocked(a)
	r.metrics.SetAgentsOnline(r.onlineCountLocked())

	return a.Copy()
}

// Load inserts agents without persisting or notifying. It is used to rebuild
// the population from storage at startup.
func (r *Registry) Load(agents []*Agent) {
	r.l.Lock()
	defer r.l.Unlock()

	for _, a := range agents {
		r.agents[a.ID] = a.Copy()
	}
	r.metrics.SetAgentsOnline(r.onlineCountLocked())
}

// Get returns a snapshot of an agent.
func (r *Registry) Get(id string) (*Agent, bool) {
	r.l.RLock()
	defer r.l.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return a.Copy(), true
}

// All returns snapshots of every agent, sorted by ID.
func (r *Registry) All() []*Agent {
	r.l.RLock()
	defer r.l.RUnlock()

	res := make([]*Agent, 0, len(r.agents))
	for _, a := range r.agents {
		res = append(res, a.Copy())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	return res
}

// Eligible returns snapshots of the agents that may take part in consensus,
// sorted by ID.
func (r *Registry) Eligible() []*Agent {
	r.l.RLock()
	defer r.l.RUnlock()

	res := []*Agent{}
	for _, a := range r.agents {
		if a.Eligible() {
			res = append(res, a.Copy())
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	return res
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.l.RLock()
	defer r.l.RUnlock()
	return len(r.agents)
}

// OnlineCount returns the number of online agents.
func (r *Registry) OnlineCount() int {
	r.l.RLock()
	defer r.l.RUnlock()
	return r.onlineCountLocked()
}

// SetOnline flips an agent's online status. Quarantined agents cannot be
// brought back online.
func (r *Registry) SetOnline(id string, online bool) error {
	r.l.Lock()
	defer r.l.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return common.NewStoreErr("agent", common.KeyNotFound, id)
	}
	if a.Quarantined && online {
		return fmt.Errorf("agent %s is quarantined", id)
	}

	a.Online = online
	r.persistLocked(a)
	r.metrics.SetAgentsOnline(r.onlineCountLocked())

	return nil
}

// ApplyConsensusOutcome applies the once-per-proposal reputation update:
// agents on the majority side gain reputation and weight, agents on the
// minority side lose some of both. Results are capped.
func (r *Registry) ApplyConsensusOutcome(majority []string, minority []string) {
	r.l.Lock()
	defer r.l.Unlock()

	for _, id := range majority {
		a, ok := r.agents[id]
		if !ok {
			continue
		}
		a.Reputation = capped(a.Reputation*majorityReputationGain, r.reputationCap)
		a.Weight = capped(a.Weight*majorityWeightGain, r.reputationCap)
		r.persistLocked(a)
	}

	for _, id := range minority {
		a, ok := r.agents[id]
		if !ok {
			continue
		}
		a.Reputation = a.Reputation * minorityReputationLoss
		a.Weight = a.Weight * minorityWeightLoss
		r.persistLocked(a)
	}
}

// Flag raises a behavioural flag against an agent, decays its weight and
// reputation, and quarantines it when the flag count crosses the threshold.
// It returns the new flag count and whether this call triggered quarantine.
func (r *Registry) Flag(id string, kind string) (int, bool, error) {
	r.l.Lock()
	defer r.l.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return 0, false, common.NewStoreErr("agent", common.KeyNotFound, id)
	}

	a.Flags++
	a.Weight = a.Weight * r.flagDecay
	a.Reputation = a.Reputation * r.flagDecay

	r.logger.WithFields(logrus.Fields{
		"agent": id,
		"kind":  kind,
		"flags": a.Flags,
	}).Debug("Flagged agent")

	r.metrics.RecordFlag(kind)
	r.notifier.Emit(notify.Event{
		Kind:    notify.AgentFlagged,
		AgentID: id,
		Detail: map[string]string{
			"kind":  kind,
			"flags": strconv.Itoa(a.Flags),
		},
	})

	quarantined := false
	if a.Flags >= r.quarantineFlags && !a.Quarantined {
		a.Quarantined = true
		a.Online = false
		a.Weight = 0

		quarantined = true

		r.logger.WithFields(logrus.Fields{
			"agent": id,
			"flags": a.Flags,
		}).Warn("Quarantined agent")

		r.metrics.RecordQuarantine()
		r.metrics.SetAgentsOnline(r.onlineCountLocked())
		r.notifier.Emit(notify.Event{
			Kind:    notify.AgentQuarantined,
			AgentID: id,
			Detail: map[string]string{
				"flags": strconv.Itoa(a.Flags),
			},
		})
	}

	r.persistLocked(a)

	return a.Flags, quarantined, nil
}

func (r *Registry) onlineCountLocked() int {
	count := 0
	for _, a := range r.agents {
		if a.Online {
			count++
		}
	}
	return count
}

func (r *Registry) persistLocked(a *Agent) {
	if r.persist == nil {
		return
	}
	if err := r.persist(a.Copy()); err != nil {
		r.logger.WithError(err).WithField("agent", a.ID).Error("Failed to persist agent")
	}
}

func capped(v float64, cap float64) float64 {
	if v > cap {
		return cap
	}
	return v
}
