package consensus

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/swarmworks/hivemind/src/agents"
	"github.com/swarmworks/hivemind/src/config"
	"github.com/swarmworks/hivemind/src/memory"
	"github.com/swarmworks/hivemind/src/metrics"
	"github.com/swarmworks/hivemind/src/notify"
)

var timeNow = time.Now

// auditNamespace holds the audit row of every terminal proposal.
const auditNamespace = "proposals"

// sweepInterval is the cadence of the background expiry sweep.
const sweepInterval = time.Second

// MemoryWriter is the slice of the memory coordinator the engine needs to
// persist consensus values and proposal audit rows.
type MemoryWriter interface {
	Store(namespace, key string, payload []byte, memType memory.MemoryType, confidence float64, metadata map[string]string) (*memory.Entry, error)
}

// ProposalRequest describes a proposal to open.
type ProposalRequest struct {
	// Type is a caller defined category, recorded verbatim.
	Type string

	// Namespace and Key locate the disputed entry.
	Namespace string
	Key       string

	// Value is the candidate payload adopted when the positive side wins.
	Value []byte

	// Question is an optional human readable statement.
	Question string

	// Threshold overrides the configured default when non-zero.
	Threshold float64

	// Algorithm defaults to WeightedMajority when empty.
	Algorithm Algorithm

	// RequiredCapabilities narrows the eligible voters.
	RequiredCapabilities []string

	// Timeout overrides the configured default deadline when non-zero.
	Timeout time.Duration
}

// Engine owns the proposal lifecycle: creation, vote collection, Byzantine
// inspection, and the single terminal transition to finalized or expired.
// One lock serializes all proposal mutation, so votes and reputation
// updates never race.
type Engine struct {
	coreLock sync.Mutex

	proposals map[string]*Proposal

	defaultThreshold float64
	defaultTimeout   time.Duration
	quorum           float64

	createdCount   int
	finalizedCount int
	consensusCount int
	expiredCount   int

	registry *agents.Registry
	detector *Detector
	mem      MemoryWriter

	sweeper      *DeadlineTimer
	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	notifier *notify.Notifier
	metrics  *metrics.Metrics
	logger   *logrus.Entry
}

// NewEngine creates a consensus Engine wired to the registry, detector, and
// memory coordinator.
func NewEngine(
	conf *config.Config,
	registry *agents.Registry,
	detector *Detector,
	mem MemoryWriter,
	notifier *notify.Notifier,
	m *metrics.Metrics,
	logger *logrus.Entry,
) *Engine {
	return &Engine{
		proposals:        make(map[string]*Proposal),
		defaultThreshold: conf.ConsensusThreshold,
		defaultTimeout:   conf.ProposalTimeout,
		quorum:           conf.QuorumFraction,
		registry:         registry,
		detector:         detector,
		mem:              mem,
		sweeper:          NewSweepTimer(),
		shutdownCh:       make(chan struct{}),
		notifier:         notifier,
		metrics:          m,
		logger:           logger,
	}
}

// Start launches the background expiry sweep.
func (e *Engine) Start() {
	go e.sweeper.Run(sweepInterval)
	go e.sweepLoop()
}

func (e *Engine) sweepLoop() {
	for {
		select {
		case <-e.sweeper.tickCh:
			if n := e.SweepExpired(); n > 0 {
				e.logger.WithField("expired", n).Debug("Expired overdue proposals")
			}
			select {
			case e.sweeper.resetCh <- sweepInterval:
			case <-e.shutdownCh:
				return
			}
		case <-e.shutdownCh:
			return
		}
	}
}

// Shutdown stops the background sweep. Proposal state stays readable.
func (e *Engine) Shutdown() {
	e.shutdownOnce.Do(func() {
		close(e.shutdownCh)
		e.sweeper.Shutdown()
	})
}

// CreateProposal validates the request and opens a proposal. It fails with
// NoEligibleAgents when no online, non-quarantined agent holds the required
// capabilities.
func (e *Engine) CreateProposal(req ProposalRequest) (*Proposal, error) {
	if req.Namespace == "" || req.Key == "" {
		return nil, fmt.Errorf("proposal needs a namespace and a key")
	}

	threshold := req.Threshold
	if threshold == 0 {
		threshold = e.defaultThreshold
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold %f outside (0,1]", threshold)
	}

	alg := req.Algorithm
	if alg == "" {
		alg = WeightedMajority
	}
	switch alg {
	case WeightedMajority, ByzantineTolerant, Unanimous, SimpleMajority:
	default:
		return nil, fmt.Errorf("unknown algorithm %q", alg)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.defaultTimeout
	}

	eligible := 0
	for _, a := range e.registry.Eligible() {
		if hasCapabilities(a.Capabilities, req.RequiredCapabilities) {
			eligible++
		}
	}
	if eligible == 0 {
		return nil, NewProposalErr(NoEligibleAgents, "",
			fmt.Sprintf("capabilities %v", req.RequiredCapabilities))
	}

	now := timeNow().UTC()

	p := &Proposal{
		ID:                   uuid.NewString(),
		Type:                 req.Type,
		Namespace:            req.Namespace,
		Key:                  req.Key,
		Value:                req.Value,
		Question:             req.Question,
		Threshold:            threshold,
		Algorithm:            alg,
		RequiredCapabilities: req.RequiredCapabilities,
		Votes:                make(map[string]*Vote),
		EligibleCount:        eligible,
		CreatedAt:            now,
		Deadline:             now.Add(timeout),
		Status:               StatusOpen,
	}

	e.coreLock.Lock()
	e.proposals[p.ID] = p
	e.createdCount++
	e.coreLock.Unlock()

	e.metrics.RecordProposal("created")

	e.logger.WithFields(logrus.Fields{
		"proposal": p.ID,
		"key":      p.Namespace + "/" + p.Key,
		"eligible": eligible,
		"deadline": p.Deadline,
	}).Info("Created proposal")

	return p.Copy(), nil
}

// SubmitVote runs the vote through the Byzantine detector and records it.
// A later vote from the same agent overwrites the earlier one. Quarantined
// agents' votes are recorded too; they simply carry no weight at tally
// time.
func (e *Engine) SubmitVote(proposalID string, vote Vote) error {
	if vote.AgentID == "" {
		return fmt.Errorf("vote carries no agent ID")
	}

	e.coreLock.Lock()
	defer e.coreLock.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		e.metrics.RecordVote("rejected")
		return NewProposalErr(UnknownProposal, proposalID, "")
	}

	now := timeNow().UTC()
	if p.Status == StatusOpen && now.After(p.Deadline) {
		e.expireLocked(p)
	}
	if p.Status != StatusOpen {
		e.metrics.RecordVote("rejected")
		return NewProposalErr(ProposalClosed, proposalID, string(p.Status))
	}

	agent, ok := e.registry.Get(vote.AgentID)
	if !ok {
		e.metrics.RecordVote("rejected")
		return NewProposalErr(Ineligible, proposalID,
			fmt.Sprintf("unknown agent %s", vote.AgentID))
	}
	if !hasCapabilities(agent.Capabilities, p.RequiredCapabilities) {
		e.metrics.RecordVote("rejected")
		return NewProposalErr(Ineligible, proposalID,
			fmt.Sprintf("agent %s lacks %v", vote.AgentID, p.RequiredCapabilities))
	}

	prior := p.Votes[vote.AgentID]
	for _, kind := range e.detector.Inspect(p.ID, &vote, prior) {
		if _, _, err := e.registry.Flag(vote.AgentID, kind); err != nil {
			e.logger.WithField("error", err).Errorf("Flagging agent %s", vote.AgentID)
		}
	}

	vote.Timestamp = now
	v := vote
	p.Votes[vote.AgentID] = &v

	e.metrics.RecordVote("accepted")

	e.logger.WithFields(logrus.Fields{
		"proposal": p.ID,
		"agent":    vote.AgentID,
		"choice":   vote.Choice,
		"abstain":  vote.Abstain,
	}).Debug("Recorded vote")

	return nil
}

// FinalizeProposal computes the decision. It requires participation at or
// above the quorum floor; below it the call reports NoQuorum and the
// proposal stays open until its deadline. Finalizing an already finalized
// proposal returns the recorded decision unchanged.
func (e *Engine) FinalizeProposal(proposalID string) (*Decision, error) {
	e.coreLock.Lock()
	defer e.coreLock.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return nil, NewProposalErr(UnknownProposal, proposalID, "")
	}

	now := timeNow().UTC()
	if p.Status == StatusOpen && now.After(p.Deadline) {
		e.expireLocked(p)
	}

	if p.Status == StatusFinalized {
		d := *p.Decision
		return &d, nil
	}
	if p.Status == StatusExpired {
		return nil, NewProposalErr(ProposalClosed, proposalID, string(StatusExpired))
	}

	roster := e.rosterFor(p)

	participants := 0
	for id := range p.Votes {
		if a, ok := roster[id]; ok && !a.Quarantined {
			participants++
		}
	}
	if float64(participants) < e.quorum*float64(p.EligibleCount) {
		return nil, NewProposalErr(NoQuorum, proposalID,
			fmt.Sprintf("%d of %d eligible", participants, p.EligibleCount))
	}

	d := computeDecision(p.Algorithm, p.Threshold, p.Votes, roster)
	d.Participation = float64(participants) / float64(p.EligibleCount)
	d.FinalizedAt = now

	// Persist the adopted value before committing any state change, so a
	// storage failure leaves the proposal open and the finalize retryable.
	if d.Adopted && len(p.Value) > 0 {
		meta := map[string]string{
			"proposal_id":    p.ID,
			"algorithm":      string(p.Algorithm),
			"positive_votes": strconv.Itoa(d.PositiveVotes),
			"negative_votes": strconv.Itoa(d.NegativeVotes),
			"abstentions":    strconv.Itoa(d.Abstentions),
			"participants":   strconv.Itoa(participants),
		}
		if _, err := e.mem.Store(p.Namespace, p.Key, p.Value, memory.TypeConsensus, d.Ratio, meta); err != nil {
			e.logger.WithField("error", err).Errorf("Writing consensus value for %s", p.ID)
			return nil, err
		}
	}

	majorityTrue := d.Ratio >= 0.5

	withMajority := map[string]bool{}
	majority, minority := []string{}, []string{}
	for id, v := range p.Votes {
		a, ok := roster[id]
		if !ok || a.Quarantined || v.Abstain {
			continue
		}

		with := v.Choice == majorityTrue
		withMajority[id] = with
		if with {
			majority = append(majority, id)
		} else {
			minority = append(minority, id)
		}
	}
	sort.Strings(majority)
	sort.Strings(minority)

	e.registry.ApplyConsensusOutcome(majority, minority)
	e.detector.Resolve(p.ID, withMajority)

	p.Status = StatusFinalized
	p.Decision = d
	e.finalizedCount++
	if d.Consensus {
		e.consensusCount++
	}

	e.metrics.RecordProposal("finalized")
	e.writeAudit(p)

	e.notifier.Emit(notify.Event{
		Kind:       notify.ProposalFinalized,
		Namespace:  p.Namespace,
		Key:        p.Key,
		ProposalID: p.ID,
		Detail: map[string]string{
			"consensus": strconv.FormatBool(d.Consensus),
			"ratio":     strconv.FormatFloat(d.Ratio, 'f', 4, 64),
		},
	})

	e.logger.WithFields(logrus.Fields{
		"proposal":  p.ID,
		"consensus": d.Consensus,
		"ratio":     d.Ratio,
		"votes":     d.PositiveVotes + d.NegativeVotes,
	}).Info("Finalized proposal")

	dc := *d
	return &dc, nil
}

// SweepExpired expires every open proposal past its deadline and returns
// the count.
func (e *Engine) SweepExpired() int {
	e.coreLock.Lock()
	defer e.coreLock.Unlock()

	now := timeNow().UTC()

	expired := 0
	for _, p := range e.proposals {
		if p.Status == StatusOpen && now.After(p.Deadline) {
			e.expireLocked(p)
			expired++
		}
	}

	return expired
}

// expireLocked performs the terminal open to expired transition: no memory
// write, no reputation update. Callers hold coreLock.
func (e *Engine) expireLocked(p *Proposal) {
	p.Status = StatusExpired
	e.expiredCount++

	e.detector.Discard(p.ID)
	e.metrics.RecordProposal("expired")
	e.writeAudit(p)

	e.notifier.Emit(notify.Event{
		Kind:       notify.ProposalExpired,
		Namespace:  p.Namespace,
		Key:        p.Key,
		ProposalID: p.ID,
	})

	e.logger.WithField("proposal", p.ID).Info("Expired proposal")
}

// writeAudit persists the terminal proposal as a system entry. Best
// effort: a failure is logged, never propagated.
func (e *Engine) writeAudit(p *Proposal) {
	payload, err := p.Marshal()
	if err != nil {
		e.logger.WithField("error", err).Errorf("Encoding proposal audit %s", p.ID)
		return
	}

	meta := map[string]string{
		"status": string(p.Status),
		"type":   p.Type,
	}
	if _, err := e.mem.Store(auditNamespace, p.ID, payload, memory.TypeSystem, 1.0, meta); err != nil {
		e.logger.WithField("error", err).Errorf("Recording proposal audit %s", p.ID)
	}
}

// GetProposal returns a copy of the proposal.
func (e *Engine) GetProposal(proposalID string) (*Proposal, error) {
	e.coreLock.Lock()
	defer e.coreLock.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return nil, NewProposalErr(UnknownProposal, proposalID, "")
	}

	return p.Copy(), nil
}

// Proposals returns copies of all proposals, oldest first.
func (e *Engine) Proposals() []*Proposal {
	e.coreLock.Lock()
	defer e.coreLock.Unlock()

	res := make([]*Proposal, 0, len(e.proposals))
	for _, p := range e.proposals {
		res = append(res, p.Copy())
	}

	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.Before(res[j].CreatedAt)
		}
		return res[i].ID < res[j].ID
	})

	return res
}

// Stats returns proposal lifecycle counters.
func (e *Engine) Stats() map[string]string {
	e.coreLock.Lock()
	defer e.coreLock.Unlock()

	open := 0
	for _, p := range e.proposals {
		if p.Status == StatusOpen {
			open++
		}
	}

	rate := 0.0
	if e.finalizedCount > 0 {
		rate = float64(e.consensusCount) / float64(e.finalizedCount)
	}

	return map[string]string{
		"proposals_created":   strconv.Itoa(e.createdCount),
		"proposals_open":      strconv.Itoa(open),
		"proposals_finalized": strconv.Itoa(e.finalizedCount),
		"proposals_expired":   strconv.Itoa(e.expiredCount),
		"consensus_rate":      strconv.FormatFloat(rate, 'f', 2, 64),
	}
}

func (e *Engine) rosterFor(p *Proposal) map[string]*agents.Agent {
	roster := make(map[string]*agents.Agent, len(p.Votes))
	for id := range p.Votes {
		if a, ok := e.registry.Get(id); ok {
			roster[id] = a
		}
	}
	return roster
}

func hasCapabilities(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
