// Package hivemind assembles the collective memory and consensus components
// into one runnable instance, and exposes the top-level API used by the
// orchestration layer.
package hivemind

import (
	"fmt"
	"os"
	"strconv"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/swarmworks/hivemind/src/agents"
	"github.com/swarmworks/hivemind/src/config"
	"github.com/swarmworks/hivemind/src/consensus"
	"github.com/swarmworks/hivemind/src/memory"
	"github.com/swarmworks/hivemind/src/metrics"
	"github.com/swarmworks/hivemind/src/notify"
	"github.com/swarmworks/hivemind/src/service"
)

// Hivemind is the top-level object wrapping the store, the coordinator, the
// agent registry, the consensus engine, and the optional HTTP service. It is
// created with NewHivemind, started with Init and Run, and torn down with
// Shutdown.
type Hivemind struct {
	Config      *config.Config
	store       memory.Store
	Coordinator *memory.Coordinator
	Registry    *agents.Registry
	Detector    *consensus.Detector
	Engine      *consensus.Engine
	Notifier    *notify.Notifier
	Metrics     *metrics.Metrics
	Service     *service.Service

	scheduler *cron.Cron
	logger    *logrus.Entry
}

// NewHivemind ...
func NewHivemind(conf *config.Config) *Hivemind {
	return &Hivemind{
		Config: conf,
		logger: conf.Logger(),
	}
}

func (h *Hivemind) initStore() error {
	if !h.Config.Store {
		h.store = memory.NewInmemStore()

		h.logger.Debug("created new in-mem store")
	} else {
		h.logger.WithField("path", h.Config.DatabaseDir).Debug("Attempting to load or create database")

		store, err := memory.NewBadgerStore(h.Config.DatabaseDir)
		if err != nil {
			return err
		}

		h.store = store
	}

	return nil
}

func (h *Hivemind) initRegistry() error {
	h.Registry = agents.NewRegistry(h.Config, h.Notifier, h.Metrics, h.logger)

	// Reload the persisted population first, so roster entries refresh
	// rather than reset returning agents.
	if h.Config.Store && h.Config.Bootstrap {
		records, err := h.store.AgentRecords()
		if err != nil {
			return err
		}

		h.Registry.Load(records)

		h.logger.WithField("agents", len(records)).Debug("Bootstrapped agents from database")
	}

	roster := agents.NewJSONAgentSet(h.Config.DataDir)

	population, err := roster.Agents()
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("reading agent roster: %v", err)
		}
	} else {
		for _, a := range population {
			h.Registry.Register(a)
		}

		h.logger.WithField("agents", len(population)).Debug("Registered roster agents")
	}

	if h.Config.Store {
		h.Registry.SetPersist(h.store.SetAgentRecord)
	}

	return nil
}

func (h *Hivemind) initCoordinator() error {
	coordinator, err := memory.NewCoordinator(h.Config, h.store, h.Notifier, h.Metrics, h.logger)
	if err != nil {
		return err
	}

	h.Coordinator = coordinator

	return nil
}

func (h *Hivemind) initEngine() error {
	h.Detector = consensus.NewDetector(h.Config, h.logger)
	h.Engine = consensus.NewEngine(h.Config, h.Registry, h.Detector, h.Coordinator, h.Notifier, h.Metrics, h.logger)
	return nil
}

func (h *Hivemind) initService() error {
	if h.Config.NoService || h.Config.ServiceAddr == "" {
		return nil
	}

	h.Service = service.NewService(
		h.Config.ServiceAddr,
		h.Coordinator,
		h.Registry,
		h.Engine,
		h.Metrics,
		h.GetStats,
		h.logger,
	)

	return nil
}

func (h *Hivemind) initScheduler() error {
	h.scheduler = cron.New()

	if _, err := h.scheduler.AddFunc("@every "+h.Config.GCInterval.String(), h.collectGarbage); err != nil {
		return err
	}

	if _, err := h.scheduler.AddFunc("@every "+h.Config.ConsolidationInterval.String(), h.runConsolidation); err != nil {
		return err
	}

	return nil
}

// Init instantiates all the components. It must be called before Run.
func (h *Hivemind) Init() error {
	h.Notifier = notify.NewNotifier(h.logger)
	h.Metrics = metrics.NewMetrics()

	if err := h.initStore(); err != nil {
		return err
	}

	if err := h.initRegistry(); err != nil {
		return err
	}

	if err := h.initCoordinator(); err != nil {
		return err
	}

	if err := h.initEngine(); err != nil {
		return err
	}

	if err := h.initService(); err != nil {
		return err
	}

	if err := h.initScheduler(); err != nil {
		return err
	}

	return nil
}

// Run starts the background machinery: the HTTP service, the proposal
// deadline sweep, and the garbage-collection and consolidation schedules. It
// does not block; the instance serves library calls until Shutdown.
func (h *Hivemind) Run() {
	if h.Service != nil {
		go h.Service.Serve()
	}

	h.Engine.Start()
	h.scheduler.Start()
}

// Shutdown stops background work and closes the store.
func (h *Hivemind) Shutdown() {
	h.logger.Debug("Shutdown")

	if h.scheduler != nil {
		<-h.scheduler.Stop().Done()
	}
	if h.Engine != nil {
		h.Engine.Shutdown()
	}
	if h.Notifier != nil {
		h.Notifier.Close()
	}
	if h.Coordinator != nil {
		if err := h.Coordinator.Close(); err != nil {
			h.logger.WithError(err).Error("Closing store")
		}
	}
}

// collectGarbage is the scheduled expiry sweep. Failures are logged and
// retried on the next tick, never propagated.
func (h *Hivemind) collectGarbage() {
	if _, err := h.Coordinator.CollectExpired(); err != nil {
		h.logger.WithError(err).Error("Collecting expired entries")
	}

	h.Coordinator.EvictIdleCache()
	h.Coordinator.FlushAccess()
}

func (h *Hivemind) runConsolidation() {
	if _, err := h.Coordinator.Consolidate(h.Config.Namespace); err != nil {
		h.logger.WithError(err).Error("Consolidating")
	}
}

// namespaceOr substitutes the configured default namespace for an empty one.
func (h *Hivemind) namespaceOr(namespace string) string {
	if namespace == "" {
		return h.Config.Namespace
	}
	return namespace
}

// Store writes a payload into collective memory. An empty namespace selects
// the configured default.
func (h *Hivemind) Store(
	namespace, key string,
	payload []byte,
	memType memory.MemoryType,
	confidence float64,
	metadata map[string]string,
) (*memory.Entry, error) {
	return h.Coordinator.Store(h.namespaceOr(namespace), key, payload, memType, confidence, metadata)
}

// Retrieve returns the live entry under (namespace, key), or nil when none
// exists.
func (h *Hivemind) Retrieve(namespace, key string) (*memory.Entry, error) {
	return h.Coordinator.Retrieve(h.namespaceOr(namespace), key)
}

// Delete removes the entry under (namespace, key).
func (h *Hivemind) Delete(namespace, key string) (bool, error) {
	return h.Coordinator.Delete(h.namespaceOr(namespace), key)
}

// Search scans a namespace for entries whose keys match the options.
func (h *Hivemind) Search(namespace string, opts memory.SearchOptions) ([]*memory.Entry, error) {
	return h.Coordinator.Search(h.namespaceOr(namespace), opts)
}

// Consolidate runs a synchronous consolidation pass over the default
// namespace.
func (h *Hivemind) Consolidate() (*memory.ConsolidationReport, error) {
	return h.Coordinator.Consolidate(h.Config.Namespace)
}

// RegisterAgent adds an agent to the population, or refreshes it if it is
// already registered.
func (h *Hivemind) RegisterAgent(id, moniker string, capabilities []string) *agents.Agent {
	return h.Registry.Register(agents.NewAgent(id, moniker, capabilities))
}

// CreateProposal opens a proposal. An empty namespace selects the configured
// default.
func (h *Hivemind) CreateProposal(req consensus.ProposalRequest) (*consensus.Proposal, error) {
	req.Namespace = h.namespaceOr(req.Namespace)
	return h.Engine.CreateProposal(req)
}

// SubmitVote records an agent's vote on an open proposal.
func (h *Hivemind) SubmitVote(proposalID string, vote consensus.Vote) error {
	return h.Engine.SubmitVote(proposalID, vote)
}

// FinalizeProposal computes the decision of a proposal that has reached
// quorum.
func (h *Hivemind) FinalizeProposal(proposalID string) (*consensus.Decision, error) {
	return h.Engine.FinalizeProposal(proposalID)
}

// GetProposal returns a copy of a proposal.
func (h *Hivemind) GetProposal(proposalID string) (*consensus.Proposal, error) {
	return h.Engine.GetProposal(proposalID)
}

// Subscribe registers a notification subscriber and returns its id along
// with the event channel.
func (h *Hivemind) Subscribe(buffer int) (int, <-chan notify.Event) {
	return h.Notifier.Subscribe(buffer)
}

// Unsubscribe removes a notification subscriber.
func (h *Hivemind) Unsubscribe(id int) {
	h.Notifier.Unsubscribe(id)
}

// GetMetricsSnapshot gathers the prometheus collectors into a flat
// name-to-value map.
func (h *Hivemind) GetMetricsSnapshot() (map[string]float64, error) {
	return h.Metrics.Snapshot()
}

// GetStats returns a flat snapshot of instance counters.
func (h *Hivemind) GetStats() map[string]string {
	stats := h.Coordinator.Stats()

	for k, v := range h.Engine.Stats() {
		stats[k] = v
	}

	quarantined := 0
	for _, a := range h.Registry.All() {
		if a.Quarantined {
			quarantined++
		}
	}

	stats["moniker"] = h.Config.Moniker
	stats["namespace"] = h.Config.Namespace
	stats["agents_registered"] = strconv.Itoa(h.Registry.Len())
	stats["agents_online"] = strconv.Itoa(h.Registry.OnlineCount())
	stats["agents_quarantined"] = strconv.Itoa(quarantined)
	stats["notifications_dropped"] = strconv.FormatUint(h.Notifier.Dropped(), 10)

	return stats
}
