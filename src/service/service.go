package service

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/swarmworks/hivemind/src/agents"
	"github.com/swarmworks/hivemind/src/consensus"
	"github.com/swarmworks/hivemind/src/memory"
	"github.com/swarmworks/hivemind/src/metrics"
)

// Service ...
type Service struct {
	sync.Mutex

	bindAddress string
	coordinator *memory.Coordinator
	registry    *agents.Registry
	engine      *consensus.Engine
	stats       func() map[string]string
	logger      *logrus.Entry
}

// NewService ...
func NewService(
	bindAddress string,
	coordinator *memory.Coordinator,
	registry *agents.Registry,
	engine *consensus.Engine,
	m *metrics.Metrics,
	stats func() map[string]string,
	logger *logrus.Entry,
) *Service {
	service := Service{
		bindAddress: bindAddress,
		coordinator: coordinator,
		registry:    registry,
		engine:      engine,
		stats:       stats,
		logger:      logger,
	}

	service.registerHandlers(m)

	return &service
}

// registerHandlers registers the API handlers with the DefaultServerMux of
// the http package. It is possible that another server in the same process is
// simultaneously using the DefaultServerMux. In which case, the handlers will
// be accessible from both servers. This is usefull when Hivemind is used
// in-memory and expected to use the same endpoint (address:port) as the
// application's API.
func (s *Service) registerHandlers(m *metrics.Metrics) {
	s.logger.Debug("Registering Hivemind API handlers")
	http.HandleFunc("/stats", s.makeHandler(s.GetStats))
	http.HandleFunc("/entry/", s.makeHandler(s.GetEntry))
	http.HandleFunc("/search", s.makeHandler(s.Search))
	http.HandleFunc("/agents", s.makeHandler(s.GetAgents))
	http.HandleFunc("/proposals", s.makeHandler(s.GetProposals))
	http.HandleFunc("/proposal/", s.makeHandler(s.GetProposal))

	if registry := m.Registry(); registry != nil {
		http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call. It is not necessary to
// call Serve when Hivemind is used in-memory and another server has already
// been started with the DefaultServerMux and the same address:port
// combination. Indeed, Hivemind API handlers have already been registered when
// the service was instantiated.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving Hivemind API")

	// Use the DefaultServerMux
	err := http.ListenAndServe(s.bindAddress, nil)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.stats())
}

// GetEntry returns the live entry under /entry/{namespace}/{key}.
func (s *Service) GetEntry(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/entry/"):]

	parts := strings.SplitN(param, "/", 2)
	if len(parts) != 2 {
		http.Error(w, "expected /entry/{namespace}/{key}", http.StatusBadRequest)
		return
	}

	entry, err := s.coordinator.Retrieve(parts[0], parts[1])
	if err != nil {
		s.logger.WithError(err).Errorf("Retrieving entry %s", param)

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	if entry == nil {
		http.Error(w, "no live entry under "+param, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(entry)
}

// Search runs a key-pattern search over a namespace. Query parameters:
// namespace, pattern, sort, limit.
func (s *Service) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	namespace := q.Get("namespace")
	if namespace == "" {
		http.Error(w, "namespace parameter is required", http.StatusBadRequest)
		return
	}

	opts := memory.SearchOptions{
		Pattern: q.Get("pattern"),
		SortBy:  memory.SortOrder(q.Get("sort")),
	}

	if l := q.Get("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil {
			http.Error(w, "limit must be an integer", http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}

	res, err := s.coordinator.Search(namespace, opts)
	if err != nil {
		s.logger.WithError(err).Errorf("Searching %s", namespace)

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(res)
}

// GetAgents ...
func (s *Service) GetAgents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.registry.All())
}

// GetProposals ...
func (s *Service) GetProposals(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(s.engine.Proposals())
}

// GetProposal ...
func (s *Service) GetProposal(w http.ResponseWriter, r *http.Request) {
	param := r.URL.Path[len("/proposal/"):]

	proposal, err := s.engine.GetProposal(param)
	if err != nil {
		if consensus.IsProposalErr(err, consensus.UnknownProposal) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}

		s.logger.WithError(err).Errorf("Retrieving proposal %s", param)

		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(proposal)
}
