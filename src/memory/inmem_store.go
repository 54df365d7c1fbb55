package memory

import (
	"sort"
	"sync"

	"github.com/swarmworks/hivemind/src/agents"
	cm "github.com/swarmworks/hivemind/src/common"
)

// InmemStore implements the Store interface with everything in memory. It is
// the backend used when persistence is disabled, and the reference
// implementation for store semantics.
type InmemStore struct {
	l       sync.RWMutex
	entries map[string]map[string]*Entry
	agents  map[string]*agents.Agent
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		entries: make(map[string]map[string]*Entry),
		agents:  make(map[string]*agents.Agent),
	}
}

// GetEntry implements the Store interface.
func (s *InmemStore) GetEntry(namespace, key string) (*Entry, error) {
	s.l.Lock()
	defer s.l.Unlock()

	ns, ok := s.entries[namespace]
	if !ok {
		return nil, cm.NewStoreErr("entry", cm.KeyNotFound, namespace+"/"+key)
	}
	e, ok := ns[key]
	if !ok {
		return nil, cm.NewStoreErr("entry", cm.KeyNotFound, namespace+"/"+key)
	}

	e.AccessCount++

	return e.Copy(), nil
}

// PeekEntry implements the Store interface.
func (s *InmemStore) PeekEntry(namespace, key string) (*Entry, error) {
	s.l.RLock()
	defer s.l.RUnlock()

	ns, ok := s.entries[namespace]
	if !ok {
		return nil, cm.NewStoreErr("entry", cm.KeyNotFound, namespace+"/"+key)
	}
	e, ok := ns[key]
	if !ok {
		return nil, cm.NewStoreErr("entry", cm.KeyNotFound, namespace+"/"+key)
	}

	return e.Copy(), nil
}

// SetEntry implements the Store interface.
func (s *InmemStore) SetEntry(entry *Entry) error {
	s.l.Lock()
	defer s.l.Unlock()

	ns, ok := s.entries[entry.Namespace]
	if !ok {
		ns = make(map[string]*Entry)
		s.entries[entry.Namespace] = ns
	}
	ns[entry.Key] = entry.Copy()

	return nil
}

// DeleteEntry implements the Store interface.
func (s *InmemStore) DeleteEntry(namespace, key string) error {
	s.l.Lock()
	defer s.l.Unlock()

	ns, ok := s.entries[namespace]
	if !ok {
		return cm.NewStoreErr("entry", cm.KeyNotFound, namespace+"/"+key)
	}
	if _, ok := ns[key]; !ok {
		return cm.NewStoreErr("entry", cm.KeyNotFound, namespace+"/"+key)
	}

	delete(ns, key)
	if len(ns) == 0 {
		delete(s.entries, namespace)
	}

	return nil
}

// BumpAccess implements the Store interface.
func (s *InmemStore) BumpAccess(namespace, key string, n int) error {
	s.l.Lock()
	defer s.l.Unlock()

	ns, ok := s.entries[namespace]
	if !ok {
		return nil
	}
	if e, ok := ns[key]; ok {
		e.AccessCount += n
	}

	return nil
}

// ScanEntries implements the Store interface.
func (s *InmemStore) ScanEntries(namespace string, fn func(*Entry) bool) error {
	s.l.RLock()
	defer s.l.RUnlock()

	namespaces := []string{}
	if namespace != "" {
		if _, ok := s.entries[namespace]; ok {
			namespaces = append(namespaces, namespace)
		}
	} else {
		for ns := range s.entries {
			namespaces = append(namespaces, ns)
		}
		sort.Strings(namespaces)
	}

	for _, ns := range namespaces {
		keys := make([]string, 0, len(s.entries[ns]))
		for k := range s.entries[ns] {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if !fn(s.entries[ns][k].Copy()) {
				return nil
			}
		}
	}

	return nil
}

// EntryCount implements the Store interface.
func (s *InmemStore) EntryCount() (int, error) {
	s.l.RLock()
	defer s.l.RUnlock()

	count := 0
	for _, ns := range s.entries {
		count += len(ns)
	}

	return count, nil
}

// SetAgentRecord implements the Store interface.
func (s *InmemStore) SetAgentRecord(agent *agents.Agent) error {
	s.l.Lock()
	defer s.l.Unlock()

	s.agents[agent.ID] = agent.Copy()

	return nil
}

// AgentRecords implements the Store interface.
func (s *InmemStore) AgentRecords() ([]*agents.Agent, error) {
	s.l.RLock()
	defer s.l.RUnlock()

	res := make([]*agents.Agent, 0, len(s.agents))
	for _, a := range s.agents {
		res = append(res, a.Copy())
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	return res, nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}
