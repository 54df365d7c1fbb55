// Package notify implements the in-process notification hub. Components emit
// events as state transitions happen, subscribers consume them from buffered
// channels. A slow subscriber never blocks an emitter; overflowing events are
// counted and dropped.
package notify

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventKind identifies the state transition an Event describes.
type EventKind string

const (
	// EntryStored is emitted after a memory write commits.
	EntryStored EventKind = "entry_stored"
	// EntryExpired is emitted when garbage collection removes an entry.
	EntryExpired EventKind = "entry_expired"
	// ProposalFinalized is emitted when a proposal reaches a decision.
	ProposalFinalized EventKind = "proposal_finalized"
	// ProposalExpired is emitted when a proposal passes its deadline without
	// being finalized.
	ProposalExpired EventKind = "proposal_expired"
	// AgentFlagged is emitted when a behavioural flag is raised against an
	// agent.
	AgentFlagged EventKind = "agent_flagged"
	// AgentQuarantined is emitted when an agent crosses the quarantine
	// threshold.
	AgentQuarantined EventKind = "agent_quarantined"
	// ConsolidationRun is emitted after every consolidation pass, merges or
	// not; the Detail counters say what the pass did.
	ConsolidationRun EventKind = "consolidation_run"
)

// Event ...
type Event struct {
	Kind       EventKind
	Namespace  string
	Key        string
	AgentID    string
	ProposalID string
	Detail     map[string]string
	At         time.Time
}

type subscriber struct {
	id int
	ch chan Event
}

// Notifier fans events out to subscribers in emission order. The zero value
// is not usable; a nil Notifier is, and discards everything.
type Notifier struct {
	l           sync.Mutex
	subscribers []*subscriber
	nextID      int
	dropped     uint64
	logger      *logrus.Entry
}

// NewNotifier ...
func NewNotifier(logger *logrus.Entry) *Notifier {
	return &Notifier{
		logger: logger,
	}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns its id along with the event channel.
func (n *Notifier) Subscribe(buffer int) (int, <-chan Event) {
	n.l.Lock()
	defer n.l.Unlock()

	if buffer <= 0 {
		buffer = 1
	}

	sub := &subscriber{
		id: n.nextID,
		ch: make(chan Event, buffer),
	}
	n.nextID++
	n.subscribers = append(n.subscribers, sub)

	return sub.id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(id int) {
	n.l.Lock()
	defer n.l.Unlock()

	for i, sub := range n.subscribers {
		if sub.id == id {
			n.subscribers = append(n.subscribers[:i], n.subscribers[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Emit delivers an event to every subscriber. Subscribers whose buffer is
// full miss the event; the drop is counted and logged. Calling Emit on a nil
// Notifier is a no-op.
func (n *Notifier) Emit(e Event) {
	if n == nil {
		return
	}

	if e.At.IsZero() {
		e.At = time.Now()
	}

	n.l.Lock()
	defer n.l.Unlock()

	for _, sub := range n.subscribers {
		select {
		case sub.ch <- e:
		default:
			n.dropped++
			if n.logger != nil {
				n.logger.WithFields(logrus.Fields{
					"kind":       e.Kind,
					"subscriber": sub.id,
				}).Warn("Dropped notification")
			}
		}
	}
}

// Dropped returns the cumulative count of events dropped across all
// subscribers.
func (n *Notifier) Dropped() uint64 {
	if n == nil {
		return 0
	}

	n.l.Lock()
	defer n.l.Unlock()

	return n.dropped
}

// Close closes all subscriber channels.
func (n *Notifier) Close() {
	if n == nil {
		return
	}

	n.l.Lock()
	defer n.l.Unlock()

	for _, sub := range n.subscribers {
		close(sub.ch)
	}
	n.subscribers = nil
}
