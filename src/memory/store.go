package memory

import "github.com/swarmworks/hivemind/src/agents"

// Store is an interface for backend stores. Entries are held in their stored
// form; compression happens above this layer. Backends must be safe for
// concurrent use.
type Store interface {
	// GetEntry returns the entry under (namespace, key) and increments its
	// access count in the same operation. A missing key yields a KeyNotFound
	// StoreErr.
	GetEntry(namespace, key string) (*Entry, error)
	// PeekEntry returns the entry without touching the access count.
	PeekEntry(namespace, key string) (*Entry, error)
	// SetEntry writes an entry under its composite key, replacing any
	// previous row.
	SetEntry(entry *Entry) error
	// DeleteEntry removes an entry. Deleting an absent key yields a
	// KeyNotFound StoreErr.
	DeleteEntry(namespace, key string) error
	// BumpAccess adds n to an entry's access count. Bumping an absent key is
	// a no-op.
	BumpAccess(namespace, key string, n int) error
	// ScanEntries streams entries in composite-key order. An empty namespace
	// scans all namespaces. The callback returns false to stop early.
	ScanEntries(namespace string, fn func(*Entry) bool) error
	// EntryCount returns the number of stored entries.
	EntryCount() (int, error)
	// SetAgentRecord persists an agent snapshot.
	SetAgentRecord(agent *agents.Agent) error
	// AgentRecords returns all persisted agent snapshots.
	AgentRecords() ([]*agents.Agent, error)
	// Close closes the underlying database.
	Close() error
	// StorePath returns the filepath of the underlying database, when there
	// is one.
	StorePath() string
}
