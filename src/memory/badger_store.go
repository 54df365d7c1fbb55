package memory

import (
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/swarmworks/hivemind/src/agents"
	cm "github.com/swarmworks/hivemind/src/common"
)

const (
	entryPrefix = "entry"
	agentPrefix = "agent"
)

func entryKey(namespace, key string) []byte {
	return []byte(fmt.Sprintf("%s/%s/%s", entryPrefix, namespace, key))
}

func entryScanPrefix(namespace string) []byte {
	if namespace == "" {
		return []byte(entryPrefix + "/")
	}
	return []byte(fmt.Sprintf("%s/%s/", entryPrefix, namespace))
}

func agentKey(id string) []byte {
	return []byte(fmt.Sprintf("%s/%s", agentPrefix, id))
}

// conflictRetries bounds the attempts of a read-modify-write transaction
// racing concurrent writers on the same key.
const conflictRetries = 10

// withConflictRetry re-runs update while it fails with badger.ErrConflict,
// up to conflictRetries attempts. Any other outcome is returned immediately.
func withConflictRetry(update func() error) error {
	var err error
	for i := 0; i < conflictRetries; i++ {
		err = update()
		if err != badger.ErrConflict {
			return err
		}
	}
	return err
}

func mapError(err error, name, key string) error {
	switch err {
	case nil:
		return nil
	case badger.ErrKeyNotFound:
		return cm.NewStoreErr(name, cm.KeyNotFound, key)
	}
	return cm.NewStoreErrCause(name, cm.StorageUnavailable, key, err)
}

// BadgerStore implements the Store interface on top of a Badger database.
// Writes are synchronous, so a SetEntry that returned without error survives
// a crash.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens, or creates, a Badger database at the given path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithLoggingLevel(badger.ERROR).
		WithSyncWrites(true)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, cm.NewStoreErrCause("database", cm.StorageUnavailable, path, err)
	}

	return &BadgerStore{
		db:   db,
		path: path,
	}, nil
}

// GetEntry implements the Store interface. The access count is incremented
// in the same transaction that reads the row, retrying on conflict with a
// concurrent writer.
func (s *BadgerStore) GetEntry(namespace, key string) (*Entry, error) {
	entry := new(Entry)

	err := withConflictRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			*entry = Entry{}

			item, err := txn.Get(entryKey(namespace, key))
			if err != nil {
				return err
			}

			if err := item.Value(func(val []byte) error {
				return entry.Unmarshal(val)
			}); err != nil {
				return err
			}

			entry.AccessCount++

			data, err := entry.Marshal()
			if err != nil {
				return err
			}

			return txn.Set(entryKey(namespace, key), data)
		})
	})
	if err != nil {
		return nil, mapError(err, "entry", namespace+"/"+key)
	}

	return entry, nil
}

// PeekEntry implements the Store interface.
func (s *BadgerStore) PeekEntry(namespace, key string) (*Entry, error) {
	entry := new(Entry)

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(namespace, key))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return entry.Unmarshal(val)
		})
	})
	if err != nil {
		return nil, mapError(err, "entry", namespace+"/"+key)
	}

	return entry, nil
}

// SetEntry implements the Store interface.
func (s *BadgerStore) SetEntry(entry *Entry) error {
	data, err := entry.Marshal()
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(entryKey(entry.Namespace, entry.Key), data)
	})

	return mapError(err, "entry", entry.CompositeKey())
}

// DeleteEntry implements the Store interface.
func (s *BadgerStore) DeleteEntry(namespace, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(entryKey(namespace, key)); err != nil {
			return err
		}
		return txn.Delete(entryKey(namespace, key))
	})

	return mapError(err, "entry", namespace+"/"+key)
}

// BumpAccess implements the Store interface. Like GetEntry, the
// read-modify-write retries on conflict.
func (s *BadgerStore) BumpAccess(namespace, key string, n int) error {
	err := withConflictRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			item, err := txn.Get(entryKey(namespace, key))
			if err == badger.ErrKeyNotFound {
				return nil
			}
			if err != nil {
				return err
			}

			entry := new(Entry)
			if err := item.Value(func(val []byte) error {
				return entry.Unmarshal(val)
			}); err != nil {
				return err
			}

			entry.AccessCount += n

			data, err := entry.Marshal()
			if err != nil {
				return err
			}

			return txn.Set(entryKey(namespace, key), data)
		})
	})

	return mapError(err, "entry", namespace+"/"+key)
}

// ScanEntries implements the Store interface. Badger iterates keys in byte
// order, which is composite-key order here.
func (s *BadgerStore) ScanEntries(namespace string, fn func(*Entry) bool) error {
	prefix := entryScanPrefix(namespace)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			entry := new(Entry)
			err := it.Item().Value(func(val []byte) error {
				return entry.Unmarshal(val)
			})
			if err != nil {
				return err
			}

			if !fn(entry) {
				return nil
			}
		}

		return nil
	})

	return mapError(err, "entry", string(prefix))
}

// EntryCount implements the Store interface.
func (s *BadgerStore) EntryCount() (int, error) {
	count := 0

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = entryScanPrefix("")
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}

		return nil
	})
	if err != nil {
		return 0, mapError(err, "entry", entryPrefix)
	}

	return count, nil
}

// SetAgentRecord implements the Store interface.
func (s *BadgerStore) SetAgentRecord(agent *agents.Agent) error {
	data, err := agent.Marshal()
	if err != nil {
		return err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(agentKey(agent.ID), data)
	})

	return mapError(err, "agent", agent.ID)
}

// AgentRecords implements the Store interface.
func (s *BadgerStore) AgentRecords() ([]*agents.Agent, error) {
	res := []*agents.Agent{}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(agentPrefix + "/")

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			agent := new(agents.Agent)
			err := it.Item().Value(func(val []byte) error {
				return agent.Unmarshal(val)
			})
			if err != nil {
				return err
			}
			res = append(res, agent)
		}

		return nil
	})
	if err != nil {
		return nil, mapError(err, "agent", agentPrefix)
	}

	return res, nil
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}
