package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Badger-backed store
// Task records and component snapshots in one embedded KV database.
// Keys are namespaced: "task:<id>" and "snap:<key>".
// ---------------------------------------------------------------------------

const (
	taskKeyPrefix = "task:"
	snapKeyPrefix = "snap:"
)

// BadgerStore is the durable Store used in production.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadgerStore opens (or creates) the database at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("badger store: path is required")
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	log.Info().Str("path", path).Msg("queue: badger store opened")
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) SaveTask(t *Task) error {
	raw, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(taskKeyPrefix+t.ID), raw)
	})
}

func (s *BadgerStore) DeleteTask(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(taskKeyPrefix + id))
	})
}

func (s *BadgerStore) LoadTasks() ([]*Task, error) {
	var out []*Task
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(taskKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				t := &Task{}
				if err := json.Unmarshal(val, t); err != nil {
					return fmt.Errorf("unmarshal task record: %w", err)
				}
				out = append(out, t)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) SaveSnapshot(key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(snapKeyPrefix+key), value)
	})
}

func (s *BadgerStore) LoadSnapshot(key string) ([]byte, bool, error) {
	var out []byte
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(snapKeyPrefix + key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	return out, found, err
}

func (s *BadgerStore) Snapshots(prefix string) (map[string][]byte, error) {
	out := make(map[string][]byte)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(snapKeyPrefix + prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := strings.TrimPrefix(string(item.Key()), snapKeyPrefix)
			err := item.Value(func(val []byte) error {
				out[key] = append([]byte(nil), val...)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) DeleteSnapshot(key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(snapKeyPrefix + key))
	})
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
