package store

import (
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"beacon/internal/domain"
)

// namespaceSep never appears in a namespace or key we generate.
const namespaceSep = "\x00"

// BadgerStore keeps blobs in an embedded badger database.
type BadgerStore struct {
	db  *badger.DB
	log logrus.FieldLogger
}

var _ domain.BlobStore = (*BadgerStore)(nil)

// BadgerConfig selects where the database lives. An empty Dir or InMemory
// opens an in-memory database.
type BadgerConfig struct {
	Dir      string
	InMemory bool
	Logger   logrus.FieldLogger
}

// OpenBadger opens (or creates) the database.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory || cfg.Dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	log.WithFields(logrus.Fields{"dir": cfg.Dir, "in_memory": opts.InMemory}).Debug("opened badger store")
	return &BadgerStore{db: db, log: log}, nil
}

func (s *BadgerStore) Get(namespace, key string) ([]byte, bool, error) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(namespace, key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

func (s *BadgerStore) Put(namespace, key string, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(namespace, key), value)
	})
}

// PutAll writes every value in one transaction.
func (s *BadgerStore) PutAll(namespace string, values map[string][]byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		for key, value := range values {
			if err := txn.Set(badgerKey(namespace, key), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteNamespace drops every key under the namespace prefix.
func (s *BadgerStore) DeleteNamespace(namespace string) error {
	if err := s.db.DropPrefix([]byte(namespace + namespaceSep)); err != nil {
		return fmt.Errorf("drop namespace %q: %w", namespace, err)
	}
	s.log.WithField("namespace", namespace).Debug("dropped namespace")
	return nil
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func badgerKey(namespace, key string) []byte {
	return []byte(namespace + namespaceSep + key)
}
