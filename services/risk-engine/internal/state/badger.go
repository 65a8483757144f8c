package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const badgerGCInterval = 5 * time.Minute

// BadgerStore keeps state in an embedded Badger database. Badger expires keys at whole-second
// granularity.
type BadgerStore struct {
	db *badger.DB

	mu     sync.RWMutex
	closed bool
	stopGC chan struct{}
	gcDone chan struct{}
}

var _ Store = (*BadgerStore)(nil)

// OpenBadgerStore opens (or creates) a database in dir.
func OpenBadgerStore(dir string) (*BadgerStore, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("failed to open badger at %s: %w", dir, err)
	}
	return NewBadgerStore(db), nil
}

// NewBadgerStore takes ownership of db and starts value log garbage collection.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	s := &BadgerStore{
		db:     db,
		stopGC: make(chan struct{}),
		gcDone: make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

func (s *BadgerStore) gcLoop() {
	defer close(s.gcDone)
	ticker := time.NewTicker(badgerGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// Rewrite until there is nothing left worth collecting.
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

func (s *BadgerStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get %s: %w", key, err)
	}
	return val, nil
}

func newEntry(key string, value []byte, ttl time.Duration) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return e
}

func (s *BadgerStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	if err != nil {
		return fmt.Errorf("badger put %s: %w", key, err)
	}
	return nil
}

func (s *BadgerStore) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := s.checkOpen(); err != nil {
		return false, err
	}
	stored := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		stored = true
		return txn.SetEntry(newEntry(key, value, ttl))
	})
	if err != nil {
		return false, fmt.Errorf("badger put-if-absent %s: %w", key, err)
	}
	return stored, nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopGC)
	<-s.gcDone
	if err := s.db.Close(); err != nil {
		slog.Error("Error closing badger state store", "error", err)
		return err
	}
	return nil
}
