// Package cache is the worker-local memoize cache (§3, §9): a mapping from
// ChainHash to ChainBlock used by the reorg formulator's backward walk.
// It grows unboundedly by design; pruning is a separate, unimplemented
// concern per the spec's own design notes.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/gateway-validator/ingestion-core/pkg/chain"
)

// ErrNotFound is returned by Get when the hash is absent from the cache.
var ErrNotFound = errors.New("block not memoized")

// Memoize is a badger-backed, append-mostly, key-partitioned-by-hash cache.
// Concurrent workers across chains never contend on the same keys, so no
// additional locking is needed beyond what badger provides internally.
type Memoize struct {
	db *badger.DB
}

// Open opens (creating if absent) the badger store at path.
func Open(path string) (*Memoize, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open memoize cache at %s: %w", path, err)
	}
	return &Memoize{db: db}, nil
}

// Close releases the underlying badger handle.
func (m *Memoize) Close() error {
	return m.db.Close()
}

func key(id chain.ID, hash chain.Hash) []byte {
	k := make([]byte, 0, 1+len(hash))
	k = append(k, byte(id))
	k = append(k, hash[:]...)
	return k
}

// Put memoizes block under its own hash. Idempotent: re-memoizing the same
// hash with the same contents is a no-op in effect.
func (m *Memoize) Put(block chain.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("encode memoized block: %w", err)
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(block.ChainID, block.BlockHash), data)
	})
	if err != nil {
		return fmt.Errorf("memoize put: %w", err)
	}
	return nil
}

// Get returns the memoized block for (id, hash), or ErrNotFound.
func (m *Memoize) Get(id chain.ID, hash chain.Hash) (chain.Block, error) {
	var block chain.Block
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id, hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &block)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chain.Block{}, ErrNotFound
	}
	if err != nil {
		return chain.Block{}, fmt.Errorf("memoize get: %w", err)
	}
	return block, nil
}
