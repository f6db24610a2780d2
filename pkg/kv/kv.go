// Package kv defines the ordered, transactional, byte-keyed store the spatial index is layered
// on, and provides a SQLite implementation.
//
// Keys are compared as unsigned bytes. A store runs at most one write transaction at a time;
// read transactions see a consistent snapshot and may run concurrently with each other and with
// the writer.
package kv

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store is closed")
	// ErrTxDone is returned when a committed or rolled back transaction is used.
	ErrTxDone = errors.New("transaction already finished")
	// ErrReadOnly is returned for mutations inside a read transaction.
	ErrReadOnly = errors.New("read-only transaction")
	// ErrInvalidTable is returned for table names that are not plain identifiers.
	ErrInvalidTable = errors.New("invalid table name")
	// ErrStop can be returned from a Range callback to end the scan early without error.
	ErrStop = errors.New("stop range")
)

// Store is an ordered transactional key-value store.
type Store interface {
	// CreateTable makes sure the named table exists.
	CreateTable(ctx context.Context, name string) error
	// BeginWrite starts the single write transaction, blocking while another one is active.
	BeginWrite(ctx context.Context) (Txn, error)
	// BeginRead starts a snapshot read transaction.
	BeginRead(ctx context.Context) (Txn, error)
	// Close releases the store.
	Close() error
}

// Txn is a store transaction. Rollback after Commit is a no-op, so callers can always
// defer Rollback.
type Txn interface {
	Table(name string) (Table, error)
	Commit() error
	Rollback() error
}

// Table is a keyed table inside a transaction.
type Table interface {
	// Insert stores value under key, replacing any previous value.
	Insert(key, value []byte) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(key []byte) error
	// Get returns the value stored under key.
	Get(key []byte) ([]byte, bool, error)
	// Range calls fn for every key in [low, high] in ascending byte order.
	Range(low, high []byte, fn func(key, value []byte) error) error
	// Len returns the number of keys in the table.
	Len() (int64, error)
}

func validTableName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		if !(r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
