package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// SQLite is a Store backed by a SQLite database. Each table is a WITHOUT ROWID table with a BLOB
// primary key, so range scans walk the primary key b-tree in memcmp order.
type SQLite struct {
	db      *sql.DB
	mu      sync.RWMutex
	writeMu sync.Mutex
	closed  bool
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	// busy_timeout: wait up to 5s for another process' lock instead of failing immediately
	// journal_mode=WAL: readers keep their snapshot while a writer commits
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(2 * time.Hour)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewSQLite(db), nil
}

// NewSQLite wraps an already opened database handle.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// DB returns the underlying database handle.
func (s *SQLite) DB() *sql.DB { return s.db }

// CreateTable creates the backing SQL table for name.
func (s *SQLite) CreateTable(ctx context.Context, name string) error {
	if !validTableName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (k BLOB PRIMARY KEY, v BLOB NOT NULL) WITHOUT ROWID`, sqlTable(name))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table %s: %w", name, err)
	}
	return nil
}

// BeginWrite starts a write transaction. Writers are serialized in process; other processes are
// held off by SQLite's own locking and the busy timeout.
func (s *SQLite) BeginWrite(ctx context.Context) (Txn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	s.writeMu.Lock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		s.writeMu.Unlock()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTxn{store: s, tx: tx, ctx: ctx, write: true}, nil
}

// BeginRead starts a read transaction.
func (s *SQLite) BeginRead(ctx context.Context) (Txn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTxn{store: s, tx: tx, ctx: ctx}, nil
}

// Close closes the database. Closing twice is a no-op.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type sqliteTxn struct {
	store *SQLite
	tx    *sql.Tx
	ctx   context.Context
	write bool
	done  bool
}

func (t *sqliteTxn) Table(name string) (Table, error) {
	if t.done {
		return nil, ErrTxDone
	}
	if !validTableName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
	return &sqliteTable{txn: t, name: sqlTable(name)}, nil
}

func (t *sqliteTxn) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.finish()
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *sqliteTxn) Rollback() error {
	if t.done {
		return nil
	}
	t.finish()
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

func (t *sqliteTxn) finish() {
	t.done = true
	if t.write {
		t.store.writeMu.Unlock()
	}
}

type sqliteTable struct {
	txn  *sqliteTxn
	name string
}

func (t *sqliteTable) usable(mutation bool) error {
	if t.txn.done {
		return ErrTxDone
	}
	if mutation && !t.txn.write {
		return ErrReadOnly
	}
	return nil
}

func (t *sqliteTable) Insert(key, value []byte) error {
	if err := t.usable(true); err != nil {
		return err
	}
	q := fmt.Sprintf(`INSERT OR REPLACE INTO %s (k, v) VALUES (?, ?)`, t.name)
	if _, err := t.txn.tx.ExecContext(t.txn.ctx, q, key, value); err != nil {
		return fmt.Errorf("failed to insert key: %w", err)
	}
	return nil
}

func (t *sqliteTable) Remove(key []byte) error {
	if err := t.usable(true); err != nil {
		return err
	}
	q := fmt.Sprintf(`DELETE FROM %s WHERE k = ?`, t.name)
	if _, err := t.txn.tx.ExecContext(t.txn.ctx, q, key); err != nil {
		return fmt.Errorf("failed to remove key: %w", err)
	}
	return nil
}

func (t *sqliteTable) Get(key []byte) ([]byte, bool, error) {
	if err := t.usable(false); err != nil {
		return nil, false, err
	}
	q := fmt.Sprintf(`SELECT v FROM %s WHERE k = ?`, t.name)
	var v []byte
	err := t.txn.tx.QueryRowContext(t.txn.ctx, q, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get key: %w", err)
	}
	return v, true, nil
}

func (t *sqliteTable) Range(low, high []byte, fn func(key, value []byte) error) error {
	if err := t.usable(false); err != nil {
		return err
	}
	q := fmt.Sprintf(`SELECT k, v FROM %s WHERE k >= ? AND k <= ? ORDER BY k`, t.name)
	rows, err := t.txn.tx.QueryContext(t.txn.ctx, q, low, high)
	if err != nil {
		return fmt.Errorf("failed to scan range: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var k, v []byte
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("failed to read row: %w", err)
		}
		if err := fn(k, v); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to scan range: %w", err)
	}
	return nil
}

func (t *sqliteTable) Len() (int64, error) {
	if err := t.usable(false); err != nil {
		return 0, err
	}
	var n int64
	q := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t.name)
	if err := t.txn.tx.QueryRowContext(t.txn.ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count keys: %w", err)
	}
	return n, nil
}

func sqlTable(name string) string {
	return `"kv_` + name + `"`
}
