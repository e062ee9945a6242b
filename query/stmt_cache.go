package query

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Preparer is the part of DB the statement cache needs.
type Preparer interface {
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// StatementCache keeps prepared statements keyed by a hash of their SQL text.
// An evicted statement is closed once every caller holding it has released it.
type StatementCache struct {
	cache *lru.Cache[uint64, *cachedStmt]
	mu    sync.RWMutex
}

type cachedStmt struct {
	sql  string
	stmt *sql.Stmt
	refs atomic.Int32
	// evicted is guarded by StatementCache.mu held for writing
	evicted bool
}

func NewStatementCache(size int) (*StatementCache, error) {
	cache, err := lru.NewWithEvict(size, func(_ uint64, entry *cachedStmt) {
		// runs from Add and Purge, both under mu
		entry.evicted = true
		if entry.refs.Load() == 0 {
			entry.stmt.Close()
		}
	})
	if err != nil {
		return nil, err
	}

	return &StatementCache{cache: cache}, nil
}

func statementKey(query string) uint64 {
	return xxhash.Sum64String(query)
}

// GetOrPrepare returns the cached statement for query or prepares it on db.
// The statement stays open until release is called, even when it is evicted
// in the meantime.
func (s *StatementCache) GetOrPrepare(ctx context.Context, db Preparer, query string) (stmt *sql.Stmt, release func(), err error) {
	key := statementKey(query)

	s.mu.RLock()
	if entry, ok := s.cache.Get(key); ok && entry.sql == query {
		entry.refs.Add(1)
		s.mu.RUnlock()

		return entry.stmt, s.releaser(entry), nil
	}
	s.mu.RUnlock()

	// Preparing may wait for a connection held by a caller that still has to
	// release its statement, so it happens outside the lock.
	prepared, err := db.PrepareContext(ctx, query)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// someone else may have prepared it while we were preparing
	if entry, ok := s.cache.Get(key); ok && entry.sql == query {
		prepared.Close()
		entry.refs.Add(1)

		return entry.stmt, s.releaser(entry), nil
	}

	entry := &cachedStmt{sql: query, stmt: prepared}
	entry.refs.Add(1)
	s.cache.Add(key, entry)

	return prepared, s.releaser(entry), nil
}

func (s *StatementCache) releaser(entry *cachedStmt) func() {
	var once sync.Once

	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()

			if entry.refs.Add(-1) == 0 && entry.evicted {
				entry.stmt.Close()
			}
		})
	}
}

func (s *StatementCache) Len() int {
	return s.cache.Len()
}

// Close evicts every cached statement. Statements still held are closed on
// release.
func (s *StatementCache) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Purge()

	return nil
}
