package migration

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
)

// DefaultLockKey is hashed into the advisory lock ID when no key is given.
const DefaultLockKey = "strata_migrations"

// SessionConn is a connection that keeps one database session across calls.
// *sql.Conn satisfies it; *sql.DB does not guarantee a single session and
// must not be used for session-scoped locks.
type SessionConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Locker serialises batches across processes.
type Locker interface {
	// Acquire takes the lock on conn. The returned release function must be
	// called before conn goes back to the pool.
	Acquire(ctx context.Context, conn SessionConn) (release func(), err error)
}

// AdvisoryLocker implements Locker with PostgreSQL session-level advisory
// locks (pg_advisory_lock / pg_advisory_unlock).
type AdvisoryLocker struct {
	key    string
	id     int64
	noWait bool
}

// NewAdvisoryLocker returns a locker whose lock ID is derived from key.
// An empty key uses DefaultLockKey.
func NewAdvisoryLocker(key string) *AdvisoryLocker {
	if key == "" {
		key = DefaultLockKey
	}
	return &AdvisoryLocker{key: key, id: hashLockKey(key)}
}

// NoWait makes Acquire fail with ErrLockUnavailable instead of blocking when
// another session holds the lock.
func (l *AdvisoryLocker) NoWait() *AdvisoryLocker {
	l.noWait = true
	return l
}

// ID returns the int64 advisory lock ID.
func (l *AdvisoryLocker) ID() int64 {
	return l.id
}

// Acquire implements Locker. Without NoWait it blocks until the lock is
// granted or ctx is done.
func (l *AdvisoryLocker) Acquire(ctx context.Context, conn SessionConn) (func(), error) {
	if l.noWait {
		var ok bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, l.id).Scan(&ok); err != nil {
			return nil, fmt.Errorf("%w: pg_try_advisory_lock(%d): %v", ErrLockUnavailable, l.id, err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: lock %q (%d) is held by another session", ErrLockUnavailable, l.key, l.id)
		}
	} else if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, l.id); err != nil {
		return nil, fmt.Errorf("%w: pg_advisory_lock(%d): %v", ErrLockUnavailable, l.id, err)
	}

	release := func() {
		// The caller's ctx may already be cancelled.
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, l.id)
	}
	return release, nil
}

// hashLockKey produces a stable non-negative int64 from key using FNV-1a.
func hashLockKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF) //nolint:gosec // intentional truncation for advisory lock key
}
