package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
)

// PostgresLocker uses session-level advisory locks. The lock lives on a
// dedicated connection, so it is released when that connection closes even
// if the process dies without calling release.
type PostgresLocker struct {
	db *gorm.DB
}

func NewPostgresLocker(db *gorm.DB) *PostgresLocker {
	return &PostgresLocker{db: db}
}

// TryAcquire ignores ttl: advisory locks are held until unlock or disconnect.
func (l *PostgresLocker) TryAcquire(ctx context.Context, key string, _ time.Duration) (func(), bool, error) {
	sqlDB, err := l.db.DB()
	if err != nil {
		return nil, false, fmt.Errorf("advisory lock %s: %w", key, err)
	}
	lockID := KeyID(key)

	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("advisory lock connection for %s: %w", key, err)
	}

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, false, fmt.Errorf("pg_try_advisory_lock(%d): %w", lockID, err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, false, nil
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			// The caller's context may already be cancelled by a run timeout.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_, _ = conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", lockID)
			_ = conn.Close()
		})
	}
	return release, true, nil
}
