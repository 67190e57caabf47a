package lease

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/pi314/dpush/pkg/logger"
)

// ErrHeld is returned when another live holder owns the lease.
var ErrHeld = errors.New("lease held by another process")

// Lease is a named, time-limited ownership row in sqlite. Two services
// pointed at the same journal cannot both hold it.
type Lease struct {
	db       *sql.DB
	name     string
	holderID string
	ttl      time.Duration
	now      func() time.Time
	logger   logger.Logger
}

func New(db *sql.DB, name string, ttl time.Duration, log logger.Logger) *Lease {
	return &Lease{
		db:       db,
		name:     name,
		holderID: uuid.New().String(),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.OrNop(log),
	}
}

func (l *Lease) HolderID() string {
	return l.holderID
}

// TryAcquire takes the lease when it is free or expired, or renews it when
// we already hold it. The epoch counts changes of holder.
func (l *Lease) TryAcquire(ctx context.Context) (bool, int64, error) {
	now := l.now()

	var epoch int64
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO leases(name, holder_id, lease_until, epoch)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET
			epoch = epoch + (holder_id <> excluded.holder_id),
			holder_id = excluded.holder_id,
			lease_until = excluded.lease_until
		WHERE lease_until < ? OR holder_id = excluded.holder_id
		RETURNING epoch
	`, l.name, l.holderID, now.Add(l.ttl).Unix(), now.Unix()).Scan(&epoch)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	return true, epoch, nil
}

// Acquire is TryAcquire that reports a live foreign holder as ErrHeld.
func (l *Lease) Acquire(ctx context.Context) (int64, error) {
	ok, epoch, err := l.TryAcquire(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrHeld
	}
	return epoch, nil
}

// KeepAlive renews the lease every ttl/3 until ctx is done.
func (l *Lease) KeepAlive(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, _, err := l.TryAcquire(ctx)
			if err != nil {
				if ctx.Err() == nil {
					l.logger.Warn("lease %s renew: %v", l.name, err)
				}
				continue
			}
			if !ok {
				l.logger.Error("lease %s lost to another holder", l.name)
			}
		}
	}
}

// Release expires the lease if we still hold it.
func (l *Lease) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `
		UPDATE leases SET lease_until = 0
		WHERE name = ? AND holder_id = ?
	`, l.name, l.holderID)
	return err
}

// IsHolder reports whether we hold an unexpired lease.
func (l *Lease) IsHolder(ctx context.Context) (bool, error) {
	var holder string
	var until int64

	err := l.db.QueryRowContext(ctx, `
		SELECT holder_id, lease_until
		FROM leases
		WHERE name = ?
	`, l.name).Scan(&holder, &until)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return holder == l.holderID && l.now().Unix() < until, nil
}
