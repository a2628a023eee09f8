// Package lease implements the Lease Coordinator (component I): a
// cross-process single-worker lease so only one engine replica actively
// fires alerts while the others stay warm standbys.
package lease

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	// DefaultTTL is LEASE_TTL.
	DefaultTTL = 15 * time.Second
	// DefaultRetry is RETRY.
	DefaultRetry = 2 * time.Second
	// DefaultWaitMax is WAIT_MAX.
	DefaultWaitMax = 5 * time.Second
)

// Store is the persistent lease table access the coordinator needs.
// Every mutation is a conditional SQL update predicated on ownerId and
// expiresAt (§5: "the lease row is the sole cross-process critical
// section").
type Store interface {
	// EnsureTable creates the lease table if it doesn't already exist.
	EnsureTable(ctx context.Context) error

	// TryClaim attempts to take ownership of name: it succeeds only if
	// the existing row is absent, expired, or already owned by ownerID.
	TryClaim(ctx context.Context, name, ownerID string, now time.Time, ttl time.Duration) (bool, error)

	// TryRenew attempts to extend ownership of name: it succeeds only
	// if the row is still owned by ownerID and not yet expired.
	TryRenew(ctx context.Context, name, ownerID string, now time.Time, ttl time.Duration) (bool, error)

	// Release deletes the row if it is still owned by ownerID.
	Release(ctx context.Context, name, ownerID string) error
}

// Callbacks gates the worker loops this engine runs only while it holds
// the lease.
type Callbacks struct {
	OnAcquire func(ctx context.Context)
	OnLose    func()
}

// Coordinator is the Lease Coordinator.
type Coordinator struct {
	Store     Store
	Name      string
	OwnerID   string
	TTL       time.Duration
	Heartbeat time.Duration
	Retry     time.Duration
	WaitMax   time.Duration
	Logger    *slog.Logger

	owner atomic.Bool

	workerCtx    context.Context
	workerCancel context.CancelFunc
}

// New creates a coordinator with sane defaults applied where fields are
// zero.
func New(store Store, name, ownerID string, ttl time.Duration, logger *slog.Logger) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{
		Store:     store,
		Name:      name,
		OwnerID:   ownerID,
		TTL:       ttl,
		Heartbeat: ttl / 3,
		Retry:     DefaultRetry,
		WaitMax:   DefaultWaitMax,
		Logger:    logger,
	}
}

// IsOwner reports current ownership.
func (c *Coordinator) IsOwner() bool { return c.owner.Load() }

// Run drives claim/renew cycles until ctx is done, invoking cb.OnAcquire
// when ownership is gained and cb.OnLose when it is lost or on shutdown.
// If the lease table can't even be ensured, it falls back to
// owner=true, no lease, so single-instance deployments still fire
// alerts (§4.I).
func (c *Coordinator) Run(ctx context.Context, cb Callbacks) {
	if err := c.Store.EnsureTable(ctx); err != nil {
		if c.Logger != nil {
			c.Logger.Error("lease: bootstrap failed, falling back to single-instance ownership",
				slog.String("error", err.Error()))
		}
		c.acquire(ctx, cb)
		<-ctx.Done()
		c.release(context.Background(), cb)
		return
	}

	interval := c.Heartbeat
	if c.Retry < interval {
		interval = c.Retry
	}
	if interval <= 0 {
		interval = DefaultRetry
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.release(context.Background(), cb)
			return
		case <-ticker.C:
			c.cycle(ctx, cb)
		}
	}
}

func (c *Coordinator) cycle(ctx context.Context, cb Callbacks) {
	now := time.Now()

	if !c.owner.Load() {
		ok, err := c.Store.TryClaim(ctx, c.Name, c.OwnerID, now, c.TTL)
		if err != nil {
			if c.Logger != nil {
				c.Logger.Error("lease: claim attempt error", slog.String("error", err.Error()))
			}
			return
		}
		if ok {
			if c.Logger != nil {
				c.Logger.Info("lease: claimed", slog.String("name", c.Name), slog.String("ownerId", c.OwnerID))
			}
			c.acquire(ctx, cb)
		}
		return
	}

	ok, err := c.Store.TryRenew(ctx, c.Name, c.OwnerID, now, c.TTL)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Error("lease: renew attempt error", slog.String("error", err.Error()))
		}
		return
	}
	if !ok {
		if c.Logger != nil {
			c.Logger.Warn("lease: lost", slog.String("name", c.Name), slog.String("ownerId", c.OwnerID))
		}
		c.owner.Store(false)
		c.stopWorkers(cb)
	}
}

func (c *Coordinator) acquire(ctx context.Context, cb Callbacks) {
	if c.owner.Swap(true) {
		return
	}
	c.workerCtx, c.workerCancel = context.WithCancel(ctx)
	if cb.OnAcquire != nil {
		go cb.OnAcquire(c.workerCtx)
	}
}

func (c *Coordinator) stopWorkers(cb Callbacks) {
	if c.workerCancel != nil {
		c.workerCancel()
		c.workerCancel = nil
	}
	if cb.OnLose != nil {
		cb.OnLose()
	}
}

func (c *Coordinator) release(ctx context.Context, cb Callbacks) {
	if !c.owner.Load() {
		return
	}
	c.stopWorkers(cb)
	c.owner.Store(false)

	releaseCtx, cancel := context.WithTimeout(ctx, c.WaitMax)
	defer cancel()
	if err := c.Store.Release(releaseCtx, c.Name, c.OwnerID); err != nil && c.Logger != nil {
		c.Logger.Error("lease: release error", slog.String("error", err.Error()))
	}
}
