package lease

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeStore struct {
	mu          sync.Mutex
	ownedBy     string
	expiresAt   time.Time
	ensureErr   error
	claimResult bool
	claimErr    error
	renewResult bool
	renewErr    error
	released    bool
}

func (f *fakeStore) EnsureTable(ctx context.Context) error { return f.ensureErr }

func (f *fakeStore) TryClaim(ctx context.Context, name, ownerID string, now time.Time, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return false, f.claimErr
	}
	if f.ownedBy == "" || f.expiresAt.Before(now) || f.ownedBy == ownerID {
		f.ownedBy = ownerID
		f.expiresAt = now.Add(ttl)
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) TryRenew(ctx context.Context, name, ownerID string, now time.Time, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.renewErr != nil {
		return false, f.renewErr
	}
	if f.ownedBy == ownerID && f.expiresAt.After(now) {
		f.expiresAt = now.Add(ttl)
		return true, nil
	}
	return false, nil
}

func (f *fakeStore) Release(ctx context.Context, name, ownerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ownedBy == ownerID {
		f.ownedBy = ""
		f.released = true
	}
	return nil
}

func TestCoordinator_ClaimsAndRenews(t *testing.T) {
	store := &fakeStore{}
	c := New(store, "engine", "instance-a", 50*time.Millisecond, nil)
	c.Retry = 5 * time.Millisecond

	var acquired atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx, Callbacks{
		OnAcquire: func(ctx context.Context) { acquired.Store(true) },
	})

	assert.Eventually(t, func() bool { return acquired.Load() }, time.Second, 5*time.Millisecond)
	assert.True(t, c.IsOwner())

	store.mu.Lock()
	claimedUntil := store.expiresAt
	store.mu.Unlock()
	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.expiresAt.After(claimedUntil)
	}, time.Second, 5*time.Millisecond)

	cancel()
	time.Sleep(20 * time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.True(t, store.released)
}

func TestCoordinator_FallsBackWhenBootstrapFails(t *testing.T) {
	store := &fakeStore{ensureErr: assertErr{}}
	c := New(store, "engine", "instance-a", 50*time.Millisecond, nil)

	var acquired atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx, Callbacks{
		OnAcquire: func(ctx context.Context) { acquired.Store(true) },
	})

	assert.Eventually(t, func() bool { return acquired.Load() }, time.Second, 5*time.Millisecond)
	assert.True(t, c.IsOwner())
	cancel()
}

func TestCoordinator_LosesLeaseOnFailedRenew(t *testing.T) {
	store := &fakeStore{}
	c := New(store, "engine", "instance-a", 30*time.Millisecond, nil)
	c.Retry = 5 * time.Millisecond

	var lost atomic.Bool
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, Callbacks{
		OnLose: func() { lost.Store(true) },
	})

	assert.Eventually(t, func() bool { return c.IsOwner() }, time.Second, 5*time.Millisecond)

	store.mu.Lock()
	store.renewErr = nil
	store.ownedBy = "other-instance"
	store.expiresAt = time.Now().Add(time.Minute)
	store.mu.Unlock()

	assert.Eventually(t, func() bool { return lost.Load() }, time.Second, 5*time.Millisecond)
}

type assertErr struct{}

func (assertErr) Error() string { return "bootstrap failed" }
