package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lockarb/lockd/pkg/lock"
)

func newTestEngine(t *testing.T) (*lock.Engine, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return lock.NewEngine(client, lock.WithDefaultTTL(300*time.Second)), mr
}

// Scenario 1 of spec §8: acquire, check, release, check.
func TestAcquireReleaseLifecycle(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	res, err := e.Acquire(ctx, "customer", "123", "A", 5, 0, false)
	require.NoError(t, err)
	require.Equal(t, lock.StatusAcquired, res.Status)
	require.NotEmpty(t, res.LockID)
	require.Equal(t, 300*time.Second, res.TTL)

	st, err := e.Status(ctx, res.LockID)
	require.NoError(t, err)
	require.Equal(t, lock.StatusActive, st.Status)
	require.Equal(t, "A", st.AgentID)

	rel, err := e.Release(ctx, res.LockID, "", true)
	require.NoError(t, err)
	require.Equal(t, lock.StatusReleased, rel.Status)
	require.Empty(t, rel.NextAgent)

	st, err = e.Status(ctx, res.LockID)
	require.NoError(t, err)
	require.Equal(t, lock.StatusExpired, st.Status)
}

// Scenario 2 of spec §8: priority queue ordering + position recompute.
func TestPriorityQueueOrdering(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	a, err := e.Acquire(ctx, "customer", "123", "A", 5, 0, false)
	require.NoError(t, err)
	require.Equal(t, lock.StatusAcquired, a.Status)

	b, err := e.Acquire(ctx, "customer", "123", "B", 3, 0, false)
	require.NoError(t, err)
	require.Equal(t, lock.StatusQueued, b.Status)
	require.Equal(t, 1, b.Position)

	c, err := e.Acquire(ctx, "customer", "123", "C", 10, 0, false)
	require.NoError(t, err)
	require.Equal(t, lock.StatusQueued, c.Status)
	require.Equal(t, 1, c.Position) // C outranks B

	rel, err := e.Release(ctx, a.LockID, "", true)
	require.NoError(t, err)
	require.Equal(t, "C", rel.NextAgent)

	// B's acquire now reports position 1 (it's the only one left).
	bRetry, err := e.Acquire(ctx, "customer", "123", "B", 3, 0, false)
	require.NoError(t, err)
	require.Equal(t, lock.StatusQueued, bRetry.Status)
	require.Equal(t, 1, bRetry.Position)
}

// Scenario 3 of spec §8: TTL expiry liveness.
func TestExpiryLiveness(t *testing.T) {
	e, mr := newTestEngine(t)
	ctx := context.Background()

	a, err := e.Acquire(ctx, "customer", "123", "A", 5, 1*time.Second, false)
	require.NoError(t, err)
	require.Equal(t, lock.StatusAcquired, a.Status)

	mr.FastForward(1100 * time.Millisecond)

	st, err := e.Status(ctx, a.LockID)
	require.NoError(t, err)
	require.Equal(t, lock.StatusExpired, st.Status)

	b, err := e.Acquire(ctx, "customer", "123", "B", 5, 0, false)
	require.NoError(t, err)
	require.Equal(t, lock.StatusAcquired, b.Status)
}

// Scenario 4 of spec §8: cancel correctness.
func TestCancelBeforeGrant(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	a, err := e.Acquire(ctx, "customer", "123", "A", 5, 0, false)
	require.NoError(t, err)

	b, err := e.Acquire(ctx, "customer", "123", "B", 5, 0, false)
	require.NoError(t, err)
	require.Equal(t, lock.StatusQueued, b.Status)

	_, err = e.Cancel(ctx, "customer", "123", "B")
	require.NoError(t, err)

	rel, err := e.Release(ctx, a.LockID, "", true)
	require.NoError(t, err)
	require.Empty(t, rel.NextAgent)
}

// Scenario 6 of spec §8: reentrancy.
func TestReentrantAcquireExtendsAndPreservesLockID(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	a, err := e.Acquire(ctx, "customer", "123", "A", 5, 0, false)
	require.NoError(t, err)

	again, err := e.Acquire(ctx, "customer", "123", "A", 5, 0, true)
	require.NoError(t, err)
	require.Equal(t, lock.StatusAlreadyOwned, again.Status)
	require.Equal(t, a.LockID, again.LockID)
}

func TestAcquireNonReentrantSameAgentErrors(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Acquire(ctx, "customer", "123", "A", 5, 0, false)
	require.NoError(t, err)

	_, err = e.Acquire(ctx, "customer", "123", "A", 5, 0, false)
	require.Error(t, err)
	var lockErr *lock.Error
	require.ErrorAs(t, err, &lockErr)
	require.Equal(t, lock.KindAlreadyOwnedNotReentrant, lockErr.Kind)
}

// Independence: locks on different resources never block each other.
func TestResourceIndependence(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	a, err := e.Acquire(ctx, "customer", "123", "A", 5, 0, false)
	require.NoError(t, err)
	require.Equal(t, lock.StatusAcquired, a.Status)

	b, err := e.Acquire(ctx, "customer", "456", "B", 5, 0, false)
	require.NoError(t, err)
	require.Equal(t, lock.StatusAcquired, b.Status)
}

// Idempotent release: releasing twice returns released both times.
func TestIdempotentRelease(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	a, err := e.Acquire(ctx, "customer", "123", "A", 5, 0, false)
	require.NoError(t, err)

	rel1, err := e.Release(ctx, a.LockID, "", true)
	require.NoError(t, err)
	require.Equal(t, lock.StatusReleased, rel1.Status)

	rel2, err := e.Release(ctx, a.LockID, "", true)
	require.NoError(t, err)
	require.Equal(t, lock.StatusReleased, rel2.Status)
}

func TestReleaseNonIdempotentNotFound(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Release(ctx, "does-not-exist", "", false)
	require.Error(t, err)
	var lockErr *lock.Error
	require.ErrorAs(t, err, &lockErr)
	require.Equal(t, lock.KindNotFound, lockErr.Kind)
}

func TestReleaseWrongAgentRejected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	a, err := e.Acquire(ctx, "customer", "123", "A", 5, 0, false)
	require.NoError(t, err)

	_, err = e.Release(ctx, a.LockID, "someone-else", false)
	require.Error(t, err)
	var lockErr *lock.Error
	require.ErrorAs(t, err, &lockErr)
	require.Equal(t, lock.KindNotOwner, lockErr.Kind)
}

func TestExtendRefreshesTTL(t *testing.T) {
	e, mr := newTestEngine(t)
	ctx := context.Background()

	a, err := e.Acquire(ctx, "customer", "123", "A", 5, 2*time.Second, false)
	require.NoError(t, err)

	ext, err := e.Extend(ctx, a.LockID, 10*time.Second, "A")
	require.NoError(t, err)
	require.Equal(t, lock.StatusExtended, ext.Status)
	require.Equal(t, 10*time.Second, ext.NewTTL)

	mr.FastForward(2100 * time.Millisecond)

	st, err := e.Status(ctx, a.LockID)
	require.NoError(t, err)
	require.Equal(t, lock.StatusActive, st.Status)
}

func TestCleanupClearsEverything(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := e.Acquire(ctx, "customer", "123", "A", 5, 0, false)
	require.NoError(t, err)
	_, err = e.Acquire(ctx, "customer", "123", "B", 5, 0, false)
	require.NoError(t, err)

	res, err := e.Cleanup(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.LocksCleared)

	st, err := e.Acquire(ctx, "customer", "123", "C", 5, 0, false)
	require.NoError(t, err)
	require.Equal(t, lock.StatusAcquired, st.Status)
}

func TestSubscribeReceivesGrantOnRelease(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancelCtx := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelCtx()

	a, err := e.Acquire(ctx, "customer", "123", "A", 5, 0, false)
	require.NoError(t, err)
	b, err := e.Acquire(ctx, "customer", "123", "B", 5, 0, false)
	require.NoError(t, err)
	require.Equal(t, lock.StatusQueued, b.Status)

	events, stop, err := e.Subscribe(ctx, "customer", "123")
	require.NoError(t, err)
	defer stop()

	_, err = e.Release(ctx, a.LockID, "", true)
	require.NoError(t, err)

	select {
	case evt := <-events:
		require.Equal(t, "B", evt.AgentID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for grant event")
	}
}

func TestScavengePromotesAfterExpiry(t *testing.T) {
	e, mr := newTestEngine(t)
	ctx := context.Background()

	a, err := e.Acquire(ctx, "customer", "123", "A", 5, 1*time.Second, false)
	require.NoError(t, err)
	require.Equal(t, lock.StatusAcquired, a.Status)

	b, err := e.Acquire(ctx, "customer", "123", "B", 5, 0, false)
	require.NoError(t, err)
	require.Equal(t, lock.StatusQueued, b.Status)

	mr.FastForward(1100 * time.Millisecond)

	res, err := e.ScavengeOnce(ctx, "customer", "123")
	require.NoError(t, err)
	require.True(t, res.Promoted)
	require.Equal(t, "B", res.AgentID)
}
