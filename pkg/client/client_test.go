package client_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lockarb/lockd/pkg/api"
	"github.com/lockarb/lockd/pkg/client"
	"github.com/lockarb/lockd/pkg/lock"
)

func newTestSetup(t *testing.T) (*httptest.Server, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	engine := lock.NewEngine(redisClient)
	srv := api.NewServer(api.Config{Engine: engine})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return ts, redisClient
}

func TestAcquireReleaseRoundTrip(t *testing.T) {
	ts, _ := newTestSetup(t)
	c := client.New(ts.URL, "A")
	ctx := context.Background()

	res, err := c.Acquire(ctx, "customer", "123", 5, 0, false, false, 0)
	require.NoError(t, err)
	require.Equal(t, "acquired", res.Status)
	require.NotEmpty(t, res.LockID)

	rel, err := c.Release(ctx, res.LockID)
	require.NoError(t, err)
	require.Equal(t, "released", rel.Status)
}

func TestAcquireWaitViaPollingReceivesHandoff(t *testing.T) {
	ts, _ := newTestSetup(t)
	owner := client.New(ts.URL, "A")
	waiter := client.New(ts.URL, "B")
	ctx := context.Background()

	ownerRes, err := owner.Acquire(ctx, "customer", "123", 5, 5*time.Second, false, false, 0)
	require.NoError(t, err)
	require.Equal(t, "acquired", ownerRes.Status)

	waitDone := make(chan client.AcquireResult, 1)
	waitErr := make(chan error, 1)
	go func() {
		res, err := waiter.Acquire(ctx, "customer", "123", 3, 0, false, true, 5*time.Second)
		if err != nil {
			waitErr <- err
			return
		}
		waitDone <- res
	}()

	time.Sleep(100 * time.Millisecond)
	_, err = owner.Release(ctx, ownerRes.LockID)
	require.NoError(t, err)

	select {
	case res := <-waitDone:
		require.Equal(t, "acquired", res.Status)
	case err := <-waitErr:
		t.Fatalf("wait failed: %v", err)
	case <-time.After(6 * time.Second):
		t.Fatal("timed out waiting for handoff")
	}
}

func TestAcquireWaitViaPubSubReceivesHandoff(t *testing.T) {
	ts, redisClient := newTestSetup(t)
	owner := client.New(ts.URL, "A")
	waiter := client.New(ts.URL, "B", client.WithNotificationStore(redisClient))
	ctx := context.Background()

	ownerRes, err := owner.Acquire(ctx, "customer", "123", 5, 5*time.Second, false, false, 0)
	require.NoError(t, err)
	require.Equal(t, "acquired", ownerRes.Status)

	waitDone := make(chan client.AcquireResult, 1)
	waitErr := make(chan error, 1)
	go func() {
		res, err := waiter.Acquire(ctx, "customer", "123", 3, 0, false, true, 5*time.Second)
		if err != nil {
			waitErr <- err
			return
		}
		waitDone <- res
	}()

	time.Sleep(100 * time.Millisecond)
	_, err = owner.Release(ctx, ownerRes.LockID)
	require.NoError(t, err)

	select {
	case res := <-waitDone:
		require.Equal(t, "acquired", res.Status)
	case err := <-waitErr:
		t.Fatalf("wait failed: %v", err)
	case <-time.After(6 * time.Second):
		t.Fatal("timed out waiting for handoff")
	}
}

func TestStatusReflectsActiveLock(t *testing.T) {
	ts, _ := newTestSetup(t)
	c := client.New(ts.URL, "A")
	ctx := context.Background()

	res, err := c.Acquire(ctx, "customer", "123", 5, 0, false, false, 0)
	require.NoError(t, err)

	st, err := c.Status(ctx, res.LockID)
	require.NoError(t, err)
	require.Equal(t, "active", st.Status)
	require.Equal(t, "A", st.AgentID)
}

func TestCheckPolicyOverHTTP(t *testing.T) {
	ts, _ := newTestSetup(t)
	c := client.New(ts.URL, "A")

	res, err := c.CheckPolicy(context.Background(), "purchase", map[string]any{
		"agent_role": "senior", "estimated_cost": 50.0,
	})
	require.NoError(t, err)
	require.True(t, res.Allowed)
}
