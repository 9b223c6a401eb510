package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lockarb/lockd/pkg/audit"
)

func newTestStore(t *testing.T) *audit.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return audit.NewStore(client, 0)
}

func TestRecordAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Record(string(audit.EventAcquired), "customer", "123", "A", "lock-1")
	s.Record(string(audit.EventReleased), "customer", "123", "A", "lock-1")

	events, err := s.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Recent returns newest first.
	require.Equal(t, audit.EventReleased, events[0].Kind)
	require.Equal(t, audit.EventAcquired, events[1].Kind)
	require.Equal(t, "lock-1", events[0].LockID)
	require.WithinDuration(t, time.Now().UTC(), events[0].Timestamp, 5*time.Second)
}

func TestForResourceFiltersByResource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.Record(string(audit.EventAcquired), "customer", "123", "A", "lock-1")
	s.Record(string(audit.EventAcquired), "customer", "456", "B", "lock-2")
	s.Record(string(audit.EventReleased), "customer", "123", "A", "lock-1")

	events, err := s.ForResource(ctx, "customer", "123", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, evt := range events {
		require.Equal(t, "123", evt.ResourceID)
	}
}

func TestRecentOnEmptyStream(t *testing.T) {
	s := newTestStore(t)
	events, err := s.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, events)
}
