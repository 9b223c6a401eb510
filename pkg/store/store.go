// Package store owns the connection to the Atomic Store — the
// Redis-compatible keyspace the lock engine, audit log, and websocket
// mirror all share. It is adapted from the teacher's DragonflyDB cache
// connection wrapper: same Config shape, same ping-on-connect pattern,
// generalized to hand back a plain *redis.Client rather than a
// cache-shaped interface, since pkg/lock and pkg/audit each need direct
// access to scripting, pub/sub, and streams.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config describes how to reach the Atomic Store.
type Config struct {
	// Address is the store's host:port.
	Address string
	// Password for authentication (optional).
	Password string
	// Database selects the logical Redis database number.
	Database int
	// PoolSize caps the number of connections held open.
	PoolSize int
	// DialTimeout bounds the initial connection attempt.
	DialTimeout time.Duration
}

// DefaultConfig returns sensible defaults for local development.
func DefaultConfig() Config {
	return Config{
		Address:     "localhost:6379",
		Database:    0,
		PoolSize:    10,
		DialTimeout: 5 * time.Second,
	}
}

// Connect dials the Atomic Store and verifies it is reachable before
// returning. Callers own the returned client's lifecycle and should
// Close it on shutdown.
func Connect(cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.Database,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: failed to connect to atomic store at %s: %w", cfg.Address, err)
	}

	return client, nil
}
