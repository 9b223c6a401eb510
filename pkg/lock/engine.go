package lock

import (
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is the default lease duration per spec §5.
	DefaultTTL = 300 * time.Second
	// DefaultQueuedTTL bounds how long a pending agent_lock mapping survives
	// while its owner sits in the wait queue (spec §3, "bounded TTL").
	DefaultQueuedTTL = 1 * time.Hour
	// DefaultCancelTTL is the cancel tombstone lifetime (spec §4.1.4, §9).
	DefaultCancelTTL = 60 * time.Second
	// maxHandoffRetries bounds the release handoff loop (spec §4.1.2 step 4).
	maxHandoffRetries = 10
)

// Recorder receives lifecycle events for audit purposes. It is optional;
// a nil Recorder means events are simply not recorded. See pkg/audit.
type Recorder interface {
	Record(kind, resourceType, resourceID, agentID, lockID string)
}

// Engine is the Lock Engine (LE). It holds only a connection pool to the
// Atomic Store; construct one per process and share it freely across
// parallel request handlers. The engine has no other mutable state, so it
// is trivially safe to share across goroutines (spec §5).
type Engine struct {
	client     *redis.Client
	defaultTTL time.Duration
	queuedTTL  time.Duration
	cancelTTL  time.Duration
	recorder   Recorder
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefaultTTL overrides the default lease duration used when a caller
// does not supply one.
func WithDefaultTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.defaultTTL = ttl }
}

// WithQueuedTTL overrides the bounded TTL applied to agent_lock mappings
// while an agent sits in the wait queue.
func WithQueuedTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.queuedTTL = ttl }
}

// WithCancelTTL overrides the cancel tombstone lifetime.
func WithCancelTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.cancelTTL = ttl }
}

// WithRecorder attaches an audit recorder invoked (best-effort, outside the
// atomic script) after each mutating operation.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// NewEngine constructs a Lock Engine backed by the given Redis/DragonflyDB
// client.
func NewEngine(client *redis.Client, opts ...Option) *Engine {
	e := &Engine{
		client:     client,
		defaultTTL: DefaultTTL,
		queuedTTL:  DefaultQueuedTTL,
		cancelTTL:  DefaultCancelTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Client returns the underlying Redis client for advanced callers that
// want to share the engine's connection pool.
func (e *Engine) Client() *redis.Client {
	return e.client
}

func (e *Engine) record(kind, resourceType, resourceID, agentID, lockID string) {
	if e.recorder == nil {
		return
	}
	e.recorder.Record(kind, resourceType, resourceID, agentID, lockID)
}
