package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// scavengeScript promotes a queue head after TTL expiry without waiting
// for the next explicit acquire. It is the optional background scavenger
// spec §4.1.7 and §9 allow: "implemented as an atomic conditional handoff
// equivalent to release step 4." It only acts when lock_key is absent (the
// previous holder's lease elapsed); if the lock is still held, or the
// queue is empty or fully cancelled, it is a no-op.
var scavengeScript = redis.NewScript(`
-- KEYS[1]=lock_key KEYS[2]=queue_key
-- ARGV[1]=grant_ttl ARGV[2]=resource_type ARGV[3]=resource_id ARGV[4]=max_retries

if redis.call('EXISTS', KEYS[1]) == 1 then
    return {0, "", ""}
end

local ttl = tonumber(ARGV[1])
local max_retries = tonumber(ARGV[4])
local next_agent_id, next_lock_id, popped_score

for _ = 1, max_retries do
    local popped = redis.call('ZPOPMIN', KEYS[2], 1)
    if #popped == 0 then
        break
    end
    local candidate = popped[1]
    popped_score = popped[2]
    local cancel_key = "cancel:" .. ARGV[2] .. ":" .. ARGV[3] .. ":" .. candidate
    if redis.call('GET', cancel_key) then
        redis.call('DEL', cancel_key)
        redis.call('DEL', "agent_lock:" .. ARGV[2] .. ":" .. ARGV[3] .. ":" .. candidate)
    else
        next_agent_id = candidate
        local agent_lock_key = "agent_lock:" .. ARGV[2] .. ":" .. ARGV[3] .. ":" .. candidate
        next_lock_id = redis.call('GET', agent_lock_key)
        if not next_lock_id then
            local counter = redis.call('INCR', 'lock_id_counter')
            next_lock_id = "fallback_" .. tostring(counter)
        end
        break
    end
end

if not next_agent_id then
    return {0, "", ""}
end

local set_ok = redis.call('SET', KEYS[1], next_agent_id, 'NX', 'EX', ttl)
if not set_ok then
    -- someone else raced us and acquired directly; re-queue and bail
    redis.call('ZADD', KEYS[2], popped_score, next_agent_id)
    return {0, "", ""}
end

local meta_key = "meta:" .. next_lock_id
redis.call('HSET', meta_key,
    'lock_key', KEYS[1],
    'agent_id', next_agent_id,
    'lock_id', next_lock_id,
    'acquired_at', redis.call('TIME')[1],
    'resource_type', ARGV[2],
    'resource_id', ARGV[3])
redis.call('EXPIRE', meta_key, ttl)

local agent_lock_key = "agent_lock:" .. ARGV[2] .. ":" .. ARGV[3] .. ":" .. next_agent_id
redis.call('SET', agent_lock_key, next_lock_id, 'EX', ttl)

redis.call('PUBLISH', 'lock_granted:' .. KEYS[1], next_agent_id .. ':' .. next_lock_id)

return {1, next_agent_id, next_lock_id}
`)

// ScavengeResult reports whether the scavenger promoted a queue head.
type ScavengeResult struct {
	Promoted bool
	AgentID  string
	LockID   string
}

// ScavengeOnce runs one conditional handoff attempt against a single
// resource's queue. It is safe to call concurrently with Acquire/Release:
// the NX guard on the lock key means at most one of a racing Acquire and a
// racing scavenge wins.
func (e *Engine) ScavengeOnce(ctx context.Context, resourceType, resourceID string) (ScavengeResult, error) {
	k := Keys{ResourceType: resourceType, ResourceID: resourceID}
	raw, err := scavengeScript.Run(ctx, e.client, []string{k.lockKey(), k.queueKey()},
		int64(e.defaultTTL.Seconds()), resourceType, resourceID, maxHandoffRetries,
	).Slice()
	if err != nil {
		return ScavengeResult{}, internalError(err)
	}

	promoted, _ := raw[0].(int64)
	if promoted == 0 {
		return ScavengeResult{}, nil
	}
	agentID, _ := raw[1].(string)
	lockID, _ := raw[2].(string)
	e.record("lock.scavenged", resourceType, resourceID, agentID, lockID)
	return ScavengeResult{Promoted: true, AgentID: agentID, LockID: lockID}, nil
}

// Scavenger periodically promotes queue heads for resources whose holder's
// lease elapsed without an explicit release (spec §9, open question: "TTL
// expiry is silent"). It is optional and disabled unless started.
type Scavenger struct {
	engine   *Engine
	interval time.Duration
	stop     chan struct{}
}

// NewScavenger constructs a scavenger that sweeps the given resources on
// each tick. Discovering "all resources with a non-empty queue" cheaply
// requires tracking them outside the engine (e.g. the set of resources an
// HTTP façade has ever seen queued); this keeps the engine itself free of
// any such bookkeeping, per spec §9's "global engine state" note.
func NewScavenger(engine *Engine, interval time.Duration) *Scavenger {
	return &Scavenger{engine: engine, interval: interval, stop: make(chan struct{})}
}

// Run sweeps the given resources every tick until ctx is cancelled or Stop
// is called. resources is re-evaluated on every tick, so callers can back
// it with a slice that grows as new resources are observed.
func (s *Scavenger) Run(ctx context.Context, resources func() []Keys) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			for _, k := range resources() {
				_, _ = s.engine.ScavengeOnce(ctx, k.ResourceType, k.ResourceID)
			}
		}
	}
}

// Stop halts the scavenger loop.
func (s *Scavenger) Stop() {
	close(s.stop)
}
