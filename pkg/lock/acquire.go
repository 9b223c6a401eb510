package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// acquireScript implements spec §4.1.1 as a single atomic Lua script,
// ported from original_source/src/protomesh/core/lock_manager.py's
// acquire_lock. It returns {status_code, value, [existing_lock_id]}:
//
//	-1  cancelled          (tombstone consumed)
//	-2  already_owned_not_reentrant
//	 1  acquired           value=ttl
//	 2  already_owned      value=ttl, existing_lock_id=result[3]
//	 0  queued             value=0-based position
var acquireScript = redis.NewScript(`
-- KEYS[1]=lock_key KEYS[2]=meta_key KEYS[3]=queue_key KEYS[4]=agent_lock_key KEYS[5]=cancel_key
-- ARGV[1]=agent_id ARGV[2]=ttl ARGV[3]=lock_id ARGV[4]=acquired_at
-- ARGV[5]=resource_type ARGV[6]=resource_id ARGV[7]=neg_priority_score
-- ARGV[8]=reentrant("1"/"0") ARGV[9]=queued_ttl

local cancel_flag = redis.call('GET', KEYS[5])
if cancel_flag then
    redis.call('DEL', KEYS[5])
    return {-1, 0}
end

local current_owner = redis.call('GET', KEYS[1])
if current_owner == ARGV[1] then
    if ARGV[8] == "1" then
        local existing_lock_id = redis.call('GET', KEYS[4])
        if existing_lock_id then
            local ttl = tonumber(ARGV[2])
            redis.call('EXPIRE', KEYS[1], ttl)
            redis.call('EXPIRE', "meta:" .. existing_lock_id, ttl)
            redis.call('EXPIRE', KEYS[4], ttl)
            return {2, ttl, existing_lock_id}
        end
    else
        return {-2, 0}
    end
end

local acquired = redis.call('SET', KEYS[1], ARGV[1], 'NX', 'EX', tonumber(ARGV[2]))

if acquired then
    redis.call('HSET', KEYS[2],
        'lock_key', KEYS[1],
        'agent_id', ARGV[1],
        'lock_id', ARGV[3],
        'acquired_at', ARGV[4],
        'resource_type', ARGV[5],
        'resource_id', ARGV[6])
    redis.call('EXPIRE', KEYS[2], tonumber(ARGV[2]))
    redis.call('SET', KEYS[4], ARGV[3], 'EX', tonumber(ARGV[2]))
    return {1, tonumber(ARGV[2])}
end

local agent_score = redis.call('ZSCORE', KEYS[3], ARGV[1])
if agent_score then
    local position = redis.call('ZRANK', KEYS[3], ARGV[1])
    redis.call('SET', KEYS[4], ARGV[3], 'EX', tonumber(ARGV[9]))
    return {0, position}
end

redis.call('ZADD', KEYS[3], tonumber(ARGV[7]), ARGV[1])
redis.call('SET', KEYS[4], ARGV[3], 'EX', tonumber(ARGV[9]))
local position = redis.call('ZRANK', KEYS[3], ARGV[1])
return {0, position}
`)

// AcquireResult is the Status, LockID, TTL, and queue position returned by
// acquire (spec §4.1.1).
type AcquireResult struct {
	Status   Status
	LockID   string
	TTL      time.Duration
	Position int // one-based, only set when Status == StatusQueued
	Err      *Error
}

// Acquire attempts to acquire a lock on (resourceType, resourceID) for
// agentID, or enrolls agentID in the resource's priority wait queue.
func (e *Engine) Acquire(ctx context.Context, resourceType, resourceID, agentID string, priority int, ttl time.Duration, reentrant bool) (AcquireResult, error) {
	if ttl <= 0 {
		ttl = e.defaultTTL
	}
	k := Keys{ResourceType: resourceType, ResourceID: resourceID}
	lockID := uuid.NewString()

	reentrantFlag := "0"
	if reentrant {
		reentrantFlag = "1"
	}

	keys := []string{k.lockKey(), metaKey(lockID), k.queueKey(), k.agentLockKey(agentID), k.cancelKey(agentID)}
	args := []any{
		agentID,
		int64(ttl.Seconds()),
		lockID,
		time.Now().UTC().Format(time.RFC3339Nano),
		resourceType,
		resourceID,
		-priority,
		reentrantFlag,
		int64(e.queuedTTL.Seconds()),
	}

	raw, err := acquireScript.Run(ctx, e.client, keys, args...).Slice()
	if err != nil {
		return AcquireResult{}, internalError(err)
	}

	statusCode, ok := raw[0].(int64)
	if !ok {
		return AcquireResult{}, internalError(errUnexpectedScriptShape)
	}

	switch statusCode {
	case -1:
		return AcquireResult{Status: StatusCancelled}, nil
	case -2:
		return AcquireResult{}, newError(KindAlreadyOwnedNotReentrant, "agent %q already holds lock on %s:%s and reentrant=false", agentID, resourceType, resourceID)
	case 1:
		grantedTTL := time.Duration(raw[1].(int64)) * time.Second
		e.record("lock.acquired", resourceType, resourceID, agentID, lockID)
		return AcquireResult{Status: StatusAcquired, LockID: lockID, TTL: grantedTTL}, nil
	case 2:
		existingLockID, _ := raw[2].(string)
		grantedTTL := time.Duration(raw[1].(int64)) * time.Second
		return AcquireResult{Status: StatusAlreadyOwned, LockID: existingLockID, TTL: grantedTTL}, nil
	default:
		position := int(raw[1].(int64)) + 1
		e.record("lock.queued", resourceType, resourceID, agentID, lockID)
		return AcquireResult{Status: StatusQueued, LockID: lockID, Position: position}, nil
	}
}
