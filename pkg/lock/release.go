package lock

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// releaseScript implements spec §4.1.2, ported from lock_manager.py's
// release_lock. It owns the full grant-handoff loop so the handoff is one
// atomic step: pop the queue head, skip cancelled agents, replace-only
// write the new owner (closing the TOCTOU race against a holder whose
// lease just expired), and publish the grant.
//
// Returns {status_code, next_agent, next_lock_id, message}:
//
//	-1..-5  error (see message)
//	 0      released, no successor (next_agent == "")
//	 1      released with handoff
var releaseScript = redis.NewScript(`
-- KEYS[1]=meta_key
-- ARGV[1]=agent_id ("" = not supplied) ARGV[2]=grant_ttl ARGV[3]=idempotent ARGV[4]=max_retries

local meta = redis.call('HGETALL', KEYS[1])
if #meta == 0 then
    if ARGV[3] == "1" then
        return {0, "", "", ""}
    else
        return {-1, "", "", "lock not found or already expired"}
    end
end

local lock_key, owner_agent_id, resource_type, resource_id
for i = 1, #meta, 2 do
    if meta[i] == "lock_key" then lock_key = meta[i + 1]
    elseif meta[i] == "agent_id" then owner_agent_id = meta[i + 1]
    elseif meta[i] == "resource_type" then resource_type = meta[i + 1]
    elseif meta[i] == "resource_id" then resource_id = meta[i + 1]
    end
end

if not lock_key then
    return {-2, "", "", "invalid lock metadata"}
end

if ARGV[1] ~= "" and ARGV[1] ~= owner_agent_id then
    return {-3, "", "", "not the lock owner"}
end

local owner_agent_lock_key = "agent_lock:" .. resource_type .. ":" .. resource_id .. ":" .. owner_agent_id

local current_owner = redis.call('GET', lock_key)
if not current_owner then
    redis.call('DEL', KEYS[1])
    redis.call('DEL', owner_agent_lock_key)
    if ARGV[3] == "1" then
        return {0, "", "", ""}
    else
        return {-4, "", "", "lock expired before release"}
    end
end

if current_owner ~= owner_agent_id then
    return {-5, "", "", "lock ownership changed during release"}
end

local queue_key = "queue:" .. resource_type .. ":" .. resource_id
local ttl = tonumber(ARGV[2])
local max_retries = tonumber(ARGV[4])

local next_agent_id = nil
local next_lock_id = nil
local popped_score = nil

for _ = 1, max_retries do
    local popped = redis.call('ZPOPMIN', queue_key, 1)
    if #popped == 0 then
        break
    end

    local candidate = popped[1]
    popped_score = popped[2]
    local cancel_key = "cancel:" .. resource_type .. ":" .. resource_id .. ":" .. candidate
    local cancelled = redis.call('GET', cancel_key)

    if cancelled then
        redis.call('DEL', cancel_key)
        redis.call('DEL', "agent_lock:" .. resource_type .. ":" .. resource_id .. ":" .. candidate)
    else
        next_agent_id = candidate
        local candidate_agent_lock_key = "agent_lock:" .. resource_type .. ":" .. resource_id .. ":" .. candidate
        next_lock_id = redis.call('GET', candidate_agent_lock_key)
        if not next_lock_id then
            local counter = redis.call('INCR', 'lock_id_counter')
            next_lock_id = "fallback_" .. tostring(counter)
        end
        break
    end
end

redis.call('DEL', KEYS[1])
redis.call('DEL', owner_agent_lock_key)

if not next_agent_id then
    redis.call('DEL', lock_key)
    return {0, "", "", ""}
end

local set_ok = redis.call('SET', lock_key, next_agent_id, 'XX', 'EX', ttl)
if not set_ok then
    -- Lock vanished between the ownership check and the handoff write.
    -- Re-queue the candidate at its original score and treat this as a
    -- clean release with no successor.
    redis.call('ZADD', queue_key, popped_score, next_agent_id)
    return {0, "", "", ""}
end

local next_meta_key = "meta:" .. next_lock_id
redis.call('HSET', next_meta_key,
    'lock_key', lock_key,
    'agent_id', next_agent_id,
    'lock_id', next_lock_id,
    'acquired_at', redis.call('TIME')[1],
    'resource_type', resource_type,
    'resource_id', resource_id)
redis.call('EXPIRE', next_meta_key, ttl)

local next_agent_lock_key = "agent_lock:" .. resource_type .. ":" .. resource_id .. ":" .. next_agent_id
redis.call('SET', next_agent_lock_key, next_lock_id, 'EX', ttl)

redis.call('PUBLISH', 'lock_granted:' .. lock_key, next_agent_id .. ':' .. next_lock_id)

return {1, next_agent_id, next_lock_id, ""}
`)

// ReleaseResult is returned by Release (spec §4.1.2).
type ReleaseResult struct {
	Status     Status
	NextAgent  string // set when handoff occurred
	NextLockID string // set when handoff occurred
}

// Release releases lockID. If agentID is non-empty it must match the
// recorded owner. In idempotent mode a missing or expired lock is reported
// as success rather than an error (spec §7, "idempotence").
func (e *Engine) Release(ctx context.Context, lockID, agentID string, idempotent bool) (ReleaseResult, error) {
	idempotentFlag := "0"
	if idempotent {
		idempotentFlag = "1"
	}

	raw, err := releaseScript.Run(ctx, e.client, []string{metaKey(lockID)},
		agentID, int64(e.defaultTTL.Seconds()), idempotentFlag, maxHandoffRetries,
	).Slice()
	if err != nil {
		return ReleaseResult{}, internalError(err)
	}

	statusCode, ok := raw[0].(int64)
	if !ok {
		return ReleaseResult{}, internalError(errUnexpectedScriptShape)
	}

	if statusCode < 0 {
		message, _ := raw[3].(string)
		switch statusCode {
		case -1:
			return ReleaseResult{}, newError(KindNotFound, "%s", message)
		case -2:
			return ReleaseResult{}, internalError(errUnexpectedScriptShape)
		case -3:
			return ReleaseResult{}, newError(KindNotOwner, "%s", message)
		case -4:
			return ReleaseResult{}, newError(KindExpired, "%s", message)
		case -5:
			return ReleaseResult{}, newError(KindOwnershipChanged, "%s", message)
		default:
			return ReleaseResult{}, internalError(errUnexpectedScriptShape)
		}
	}

	nextAgent, _ := raw[1].(string)
	nextLockID, _ := raw[2].(string)

	if statusCode == 1 {
		e.record("lock.released", "", "", agentID, lockID)
		e.record("lock.granted", "", "", nextAgent, nextLockID)
		return ReleaseResult{Status: StatusReleased, NextAgent: nextAgent, NextLockID: nextLockID}, nil
	}

	e.record("lock.released", "", "", agentID, lockID)
	return ReleaseResult{Status: StatusReleased}, nil
}
