package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// extendScript implements spec §4.1.3.
var extendScript = redis.NewScript(`
-- KEYS[1]=meta_key
-- ARGV[1]=agent_id ("" = not supplied) ARGV[2]=additional_ttl

local meta = redis.call('HGETALL', KEYS[1])
if #meta == 0 then
    return {-1, 0}
end

local lock_key, owner, resource_type, resource_id
for i = 1, #meta, 2 do
    if meta[i] == "lock_key" then lock_key = meta[i + 1]
    elseif meta[i] == "agent_id" then owner = meta[i + 1]
    elseif meta[i] == "resource_type" then resource_type = meta[i + 1]
    elseif meta[i] == "resource_id" then resource_id = meta[i + 1]
    end
end

if ARGV[1] ~= "" and ARGV[1] ~= owner then
    return {-2, 0}
end

local current_owner = redis.call('GET', lock_key)
if not current_owner then
    return {-3, 0}
end
if current_owner ~= owner then
    return {-4, 0}
end

local ttl = tonumber(ARGV[2])
local ok1 = redis.call('EXPIRE', lock_key, ttl)
local ok2 = redis.call('EXPIRE', KEYS[1], ttl)

local agent_lock_key = "agent_lock:" .. resource_type .. ":" .. resource_id .. ":" .. owner
redis.call('EXPIRE', agent_lock_key, ttl)

if ok1 == 0 or ok2 == 0 then
    return {-3, 0}
end

return {1, ttl}
`)

// ExtendResult is returned by Extend (spec §4.1.3).
type ExtendResult struct {
	Status Status
	NewTTL time.Duration
}

// Extend resets the TTL on the lock, its metadata, and its agent mapping to
// additionalTTL, provided meta:lockID exists and its recorded owner still
// actually owns the lock key.
func (e *Engine) Extend(ctx context.Context, lockID string, additionalTTL time.Duration, agentID string) (ExtendResult, error) {
	raw, err := extendScript.Run(ctx, e.client, []string{metaKey(lockID)}, agentID, int64(additionalTTL.Seconds())).Slice()
	if err != nil {
		return ExtendResult{}, internalError(err)
	}

	statusCode, ok := raw[0].(int64)
	if !ok {
		return ExtendResult{}, internalError(errUnexpectedScriptShape)
	}

	switch statusCode {
	case -1:
		return ExtendResult{}, newError(KindNotFound, "lock metadata not found for %s", lockID)
	case -2:
		return ExtendResult{}, newError(KindNotOwner, "agent %q is not the lock owner", agentID)
	case -3:
		return ExtendResult{}, newError(KindExpired, "lock expired during extend")
	case -4:
		return ExtendResult{}, newError(KindOwnershipChanged, "lock ownership changed during extend")
	default:
		e.record("lock.extended", "", "", agentID, lockID)
		return ExtendResult{Status: StatusExtended, NewTTL: time.Duration(raw[1].(int64)) * time.Second}, nil
	}
}
