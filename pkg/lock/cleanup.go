package lock

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// cleanupScript implements spec §4.1.6. It runs as a single script so the
// SCAN loops see a consistent keyspace; on a large keyspace prefer running
// this during a maintenance window since it is not cheap.
var cleanupScript = redis.NewScript(`
local cleaned = 0
local cursor = "0"

repeat
    local result = redis.call('SCAN', cursor, 'MATCH', 'meta:*', 'COUNT', 100)
    cursor = result[1]
    for _, meta_key in ipairs(result[2]) do
        local meta = redis.call('HGETALL', meta_key)
        if #meta > 0 then
            local lock_key = nil
            for i = 1, #meta, 2 do
                if meta[i] == "lock_key" then lock_key = meta[i + 1] end
            end
            if lock_key then
                redis.call('DEL', lock_key)
                redis.call('DEL', meta_key)
                redis.call('DEL', "queue:" .. string.sub(lock_key, 6))
                cleaned = cleaned + 1
            end
        end
    end
until cursor == "0"

cursor = "0"
repeat
    local result = redis.call('SCAN', cursor, 'MATCH', 'agent_lock:*', 'COUNT', 100)
    cursor = result[1]
    for _, key in ipairs(result[2]) do
        redis.call('DEL', key)
    end
until cursor == "0"

cursor = "0"
repeat
    local result = redis.call('SCAN', cursor, 'MATCH', 'cancel:*', 'COUNT', 100)
    cursor = result[1]
    for _, key in ipairs(result[2]) do
        redis.call('DEL', key)
    end
until cursor == "0"

return cleaned
`)

// CleanupResult is returned by Cleanup (spec §4.1.6).
type CleanupResult struct {
	LocksCleared int64
}

// Cleanup is an administrative global reset: every meta:*, its lock key and
// queue, plus all agent_lock:* and cancel:* keys, are deleted. It is meant
// for maintenance and test teardown, not for routine operation.
func (e *Engine) Cleanup(ctx context.Context) (CleanupResult, error) {
	cleaned, err := cleanupScript.Run(ctx, e.client, nil).Int64()
	if err != nil {
		return CleanupResult{}, internalError(err)
	}
	return CleanupResult{LocksCleared: cleaned}, nil
}
