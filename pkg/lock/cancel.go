package lock

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// cancelScript implements spec §4.1.4.
var cancelScript = redis.NewScript(`
-- KEYS[1]=queue_key KEYS[2]=agent_lock_key KEYS[3]=cancel_key
-- ARGV[1]=agent_id ARGV[2]=cancel_ttl

local removed = redis.call('ZREM', KEYS[1], ARGV[1])
if removed > 0 then
    redis.call('DEL', KEYS[2])
    return {1, "removed_from_queue"}
end

redis.call('SET', KEYS[3], '1', 'EX', tonumber(ARGV[2]))
return {0, "flag_set"}
`)

// CancelResult is returned by Cancel (spec §4.1.4). Cancel is always
// reported as successful and is idempotent.
type CancelResult struct {
	Status Status
	Detail string
}

// Cancel withdraws agentID from the resource's wait queue, or — if agentID
// is no longer queued (it raced with a grant) — sets a cancel tombstone so
// a release that would have granted to it skips it instead.
func (e *Engine) Cancel(ctx context.Context, resourceType, resourceID, agentID string) (CancelResult, error) {
	k := Keys{ResourceType: resourceType, ResourceID: resourceID}
	keys := []string{k.queueKey(), k.agentLockKey(agentID), k.cancelKey(agentID)}

	raw, err := cancelScript.Run(ctx, e.client, keys, agentID, int64(e.cancelTTL.Seconds())).Slice()
	if err != nil {
		return CancelResult{}, internalError(err)
	}

	detail, _ := raw[1].(string)
	e.record("lock.cancelled", resourceType, resourceID, agentID, "")
	return CancelResult{Status: StatusCancelled, Detail: detail}, nil
}
