package lock

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Status is the tagged outcome of a lock engine operation (spec §4.1.1-§4.1.5).
type Status string

const (
	StatusAcquired     Status = "acquired"
	StatusQueued       Status = "queued"
	StatusAlreadyOwned Status = "already_owned"
	StatusCancelled    Status = "cancelled"
	StatusReleased     Status = "released"
	StatusExtended     Status = "extended"
	StatusActive       Status = "active"
	StatusExpired      Status = "expired"
)

var errUnexpectedScriptShape = errors.New("lock: unexpected script return shape")

// StatusResult is returned by Status (spec §4.1.5). It is intentionally the
// result of two independent, non-atomic reads: callers that need a
// definitive liveness check should Extend or re-Acquire instead (spec §9).
type StatusResult struct {
	Status       Status
	AgentID      string
	LockID       string
	AcquiredAt   string
	ResourceType string
	ResourceID   string
}

// Status performs a non-atomic status check on lockID: load the metadata
// hash, then re-read the lock key to see whether it still names the
// recorded owner. Either read can race with a concurrent release or expiry.
func (e *Engine) Status(ctx context.Context, lockID string) (StatusResult, error) {
	meta, err := e.client.HGetAll(ctx, metaKey(lockID)).Result()
	if err != nil {
		return StatusResult{}, internalError(err)
	}
	if len(meta) == 0 {
		return StatusResult{Status: StatusExpired}, nil
	}

	lockKey := meta["lock_key"]
	if lockKey != "" {
		owner, err := e.client.Get(ctx, lockKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return StatusResult{}, internalError(err)
		}
		if owner == "" || owner != meta["agent_id"] {
			return StatusResult{Status: StatusExpired}, nil
		}
	}

	return StatusResult{
		Status:       StatusActive,
		AgentID:      meta["agent_id"],
		LockID:       meta["lock_id"],
		AcquiredAt:   meta["acquired_at"],
		ResourceType: meta["resource_type"],
		ResourceID:   meta["resource_id"],
	}, nil
}
