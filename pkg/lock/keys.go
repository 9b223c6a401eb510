// Package lock implements the distributed lock arbitration engine: atomic
// acquire/release/extend/cancel against an Atomic Store (Redis/DragonflyDB),
// a per-resource priority wait queue, and grant-handoff notifications.
package lock

import "strings"

// Keys holds the Atomic Store key names derived from a (resource_type,
// resource_id) pair. Keys are colon-delimited so namespaces never collide.
type Keys struct {
	ResourceType string
	ResourceID   string
}

func (k Keys) lockKey() string {
	return "lock:" + k.ResourceType + ":" + k.ResourceID
}

func (k Keys) queueKey() string {
	return "queue:" + k.ResourceType + ":" + k.ResourceID
}

func (k Keys) agentLockKey(agentID string) string {
	return "agent_lock:" + k.ResourceType + ":" + k.ResourceID + ":" + agentID
}

func (k Keys) cancelKey(agentID string) string {
	return "cancel:" + k.ResourceType + ":" + k.ResourceID + ":" + agentID
}

func metaKey(lockID string) string {
	return "meta:" + lockID
}

func grantChannel(lockKey string) string {
	return "lock_granted:" + lockKey
}

// resourceFromLockKey recovers (type, id) from a "lock:T:R" key. T and R
// themselves must not contain colons, matching the Python implementation's
// assumption in cleanup_all_locks (string.gsub on "lock:").
func resourceFromLockKey(lockKey string) (resourceType, resourceID string, ok bool) {
	parts := strings.SplitN(lockKey, ":", 3)
	if len(parts) != 3 || parts[0] != "lock" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func queueKeyFromLockKey(lockKey string) string {
	return "queue:" + strings.TrimPrefix(lockKey, "lock:")
}
