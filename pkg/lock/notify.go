package lock

import (
	"context"
	"strings"
)

// GrantEvent is the payload published on a resource's Notification Channel
// when a waiting agent is granted the lock (spec §4.2).
type GrantEvent struct {
	AgentID string
	LockID  string
}

// Subscribe opens a dedicated pub/sub connection to the Notification
// Channel for (resourceType, resourceID) and returns a channel of grant
// events. The returned cancel function must be called to release the
// subscription's connection. Delivery is at-least-once; callers must
// tolerate missed events and fall back to polling or timeout+cancel
// (spec §4.2, §4.4).
func (e *Engine) Subscribe(ctx context.Context, resourceType, resourceID string) (events <-chan GrantEvent, cancel func(), err error) {
	k := Keys{ResourceType: resourceType, ResourceID: resourceID}
	channel := grantChannel(k.lockKey())

	sub := e.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, internalError(err)
	}

	out := make(chan GrantEvent)
	msgCh := sub.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}
				agentID, lockID, ok := splitGrantPayload(msg.Payload)
				if !ok {
					continue
				}
				select {
				case out <- GrantEvent{AgentID: agentID, LockID: lockID}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, func() { sub.Close() }, nil
}

// splitGrantPayload parses the "{agent_id}:{lock_id}" wire format (spec §4.2),
// splitting on the first colon to match the Python reference implementation.
func splitGrantPayload(payload string) (agentID, lockID string, ok bool) {
	idx := strings.Index(payload, ":")
	if idx < 0 {
		return "", "", false
	}
	return payload[:idx], payload[idx+1:], true
}
