// Package client is the agent-facing SDK for the lock arbitration
// service (spec §4.4). It is grounded in the reference SDK's wait-loop
// protocol (acquire → if queued and wait requested, subscribe to the
// Notification Channel and race the grant against a timeout, cancelling
// on timeout) and in the teacher's resilient HTTP client for transport.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lockarb/lockd/internal/httpclient"
)

// Client talks to a lockd HTTP façade on behalf of one agent.
type Client struct {
	baseURL string
	agentID string
	http    *httpclient.Client
	store   *redis.Client // optional: enables pub/sub waiting instead of polling
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPConfig overrides the resilient transport's retry/backoff settings.
func WithHTTPConfig(cfg httpclient.Config) Option {
	return func(c *Client) { c.http = httpclient.New(cfg) }
}

// WithNotificationStore attaches a direct Atomic Store connection so Acquire
// can subscribe to grant events instead of polling Status. Without one,
// waiting falls back to a polling loop.
func WithNotificationStore(store *redis.Client) Option {
	return func(c *Client) { c.store = store }
}

// New creates a Client for agentID against the façade at baseURL.
func New(baseURL, agentID string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		agentID: agentID,
		http:    httpclient.New(httpclient.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AcquireResult mirrors the façade's acquire response.
type AcquireResult struct {
	Status     string `json:"status"`
	LockID     string `json:"lock_id"`
	TTLSeconds int    `json:"ttl_seconds"`
	Position   int    `json:"position"`
}

// Acquire requests a lock. If the request is queued and wait is true, it
// blocks (via pub/sub if a store was configured, otherwise by polling)
// until granted or maxWait elapses, cancelling the queued request on
// timeout (spec §4.4). reentrant allows the same agent to re-acquire and
// refresh a lock it already holds instead of erroring.
func (c *Client) Acquire(ctx context.Context, resourceType, resourceID string, priority int, ttl time.Duration, reentrant, wait bool, maxWait time.Duration) (AcquireResult, error) {
	result, err := c.acquireOnce(ctx, resourceType, resourceID, priority, ttl, reentrant)
	if err != nil {
		return AcquireResult{}, err
	}

	if result.Status != "queued" || !wait {
		return result, nil
	}

	granted, err := c.waitForGrant(ctx, resourceType, resourceID, maxWait)
	if err != nil {
		_ = c.Cancel(context.Background(), resourceType, resourceID)
		return AcquireResult{}, err
	}
	return granted, nil
}

func (c *Client) acquireOnce(ctx context.Context, resourceType, resourceID string, priority int, ttl time.Duration, reentrant bool) (AcquireResult, error) {
	var result AcquireResult
	body := map[string]any{
		"resource_type": resourceType,
		"resource_id":   resourceID,
		"agent_id":      c.agentID,
		"priority":      priority,
		"ttl_seconds":   int(ttl.Seconds()),
		"reentrant":     reentrant,
	}
	if err := c.postJSON(ctx, "/v1/locks/acquire", body, &result); err != nil {
		return AcquireResult{}, err
	}
	return result, nil
}

func (c *Client) waitForGrant(ctx context.Context, resourceType, resourceID string, maxWait time.Duration) (AcquireResult, error) {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	if c.store != nil {
		return c.waitViaPubSub(ctx, resourceType, resourceID)
	}
	return c.waitViaPolling(ctx, resourceType, resourceID)
}

func (c *Client) waitViaPubSub(ctx context.Context, resourceType, resourceID string) (AcquireResult, error) {
	channel := fmt.Sprintf("lock_granted:lock:%s:%s", resourceType, resourceID)
	sub := c.store.Subscribe(ctx, channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return AcquireResult{}, fmt.Errorf("client: subscribe failed: %w", err)
	}

	msgCh := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return AcquireResult{}, fmt.Errorf("client: timed out waiting for lock grant")
		case msg, ok := <-msgCh:
			if !ok {
				return AcquireResult{}, fmt.Errorf("client: notification channel closed")
			}
			idx := strings.Index(msg.Payload, ":")
			if idx < 0 {
				continue
			}
			agentID, lockID := msg.Payload[:idx], msg.Payload[idx+1:]
			if agentID == c.agentID {
				return AcquireResult{Status: "acquired", LockID: lockID}, nil
			}
		}
	}
}

// waitViaPolling is the fallback when no Atomic Store connection is
// configured: it checks for a grant by re-issuing Acquire with
// reentrant=true. Since this agent is already enrolled in the wait queue,
// a repeated acquire call is idempotent with respect to queue membership
// (the script's ZSCORE check short-circuits before any ZADD) and either
// reports "queued" again or, once the queue head promotes this agent,
// "already_owned" with the lock_id assigned at promotion time, which is
// reported to the caller as "acquired", the same as the pub/sub path. It is
// intentionally simple and loses no correctness versus pub/sub — just
// timeliness — since acquire itself is the only source of truth.
func (c *Client) waitViaPolling(ctx context.Context, resourceType, resourceID string) (AcquireResult, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return AcquireResult{}, fmt.Errorf("client: timed out waiting for lock grant")
		case <-ticker.C:
			res, err := c.acquireOnce(ctx, resourceType, resourceID, 0, 0, true)
			if err != nil {
				continue
			}
			if res.Status == "acquired" || res.Status == "already_owned" {
				res.Status = "acquired"
				return res, nil
			}
		}
	}
}

// ReleaseResult mirrors the façade's release response.
type ReleaseResult struct {
	Status     string `json:"status"`
	NextAgent  string `json:"next_agent_id"`
	NextLockID string `json:"next_lock_id"`
}

// Release releases a held lock (spec §4.1.2).
func (c *Client) Release(ctx context.Context, lockID string) (ReleaseResult, error) {
	var result ReleaseResult
	body := map[string]any{"lock_id": lockID, "agent_id": c.agentID, "idempotent": true}
	err := c.postJSON(ctx, "/v1/locks/release", body, &result)
	return result, err
}

// Cancel withdraws a queued request (spec §4.1.4).
func (c *Client) Cancel(ctx context.Context, resourceType, resourceID string) error {
	body := map[string]any{"resource_type": resourceType, "resource_id": resourceID, "agent_id": c.agentID}
	return c.postJSON(ctx, "/v1/locks/cancel", body, nil)
}

// Extend lengthens an active lock's lease (spec §4.1.3).
func (c *Client) Extend(ctx context.Context, lockID string, additional time.Duration) error {
	body := map[string]any{"lock_id": lockID, "agent_id": c.agentID, "additional_seconds": int(additional.Seconds())}
	return c.postJSON(ctx, "/v1/locks/extend", body, nil)
}

// StatusResult mirrors the façade's status response.
type StatusResult struct {
	Status       string `json:"status"`
	AgentID      string `json:"agent_id"`
	LockID       string `json:"lock_id"`
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
}

// Status checks a lock's current state (spec §4.1.5).
func (c *Client) Status(ctx context.Context, lockID string) (StatusResult, error) {
	var result StatusResult
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/locks/"+lockID+"/status", nil)
	if err != nil {
		return StatusResult{}, err
	}
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return StatusResult{}, err
	}
	defer resp.Body.Close()
	return result, json.NewDecoder(resp.Body).Decode(&result)
}

// PolicyResult mirrors the façade's policy check response.
type PolicyResult struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// CheckPolicy evaluates a policy question before requesting a lock.
func (c *Client) CheckPolicy(ctx context.Context, action string, metadata map[string]any) (PolicyResult, error) {
	var result PolicyResult
	body := map[string]any{"agent_id": c.agentID, "action": action, "metadata": metadata}
	err := c.postJSON(ctx, "/v1/policies/check", body, &result)
	return result, err
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := c.http.Post(ctx, c.baseURL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("client: %s returned %d: %s", path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
