package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lockarb/lockd/pkg/api"
	"github.com/lockarb/lockd/pkg/audit"
	"github.com/lockarb/lockd/pkg/lock"
	"github.com/lockarb/lockd/pkg/metrics"
)

func newTestServer(t *testing.T) (*httptest.Server, *lock.Engine) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	auditStore := audit.NewStore(client, 0)
	metricsCollector := metrics.New()
	engine := lock.NewEngine(client, lock.WithRecorder(lock.MultiRecorder{auditStore, metricsCollector}))
	srv := api.NewServer(api.Config{Engine: engine, Audit: auditStore, Metrics: metricsCollector})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, engine
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func TestAcquireAndReleaseOverHTTP(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/locks/acquire", map[string]any{
		"resource_type": "customer",
		"resource_id":   "123",
		"agent_id":      "A",
		"priority":      5,
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var acquireRes map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&acquireRes))
	require.Equal(t, "acquired", acquireRes["status"])
	lockID, _ := acquireRes["lock_id"].(string)
	require.NotEmpty(t, lockID)

	resp2 := postJSON(t, ts.URL+"/v1/locks/release", map[string]any{"lock_id": lockID})
	defer resp2.Body.Close()
	var releaseRes map[string]any
	require.NoError(t, json.NewDecoder(resp2.Body).Decode(&releaseRes))
	require.Equal(t, "released", releaseRes["status"])
}

func TestAcquireMissingFieldsRejected(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/locks/acquire", map[string]any{"resource_type": "customer"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReleaseUnknownLockReturnsStructuredError(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/locks/release", map[string]any{"lock_id": "does-not-exist"})
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "error", body["status"])
	require.Equal(t, "not_found", body["kind"])
}

func TestQueuedAcquireReportsPosition(t *testing.T) {
	ts, _ := newTestServer(t)

	postJSON(t, ts.URL+"/v1/locks/acquire", map[string]any{
		"resource_type": "customer", "resource_id": "123", "agent_id": "A", "priority": 5,
	}).Body.Close()

	resp := postJSON(t, ts.URL+"/v1/locks/acquire", map[string]any{
		"resource_type": "customer", "resource_id": "123", "agent_id": "B", "priority": 3,
	})
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "queued", body["status"])
	require.Equal(t, float64(1), body["position"])
}

func TestPolicyCheckEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/policies/check", map[string]any{
		"agent_id": "A",
		"action":   "purchase",
		"metadata": map[string]any{"agent_role": "junior", "estimated_cost": 500.0},
	})
	defer resp.Body.Close()

	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	require.Equal(t, false, result["allowed"])
}

func TestAuditEndpointReflectsLockEvents(t *testing.T) {
	ts, _ := newTestServer(t)

	postJSON(t, ts.URL+"/v1/locks/acquire", map[string]any{
		"resource_type": "customer", "resource_id": "123", "agent_id": "A", "priority": 5,
	}).Body.Close()

	resp, err := http.Get(ts.URL + "/v1/audit")
	require.NoError(t, err)
	defer resp.Body.Close()

	var events []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	require.NotEmpty(t, events)
	require.Equal(t, "lock.acquired", events[0]["kind"])
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpointExposesPrometheusFormat(t *testing.T) {
	ts, _ := newTestServer(t)

	postJSON(t, ts.URL+"/v1/locks/acquire", map[string]any{
		"resource_type": "customer", "resource_id": "123", "agent_id": "A", "priority": 5,
	}).Body.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := make([]byte, 0)
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		body = append(body, buf[:n]...)
		if err != nil {
			break
		}
	}
	require.Contains(t, string(body), "lockd_lock_events_total")
}
