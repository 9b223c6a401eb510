package api

import (
	"net/http"
	"time"

	"github.com/lockarb/lockd/pkg/policy"
)

// acquireRequest is the body for POST /v1/locks/acquire (spec §6).
type acquireRequest struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	AgentID      string `json:"agent_id"`
	Priority     int    `json:"priority"`
	TTLSeconds   int    `json:"ttl_seconds"`
	Reentrant    bool   `json:"reentrant"`
}

type acquireResponse struct {
	Status     string `json:"status"`
	LockID     string `json:"lock_id,omitempty"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
	Position   int    `json:"position,omitempty"`
}

func (s *Server) handleAcquire(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req acquireRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ResourceType == "" || req.ResourceID == "" || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "resource_type, resource_id, and agent_id are required")
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	res, err := s.engine.Acquire(r.Context(), req.ResourceType, req.ResourceID, req.AgentID, req.Priority, ttl, req.Reentrant)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.hub.Broadcast(Event{
		Type:         "lock." + string(res.Status),
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		AgentID:      req.AgentID,
		LockID:       res.LockID,
	})
	if res.Status == "queued" {
		s.resources.add(req.ResourceType, req.ResourceID)
		s.metrics.SetQueueDepth(req.ResourceType, req.ResourceID, res.Position)
		s.mirrorGrantToHub(req.ResourceType, req.ResourceID)
	}

	writeJSON(w, http.StatusOK, acquireResponse{
		Status:     string(res.Status),
		LockID:     res.LockID,
		TTLSeconds: int(res.TTL.Seconds()),
		Position:   res.Position,
	})
}

// releaseRequest is the body for POST /v1/locks/release (spec §6).
type releaseRequest struct {
	LockID     string `json:"lock_id"`
	AgentID    string `json:"agent_id"`
	Idempotent bool   `json:"idempotent"`
}

type releaseResponse struct {
	Status     string `json:"status"`
	NextAgent  string `json:"next_agent_id,omitempty"`
	NextLockID string `json:"next_lock_id,omitempty"`
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req releaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.LockID == "" {
		writeError(w, http.StatusBadRequest, "lock_id is required")
		return
	}

	res, err := s.engine.Release(r.Context(), req.LockID, req.AgentID, req.Idempotent)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	if res.NextAgent != "" {
		s.hub.Broadcast(Event{Type: "lock.granted", AgentID: res.NextAgent, LockID: res.NextLockID})
	}

	writeJSON(w, http.StatusOK, releaseResponse{
		Status:     string(res.Status),
		NextAgent:  res.NextAgent,
		NextLockID: res.NextLockID,
	})
}

// cancelRequest is the body for POST /v1/locks/cancel (spec §6).
type cancelRequest struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	AgentID      string `json:"agent_id"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req cancelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ResourceType == "" || req.ResourceID == "" || req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "resource_type, resource_id, and agent_id are required")
		return
	}

	res, err := s.engine.Cancel(r.Context(), req.ResourceType, req.ResourceID, req.AgentID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(res.Status), "detail": res.Detail})
}

// extendRequest is the body for POST /v1/locks/extend (spec §6).
type extendRequest struct {
	LockID            string `json:"lock_id"`
	AgentID           string `json:"agent_id"`
	AdditionalSeconds int    `json:"additional_seconds"`
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req extendRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.LockID == "" {
		writeError(w, http.StatusBadRequest, "lock_id is required")
		return
	}

	res, err := s.engine.Extend(r.Context(), req.LockID, time.Duration(req.AdditionalSeconds)*time.Second, req.AgentID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":      string(res.Status),
		"ttl_seconds": int(res.NewTTL.Seconds()),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	lockID := r.PathValue("lock_id")
	if lockID == "" {
		writeError(w, http.StatusBadRequest, "lock_id path parameter is required")
		return
	}

	res, err := s.engine.Status(r.Context(), lockID)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":        string(res.Status),
		"agent_id":      res.AgentID,
		"lock_id":       res.LockID,
		"acquired_at":   res.AcquiredAt,
		"resource_type": res.ResourceType,
		"resource_id":   res.ResourceID,
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	res, err := s.engine.Cleanup(r.Context())
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"locks_cleared": res.LocksCleared})
}

func (s *Server) handlePolicyCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		AgentID  string         `json:"agent_id"`
		Action   string         `json:"action"`
		Metadata map[string]any `json:"metadata"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result := s.policy.Check(policy.Check{
		AgentID:  req.AgentID,
		Action:   req.Action,
		Metadata: req.Metadata,
	})
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.audit == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}

	events, err := s.audit.Recent(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, events)
}
