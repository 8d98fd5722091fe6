// Package health provides liveness and readiness endpoints. Readiness checks
// run at request time with a per-check timeout; the service additionally has
// a manual ready flag that is flipped on after startup and off during
// graceful shutdown.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc reports nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

type check struct {
	name    string
	timeout time.Duration
	fn      CheckFunc
}

// Health tracks a manual ready flag and a set of named readiness checks.
type Health struct {
	ready atomic.Bool

	mu     sync.RWMutex
	checks []check
}

// New returns a Health in the not-ready state.
func New() *Health {
	return &Health{}
}

// AddReadinessCheck registers a named dependency check evaluated on every
// readiness probe.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check{name: name, timeout: timeout, fn: fn})
}

// SetReady flips the manual ready flag. Call with false during graceful
// shutdown so load balancers drain the instance before connections close.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the manual flag is set and every check passes.
func (h *Health) IsReady(ctx context.Context) bool {
	if !h.ready.Load() {
		return false
	}
	return len(h.failures(ctx)) == 0
}

func (h *Health) failures(ctx context.Context) map[string]string {
	h.mu.RLock()
	checks := make([]check, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	failures := make(map[string]string)
	for _, c := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.fn(checkCtx)
		cancel()
		if err != nil {
			failures[c.name] = err.Error()
		}
	}
	return failures
}

type statusResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LiveEndpoint answers 200 whenever the process can serve HTTP at all.
func (h *Health) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, nil, true)
}

// ReadyEndpoint answers 200 when the manual flag is set and all checks pass,
// 503 with per-check failures otherwise.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	failures := h.failures(r.Context())
	ready := h.ready.Load()
	if !ready {
		failures["_readiness"] = "service is not ready"
	}
	writeStatus(w, failures, len(failures) == 0)
}

func writeStatus(w http.ResponseWriter, failures map[string]string, ok bool) {
	w.Header().Set("Content-Type", "application/json")
	resp := statusResponse{Status: "ok"}
	if !ok {
		resp.Status = "unhealthy"
		resp.Checks = failures
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
