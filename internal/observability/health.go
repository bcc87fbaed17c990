package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const checkTimeout = 2 * time.Second

// Check reports whether one dependency of the router can serve traffic
type Check func(ctx context.Context) error

// HealthChecker backs /healthz (liveness) and /readyz (readiness).
// Readiness needs the recovery flag and every registered check passing.
type HealthChecker struct {
	ready     atomic.Bool
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]Check
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		startTime: time.Now(),
		checks:    make(map[string]Check),
	}
}

// SetReady marks state recovery as done (or undone on shutdown)
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// AddCheck registers a named dependency consulted on every readiness probe
func (h *HealthChecker) AddCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Readiness runs every check and returns "ok" or the failure per name.
// The recovery flag reports as "recovered".
func (h *HealthChecker) Readiness(ctx context.Context) (bool, map[string]string) {
	h.mu.RLock()
	checks := make(map[string]Check, len(h.checks))
	names := make([]string, 0, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ready := h.ready.Load()
	results := map[string]string{"recovered": "ok"}
	if !ready {
		results["recovered"] = "replay in progress"
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	for _, name := range names {
		if err := checks[name](ctx); err != nil {
			results[name] = err.Error()
			ready = false
			continue
		}
		results[name] = "ok"
	}
	return ready, results
}

// IsReady reports readiness without running the checks
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// LivenessHandler returns HTTP 200 while the process is running.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 with every check passing, 503 otherwise
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready, checks := h.Readiness(r.Context())

	w.Header().Set("Content-Type", "application/json")
	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not_ready", http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}
