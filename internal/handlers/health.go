package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// Probe checks one dependency
type Probe func(ctx context.Context) error

// HealthHandler reports the state of the process dependencies
type HealthHandler struct {
	probes  map[string]Probe
	timeout time.Duration
}

// NewHealthHandler creates a health handler over named probes
func NewHealthHandler(probes map[string]Probe) *HealthHandler {
	return &HealthHandler{probes: probes, timeout: 2 * time.Second}
}

type healthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

func (h *HealthHandler) check(ctx context.Context) (map[string]string, bool) {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.probes))
	for name := range h.probes {
		names = append(names, name)
	}
	sort.Strings(names)

	services := make(map[string]string, len(names))
	healthy := true
	for _, name := range names {
		if err := h.probes[name](ctx); err != nil {
			services[name] = "unhealthy"
			healthy = false
		} else {
			services[name] = "healthy"
		}
	}
	return services, healthy
}

// Health lists every probe result
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	services, healthy := h.check(r.Context())
	response := healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Services:  services,
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		response.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(response)
}

// Ready answers OK once every probe passes
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, healthy := h.check(r.Context()); !healthy {
		http.Error(w, "Service not ready", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
