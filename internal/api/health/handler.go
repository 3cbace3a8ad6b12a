package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"ideaflow/internal/workers"
	"ideaflow/pkg/logger"
)

// CheckFunc pings one dependency
type CheckFunc func(ctx context.Context) error

// WorkerLister exposes the scheduled workers
type WorkerLister interface {
	GetWorkers() []workers.Worker
}

// Handler provides health check endpoints
type Handler struct {
	log         *logger.Logger
	checks      map[string]CheckFunc
	workers     WorkerLister
	startTime   time.Time
	serviceName string
	version     string
}

// New creates a new health check handler; workers may be nil
func New(serviceName, version string, checks map[string]CheckFunc, workers WorkerLister) *Handler {
	return &Handler{
		log:         logger.Get().With("component", "health"),
		checks:      checks,
		workers:     workers,
		startTime:   time.Now(),
		serviceName: serviceName,
		version:     version,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string                     `json:"status"` // healthy or unhealthy
	Service   string                     `json:"service"`
	Version   string                     `json:"version"`
	Uptime    string                     `json:"uptime"`
	Timestamp string                     `json:"timestamp"`
	Checks    map[string]ComponentHealth `json:"checks"`
	Workers   []WorkerStatus             `json:"workers,omitempty"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Status       string `json:"status"`
	ResponseTime string `json:"response_time,omitempty"`
	Error        string `json:"error,omitempty"`
}

// WorkerStatus is the last known state of a background worker
type WorkerStatus struct {
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	LastRun    string `json:"last_run,omitempty"`
	RunCount   int64  `json:"run_count"`
	ErrorCount int64  `json:"error_count"`
	LastError  string `json:"last_error,omitempty"`

	LastSuccess         string `json:"last_success,omitempty"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Degraded            bool   `json:"degraded"`
}

// HandleLiveness returns 200 while the process is up
func (h *Handler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// HandleReadiness pings every dependency; any failure makes the service unready.
// A worker that keeps failing marks the service degraded but still ready.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]ComponentHealth, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		res := h.run(ctx, name, check)
		checks[name] = res
		if res.Status != "healthy" {
			healthy = false
		}
	}

	status := HealthStatus{
		Status:    "healthy",
		Service:   h.serviceName,
		Version:   h.version,
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    checks,
		Workers:   h.workerStatuses(),
	}

	for _, ws := range status.Workers {
		if ws.Degraded {
			status.Status = "degraded"
		}
	}

	code := http.StatusOK
	if !healthy {
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
		h.log.Warnw("Readiness check failed", "checks", checks)
	}
	writeJSON(w, code, status)
}

func (h *Handler) run(ctx context.Context, name string, check CheckFunc) ComponentHealth {
	start := time.Now()
	err := check(ctx)
	elapsed := time.Since(start)

	if err != nil {
		h.log.Errorw("Health check failed", "component", name, "error", err, "elapsed", elapsed)
		return ComponentHealth{Status: "unhealthy", ResponseTime: elapsed.String(), Error: err.Error()}
	}
	return ComponentHealth{Status: "healthy", ResponseTime: elapsed.String()}
}

func (h *Handler) workerStatuses() []WorkerStatus {
	if h.workers == nil {
		return nil
	}
	var out []WorkerStatus
	for _, wk := range h.workers.GetWorkers() {
		st := WorkerStatus{Name: wk.Name(), Enabled: wk.Enabled()}
		if hw, ok := wk.(workers.WorkerWithHealth); ok {
			health := hw.Health()
			st.RunCount = health.RunCount
			st.ErrorCount = health.ErrorCount
			st.ConsecutiveFailures = health.ConsecutiveFailures
			st.Degraded = health.Degraded()
			if !health.LastRun.IsZero() {
				st.LastRun = health.LastRun.UTC().Format(time.RFC3339)
			}
			if !health.LastSuccess.IsZero() {
				st.LastSuccess = health.LastSuccess.UTC().Format(time.RFC3339)
			}
			if health.LastError != nil {
				st.LastError = health.LastError.Error()
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
