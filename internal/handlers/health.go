package handlers

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/hanko-field/orderflow/internal/platform/httpx"
)

const (
	healthStatusOK       = "ok"
	healthStatusDegraded = "degraded"
	healthStatusError    = "error"

	defaultCheckTimeout = 1500 * time.Millisecond
)

// ReadinessCheck probes one dependency for /readyz.
type ReadinessCheck struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// BuildInfo is reported by /healthz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build  BuildInfo
	checks []ReadinessCheck
	now    func() time.Time
}

type HealthOption func(*HealthHandlers)

func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithReadinessChecks appends dependency probes evaluated concurrently by /readyz.
func WithReadinessChecks(checks ...ReadinessCheck) HealthOption {
	return func(h *HealthHandlers) {
		h.checks = append(h.checks, checks...)
	}
}

func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if now != nil {
			h.now = now
		}
	}
}

func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.now()
	}
	return h
}

type healthResponse struct {
	Status      string                 `json:"status"`
	Version     string                 `json:"version,omitempty"`
	CommitSHA   string                 `json:"commitSha,omitempty"`
	Environment string                 `json:"environment,omitempty"`
	Uptime      string                 `json:"uptime"`
	Timestamp   string                 `json:"timestamp"`
	Checks      map[string]checkResult `json:"checks,omitempty"`
}

type checkResult struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

// Healthz reports process liveness. It never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, h.base(healthStatusOK, now))
}

// Readyz runs every readiness check and answers 503 unless all of them pass.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	results := h.collect(r.Context())

	status := healthStatusOK
	for _, name := range sortedKeys(results) {
		switch results[name].Status {
		case healthStatusError:
			status = healthStatusError
		case healthStatusDegraded:
			if status == healthStatusOK {
				status = healthStatusDegraded
			}
		}
	}

	resp := h.base(status, now)
	resp.Checks = results
	code := http.StatusOK
	if status != healthStatusOK {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, code, resp)
}

func (h *HealthHandlers) base(status string, now time.Time) healthResponse {
	return healthResponse{
		Status:      status,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Truncate(time.Second).String(),
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
}

func (h *HealthHandlers) collect(ctx context.Context) map[string]checkResult {
	results := make(map[string]checkResult, len(h.checks))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, check := range h.checks {
		if check.Name == "" || check.Check == nil {
			continue
		}
		wg.Add(1)
		go func(check ReadinessCheck) {
			defer wg.Done()
			timeout := check.Timeout
			if timeout <= 0 {
				timeout = defaultCheckTimeout
			}
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := h.now()
			err := check.Check(checkCtx)
			result := checkResult{Status: healthStatusOK, LatencyMS: h.now().Sub(start).Milliseconds()}
			switch {
			case err == nil && checkCtx.Err() == nil:
			case errors.Is(err, context.DeadlineExceeded) || (err == nil && checkCtx.Err() != nil):
				result.Status = healthStatusError
				result.Detail = "timeout"
			case errors.Is(err, context.Canceled):
				result.Status = healthStatusError
				result.Detail = "cancelled"
			default:
				result.Status = healthStatusDegraded
				result.Detail = err.Error()
			}

			mu.Lock()
			results[check.Name] = result
			mu.Unlock()
		}(check)
	}
	wg.Wait()
	return results
}

func sortedKeys(m map[string]checkResult) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
