package rest

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthStatus is the outcome of one dependency check.
type HealthStatus string

const (
	HealthStatusPass HealthStatus = "pass"
	HealthStatusFail HealthStatus = "fail"
)

// CheckFunc checks one dependency.
type CheckFunc func(ctx context.Context) error

// HealthCheckResult is one dependency's readiness.
type HealthCheckResult struct {
	Status       HealthStatus `json:"status"`
	Error        string       `json:"error,omitempty"`
	ResponseTime string       `json:"response_time"`
}

// HealthResponse is the body of /health and /ready.
type HealthResponse struct {
	Status  HealthStatus                 `json:"status"`
	Version string                       `json:"version"`
	Uptime  string                       `json:"uptime"`
	Checks  map[string]HealthCheckResult `json:"checks,omitempty"`
}

// HealthService runs registered dependency checks for the readiness endpoint.
type HealthService struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	timeout   time.Duration
	version   string
	startTime time.Time
}

func NewHealthService(version string, timeout time.Duration) *HealthService {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &HealthService{
		checks:    make(map[string]CheckFunc),
		timeout:   timeout,
		version:   version,
		startTime: time.Now(),
	}
}

// Register adds a named readiness check.
func (s *HealthService) Register(name string, check CheckFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Check runs every registered check concurrently.
func (s *HealthService) Check(ctx context.Context) HealthResponse {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(s.checks))
	for k, v := range s.checks {
		checks[k] = v
	}
	s.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results := make([]HealthCheckResult, len(names))
	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, check CheckFunc) {
			defer wg.Done()
			start := time.Now()
			res := HealthCheckResult{Status: HealthStatusPass}
			if err := check(ctx); err != nil {
				res.Status = HealthStatusFail
				res.Error = err.Error()
			}
			res.ResponseTime = time.Since(start).String()
			results[i] = res
		}(i, checks[name])
	}
	wg.Wait()

	out := HealthResponse{
		Status:  HealthStatusPass,
		Version: s.version,
		Uptime:  time.Since(s.startTime).Truncate(time.Second).String(),
		Checks:  make(map[string]HealthCheckResult, len(names)),
	}
	for i, name := range names {
		out.Checks[name] = results[i]
		if results[i].Status == HealthStatusFail {
			out.Status = HealthStatusFail
		}
	}
	return out
}

// LivenessHandler reports the process is up without touching dependencies.
func (s *HealthService) LivenessHandler(h *baseHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.writeJSON(w, http.StatusOK, HealthResponse{
			Status:  HealthStatusPass,
			Version: s.version,
			Uptime:  time.Since(s.startTime).Truncate(time.Second).String(),
		})
	}
}

// ReadinessHandler returns 503 when any dependency check fails.
func (s *HealthService) ReadinessHandler(h *baseHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res := s.Check(r.Context())
		status := http.StatusOK
		if res.Status == HealthStatusFail {
			status = http.StatusServiceUnavailable
		}
		h.writeJSON(w, status, res)
	}
}
