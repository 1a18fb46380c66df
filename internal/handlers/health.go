package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	domain "github.com/customwear/api/internal/domain"
	"github.com/customwear/api/internal/services"
)

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	system services.SystemService
	build  services.BuildInfo
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthSystemService wires the dependency probes used by /readyz.
func WithHealthSystemService(svc services.SystemService) HealthOption {
	return func(h *HealthHandlers) {
		h.system = svc
	}
}

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(info services.BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock, mainly for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs HealthHandlers. Without a system service /readyz reports ok.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	return h
}

type healthResponse struct {
	Status        string                         `json:"status"`
	Version       string                         `json:"version,omitempty"`
	CommitSHA     string                         `json:"commit_sha,omitempty"`
	Environment   string                         `json:"environment,omitempty"`
	UptimeSeconds int64                          `json:"uptime_seconds"`
	Timestamp     string                         `json:"timestamp"`
	Checks        map[string]healthCheckResponse `json:"checks,omitempty"`
	Details       []string                       `json:"details,omitempty"`
}

type healthCheckResponse struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	CheckedAt string `json:"checked_at,omitempty"`
}

// Healthz reports process liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	writeJSONResponse(w, http.StatusOK, healthResponse{
		Status:        string(domain.HealthStatusOK),
		Version:       h.build.Version,
		CommitSHA:     h.build.CommitSHA,
		Environment:   h.build.Environment,
		UptimeSeconds: int64(now.Sub(h.build.StartedAt).Seconds()),
		Timestamp:     now.Format(time.RFC3339),
	})
}

// Readyz probes dependencies. Anything other than ok yields 503.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	if h.system == nil {
		h.Healthz(w, r)
		return
	}

	report, err := h.system.HealthReport(r.Context())
	if err != nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, healthResponse{
			Status:    string(domain.HealthStatusError),
			Timestamp: now.Format(time.RFC3339),
			Details:   []string{err.Error()},
		})
		return
	}

	resp := healthResponse{
		Status:        string(report.Status),
		Version:       firstNonBlank(report.Version, h.build.Version),
		CommitSHA:     firstNonBlank(report.CommitSHA, h.build.CommitSHA),
		Environment:   firstNonBlank(report.Environment, h.build.Environment),
		UptimeSeconds: int64(report.Uptime.Seconds()),
		Timestamp:     now.Format(time.RFC3339),
		Checks:        make(map[string]healthCheckResponse, len(report.Checks)),
	}
	if resp.Status == "" {
		resp.Status = string(domain.HealthStatusOK)
	}

	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		resp.Checks[name] = healthCheckResponse{
			Status:    string(check.Status),
			Detail:    check.Detail,
			Error:     check.Error,
			LatencyMS: check.Latency.Milliseconds(),
			CheckedAt: formatTime(check.CheckedAt),
		}
		if check.Status != domain.HealthStatusOK {
			reason := check.Error
			if reason == "" {
				reason = check.Detail
			}
			resp.Details = append(resp.Details, fmt.Sprintf("%s: %s", name, reason))
		}
	}

	status := http.StatusOK
	if report.Status != "" && report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, resp)
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
