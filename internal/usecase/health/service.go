// Package health reports liveness and owns the readiness gate: models loaded,
// router vocabulary valid and the initial warmup done.
package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/evidex/internal/domain"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
	// Unhealthy indicates total failure.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckLoading indicates a component that is still starting.
	CheckLoading CheckResult = "loading"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// ReadyReport answers the readiness check.
type ReadyReport struct {
	Ready  bool            `json:"ready"`
	Models map[string]bool `json:"models"`
}

// WarmupReport describes the last successful warmup.
type WarmupReport struct {
	Done      bool             `json:"done"`
	At        time.Time        `json:"at,omitempty"`
	Latencies map[string]int64 `json:"latencies_ms,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// RouterReport describes the router vocabulary check.
type RouterReport struct {
	Checked bool   `json:"checked"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
}

// StatusReport is the full service status.
type StatusReport struct {
	ServiceReady bool                   `json:"service_ready"`
	Models       map[string]ModelReport `json:"models"`
	Warmup       WarmupReport           `json:"warmup"`
	Router       RouterReport           `json:"router"`
}

// ModelReport is one role in the status report.
type ModelReport struct {
	State          string `json:"state"`
	Loaded         bool   `json:"loaded"`
	Error          string `json:"error,omitempty"`
	LoadDurationMs int64  `json:"load_duration_ms"`
	WarmupMs       int64  `json:"warmup_ms,omitempty"`
}

// Service coordinates health checks and the readiness gate.
type Service struct {
	db     DBPinger
	models ModelRegistry
	router RouterValidator
	logger *zap.Logger

	mu     sync.RWMutex
	warmup WarmupReport
	route  RouterReport
}

// New creates a Service.
func New(db DBPinger, models ModelRegistry, router RouterValidator, logger *zap.Logger) *Service {
	return &Service{db: db, models: models, router: router, logger: logger}
}

// Check runs health checks against all components.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if err := s.db.Ping(ctx); err != nil {
		checks["database"] = CheckError
	} else {
		checks["database"] = CheckOK
	}

	switch {
	case s.ServiceReady():
		checks["models"] = CheckOK
	case s.anyFailed():
		checks["models"] = CheckError
	default:
		checks["models"] = CheckLoading
	}

	status := Healthy
	for _, v := range checks {
		if v != CheckOK {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}

// ServiceReady reports whether inference routes may be served.
func (s *Service) ServiceReady() bool {
	if !s.models.IsReady() {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.warmup.Done && s.route.Valid
}

// Ready returns the readiness payload.
func (s *Service) Ready() ReadyReport {
	st := s.models.Status()
	m := make(map[string]bool, len(st))
	for role, rs := range st {
		m[string(role)] = rs.Loaded
	}
	return ReadyReport{Ready: s.ServiceReady(), Models: m}
}

// Status returns the full per-role, warmup and router report.
func (s *Service) Status() StatusReport {
	st := s.models.Status()
	m := make(map[string]ModelReport, len(st))
	for role, rs := range st {
		m[string(role)] = ModelReport{
			State:          string(rs.State),
			Loaded:         rs.Loaded,
			Error:          rs.Error,
			LoadDurationMs: rs.LoadDuration.Milliseconds(),
			WarmupMs:       rs.WarmupDuration.Milliseconds(),
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatusReport{
		ServiceReady: s.models.IsReady() && s.warmup.Done && s.route.Valid,
		Models:       m,
		Warmup:       s.warmup,
		Router:       s.route,
	}
}

// ValidateRouter checks the router vocabulary against the loaded segmentation model.
func (s *Service) ValidateRouter() error {
	seg, err := s.models.Segmenter()
	if err != nil {
		s.setRoute(RouterReport{Error: err.Error()})
		return fmt.Errorf("validate router: %w", err)
	}
	if err := s.router.Validate(seg.Classes()); err != nil {
		s.logger.Error("Router vocabulary mismatch", zap.Error(err))
		s.setRoute(RouterReport{Checked: true, Error: err.Error()})
		return err
	}
	s.setRoute(RouterReport{Checked: true, Valid: true})
	return nil
}

// Warmup runs every loaded model once. Refuses with ErrModelUnavailable until critical models are READY.
// The router is validated here when startup gave up waiting for the models before it could be.
func (s *Service) Warmup(ctx context.Context) (WarmupReport, error) {
	latencies, err := s.models.Warmup(ctx)
	if err != nil {
		s.mu.Lock()
		s.warmup.Error = err.Error()
		s.mu.Unlock()
		return WarmupReport{}, fmt.Errorf("warmup: %w", err)
	}

	s.mu.RLock()
	checked := s.route.Checked
	s.mu.RUnlock()
	if !checked {
		if err := s.ValidateRouter(); err != nil {
			s.mu.Lock()
			s.warmup.Error = err.Error()
			s.mu.Unlock()
			return WarmupReport{}, err
		}
	}

	ms := make(map[string]int64, len(latencies))
	for role, d := range latencies {
		ms[string(role)] = d.Milliseconds()
	}
	r := WarmupReport{Done: true, At: time.Now().UTC(), Latencies: ms}

	s.mu.Lock()
	s.warmup = r
	s.mu.Unlock()
	return r, nil
}

// Bootstrap waits for critical models, validates the router and optionally warms up.
// Meant to run in its own goroutine after the registry is started.
func (s *Service) Bootstrap(ctx context.Context, timeout time.Duration, warmup bool) error {
	if !s.models.WaitForModels(ctx, timeout) {
		s.logger.Error("Critical models not ready", zap.Duration("timeout", timeout))
		return domain.NewModelUnavailable("critical models not ready")
	}
	if err := s.ValidateRouter(); err != nil {
		return err
	}
	if !warmup {
		s.logger.Info("Startup warmup disabled, waiting for POST /warmup")
		return nil
	}
	r, err := s.Warmup(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("Service ready", zap.Int("warmed_models", len(r.Latencies)))
	return nil
}

func (s *Service) anyFailed() bool {
	for _, rs := range s.models.Status() {
		if rs.Error != "" && !rs.Loaded {
			return true
		}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.route.Checked && !s.route.Valid
}

func (s *Service) setRoute(r RouterReport) {
	s.mu.Lock()
	s.route = r
	s.mu.Unlock()
}
