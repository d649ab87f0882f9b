// Package models owns every inference handle: background loading, readiness and warmup.
package models

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/evidex/internal/domain"
	"github.com/kailas-cloud/evidex/internal/metrics"
)

// DefaultConcurrency bounds parallel brand sub-model loads.
const DefaultConcurrency = 3

// RoleStatus is a point-in-time view of one role.
type RoleStatus struct {
	State          State         `json:"state"`
	Loaded         bool          `json:"loaded"`
	Error          string        `json:"error,omitempty"`
	LoadDuration   time.Duration `json:"load_duration"`
	WarmupDuration time.Duration `json:"warmup_duration,omitempty"`
}

type entry struct {
	spec     Spec
	state    State
	model    Model
	err      error
	loadTime time.Duration
	warmup   time.Duration
}

// Registry is the single owner of model handles. Callers borrow handles read-only.
type Registry struct {
	loader      Loader
	critical    []Spec
	brands      []Spec
	concurrency int
	logger      *zap.Logger

	startOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}
	allDone   chan struct{}
	wg        sync.WaitGroup

	mu      sync.RWMutex
	entries map[Role]*entry
}

// New creates a Registry. Nothing is loaded until Start.
func New(loader Loader, critical, brands []Spec, logger *zap.Logger) *Registry {
	r := &Registry{
		loader:      loader,
		critical:    critical,
		brands:      brands,
		concurrency: DefaultConcurrency,
		logger:      logger,
		done:        make(chan struct{}),
		allDone:     make(chan struct{}),
		entries:     make(map[Role]*entry, len(critical)+len(brands)),
	}
	for _, s := range append(append([]Spec{}, critical...), brands...) {
		r.entries[s.Role] = &entry{spec: s, state: StateUninitialized}
		setStateGauge(s.Role, StateUninitialized)
	}
	return r
}

// WithConcurrency configures the brand sub-model worker pool size.
func (r *Registry) WithConcurrency(n int) *Registry {
	if n > 0 {
		r.concurrency = n
	}
	return r
}

// Start launches background loading once and returns immediately.
func (r *Registry) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.load(ctx)
		}()
	})
}

func (r *Registry) load(ctx context.Context) {
	defer close(r.allDone)
	start := time.Now()
	r.logger.Info("Loading models",
		zap.Int("critical", len(r.critical)),
		zap.Int("brand_models", len(r.brands)),
	)

	for _, s := range r.critical {
		r.loadOne(ctx, s)
	}
	r.doneOnce.Do(func() { close(r.done) })

	r.logger.Info("Critical models loaded",
		zap.Bool("ready", r.IsReady()),
		zap.Duration("duration", time.Since(start)),
	)

	r.loadPool(ctx, r.brands)

	r.logger.Info("Model loading finished",
		zap.Int("loaded", r.loadedCount()),
		zap.Int("total", len(r.entries)),
		zap.Duration("duration", time.Since(start)),
	)
}

// loadPool loads specs through a bounded worker pool.
func (r *Registry) loadPool(ctx context.Context, specs []Spec) {
	if len(specs) == 0 {
		return
	}
	jobs := make(chan Spec)
	var wg sync.WaitGroup
	for i := 0; i < r.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for s := range jobs {
				r.loadOne(ctx, s)
			}
		}()
	}
	for _, s := range specs {
		jobs <- s
	}
	close(jobs)
	wg.Wait()
}

func (r *Registry) loadOne(ctx context.Context, s Spec) {
	r.setState(s.Role, StateLoading, nil, nil, 0)

	if err := ctx.Err(); err != nil {
		r.setState(s.Role, StateFailed, nil, fmt.Errorf("load canceled: %w", err), 0)
		return
	}

	start := time.Now()
	m, err := r.loader.Load(ctx, s)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			r.logger.Warn("Model file not found",
				zap.String("role", string(s.Role)),
				zap.String("path", s.Path),
			)
		} else {
			r.logger.Error("Model load failed",
				zap.String("role", string(s.Role)),
				zap.String("path", s.Path),
				zap.Duration("duration", elapsed),
				zap.Error(err),
			)
		}
		r.setState(s.Role, StateFailed, nil, err, elapsed)
		return
	}

	metrics.ModelLoadDuration.WithLabelValues(string(s.Role)).Observe(elapsed.Seconds())
	r.logger.Debug("Model loaded",
		zap.String("role", string(s.Role)),
		zap.Duration("duration", elapsed),
	)
	r.setState(s.Role, StateReady, m, nil, elapsed)
}

func (r *Registry) setState(role Role, state State, m Model, err error, elapsed time.Duration) {
	r.mu.Lock()
	e := r.entries[role]
	e.state = state
	e.model = m
	e.err = err
	if elapsed > 0 {
		e.loadTime = elapsed
	}
	r.mu.Unlock()
	setStateGauge(role, state)
}

func setStateGauge(role Role, state State) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		metrics.ModelState.WithLabelValues(string(role), string(s)).Set(v)
	}
}

// Done is closed once every critical role has left LOADING.
func (r *Registry) Done() <-chan struct{} { return r.done }

// WaitForModels blocks until critical loading completes or the timeout elapses.
// Returns false on timeout or when a critical role failed.
func (r *Registry) WaitForModels(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.done:
		return r.IsReady()
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// AllDone is closed once every role, brand sub-models included, has left LOADING.
func (r *Registry) AllDone() <-chan struct{} { return r.allDone }

// WaitForAll blocks until every role has finished loading or the timeout elapses.
func (r *Registry) WaitForAll(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-r.allDone:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// IsReady reports whether every critical role is READY. Brand sub-models do not count.
func (r *Registry) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.critical {
		if r.entries[s.Role].state != StateReady {
			return false
		}
	}
	return true
}

// Status returns the state of every role.
func (r *Registry) Status() map[Role]RoleStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[Role]RoleStatus, len(r.entries))
	for role, e := range r.entries {
		st := RoleStatus{
			State:          e.state,
			Loaded:         e.state == StateReady,
			LoadDuration:   e.loadTime,
			WarmupDuration: e.warmup,
		}
		if e.err != nil {
			st.Error = e.err.Error()
		}
		out[role] = st
	}
	return out
}

// Roles returns every registered role, critical first, then brand models sorted.
func (r *Registry) Roles() []Role {
	roles := make([]Role, 0, len(r.critical)+len(r.brands))
	for _, s := range r.critical {
		roles = append(roles, s.Role)
	}
	brands := make([]Role, 0, len(r.brands))
	for _, s := range r.brands {
		brands = append(brands, s.Role)
	}
	sort.Slice(brands, func(i, j int) bool { return brands[i] < brands[j] })
	return append(roles, brands...)
}

func (r *Registry) loadedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if e.state == StateReady {
			n++
		}
	}
	return n
}

func (r *Registry) get(role Role) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[role]
	if !ok || e.state != StateReady || e.model == nil {
		return nil, domain.NewModelUnavailable(string(role))
	}
	return e.model, nil
}

// Segmenter returns the segmentation handle.
func (r *Registry) Segmenter() (Segmenter, error) {
	m, err := r.get(RoleSegmentation)
	if err != nil {
		return nil, err
	}
	s, ok := m.(Segmenter)
	if !ok {
		return nil, domain.NewModelUnavailable(string(RoleSegmentation))
	}
	return s, nil
}

// BrandClassifier returns the brand classifier handle.
func (r *Registry) BrandClassifier() (Classifier, error) {
	return r.classifier(RoleBrand)
}

// BrandModel returns the per-brand model classifier.
func (r *Registry) BrandModel(brand string) (Classifier, error) {
	return r.classifier(BrandModelRole(brand))
}

func (r *Registry) classifier(role Role) (Classifier, error) {
	m, err := r.get(role)
	if err != nil {
		return nil, err
	}
	c, ok := m.(Classifier)
	if !ok {
		return nil, domain.NewModelUnavailable(string(role))
	}
	return c, nil
}

// Extractor returns the narcotic feature extractor handle.
func (r *Registry) Extractor() (Extractor, error) {
	m, err := r.get(RoleNarcotic)
	if err != nil {
		return nil, err
	}
	x, ok := m.(Extractor)
	if !ok {
		return nil, domain.NewModelUnavailable(string(RoleNarcotic))
	}
	return x, nil
}

// Warmup runs a dummy input through every READY model and records per-role latency.
// Critical failures are returned; brand sub-model failures are only logged.
func (r *Registry) Warmup(ctx context.Context) (map[Role]time.Duration, error) {
	if !r.IsReady() {
		return nil, domain.NewModelUnavailable("critical models not loaded")
	}

	r.mu.RLock()
	type target struct {
		role     Role
		model    Model
		critical bool
	}
	var targets []target
	for _, s := range r.critical {
		targets = append(targets, target{role: s.Role, model: r.entries[s.Role].model, critical: true})
	}
	for _, s := range r.brands {
		if e := r.entries[s.Role]; e.state == StateReady {
			targets = append(targets, target{role: s.Role, model: e.model})
		}
	}
	r.mu.RUnlock()

	latencies := make(map[Role]time.Duration, len(targets))
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return latencies, fmt.Errorf("warmup: %w", err)
		}
		start := time.Now()
		err := t.model.Warmup(ctx)
		elapsed := time.Since(start)
		if err != nil {
			if t.critical {
				r.logger.Error("Warmup failed", zap.String("role", string(t.role)), zap.Error(err))
				return latencies, fmt.Errorf("warmup %s: %w", t.role, err)
			}
			r.logger.Warn("Warmup failed", zap.String("role", string(t.role)), zap.Error(err))
			continue
		}
		latencies[t.role] = elapsed
		metrics.WarmupDuration.WithLabelValues(string(t.role)).Set(elapsed.Seconds())

		r.mu.Lock()
		r.entries[t.role].warmup = elapsed
		r.mu.Unlock()
	}

	r.logger.Info("Warmup completed", zap.Int("models", len(latencies)))
	return latencies, nil
}

// Close waits for the loader and releases every handle. Call once at process exit.
func (r *Registry) Close() error {
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for role, e := range r.entries {
		if e.model == nil {
			continue
		}
		if err := e.model.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", role, err))
		}
		e.model = nil
		e.state = StateUninitialized
	}
	return errors.Join(errs...)
}
