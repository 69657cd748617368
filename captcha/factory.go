package captcha

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// NewSolver builds a solver for service without caching it.
func NewSolver(service Service, cfg SolverConfig, logger *zap.Logger) (Solver, error) {
	switch service {
	case ServiceTwoCaptcha:
		s, err := NewTwoCaptchaSolver(cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case ServiceAntiCaptcha:
		s, err := NewAntiCaptchaSolver(cfg, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedService, service)
	}
}

// Factory caches one solver per service and API key. Concurrent first
// calls for the same key share a single construction.
type Factory struct {
	logger *zap.Logger

	mu      sync.RWMutex
	solvers map[string]Solver
	group   singleflight.Group
}

func NewFactory(logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		logger:  logger.With(zap.String("component", "captcha_factory")),
		solvers: make(map[string]Solver),
	}
}

func solverKey(service Service, apiKey string) string {
	return string(service) + "-" + apiKey
}

// GetSolver returns the cached solver for service and cfg.APIKey, creating
// it on first use. Later calls with the same key ignore cfg.
func (f *Factory) GetSolver(service Service, cfg SolverConfig) (Solver, error) {
	key := solverKey(service, cfg.APIKey)

	f.mu.RLock()
	s, ok := f.solvers[key]
	f.mu.RUnlock()
	if ok {
		return s, nil
	}

	v, err, _ := f.group.Do(key, func() (any, error) {
		f.mu.RLock()
		s, ok := f.solvers[key]
		f.mu.RUnlock()
		if ok {
			return s, nil
		}

		s, err := NewSolver(service, cfg, f.logger)
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.solvers[key] = s
		f.mu.Unlock()
		f.logger.Debug("created captcha solver", zap.String("service", string(service)))
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Solver), nil
}

// ClearSolvers drops every cached solver.
func (f *Factory) ClearSolvers() {
	f.mu.Lock()
	f.solvers = make(map[string]Solver)
	f.mu.Unlock()
}

// Len returns the number of cached solvers.
func (f *Factory) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.solvers)
}
