// Package health tracks up/down state for the primary and fallback sinks
// and runs a single recovery probe per endpoint until it comes back.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/datanadhi/agent/internal/metrics"
)

// ProbeFunc reports whether endpoint is currently reachable. The monitor
// passes each call a context that expires after 2 seconds and controls the
// interval between attempts.
type ProbeFunc func(ctx context.Context, endpoint string) bool

// Monitor is a per-endpoint up/down tracker. The zero value is not usable;
// construct with New.
type Monitor struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	healthy map[string]bool
	probing map[string]bool
}

// New creates an empty Monitor. logger and m may both be nil.
func New(logger *slog.Logger, m *metrics.Metrics) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger:  logger,
		metrics: m,
		healthy: make(map[string]bool),
		probing: make(map[string]bool),
	}
}

func key(endpoint string, isFallback bool) string {
	if isFallback {
		return "fallback:" + endpoint
	}
	return endpoint
}

// IsUp reports whether endpoint is currently believed healthy. An endpoint
// never probed before is assumed up, matching the default-open stance of
// the upstream health tracker.
func (m *Monitor) IsUp(endpoint string, isFallback bool) bool {
	k := key(endpoint, isFallback)
	m.mu.Lock()
	defer m.mu.Unlock()
	healthy, known := m.healthy[k]
	return !known || healthy
}

// MarkDown records endpoint as unhealthy and, unless a probe loop for that
// endpoint is already running, starts one. The probe loop sleeps between
// attempts and exits as soon as probeFn reports success, flipping the
// endpoint back to healthy.
func (m *Monitor) MarkDown(endpoint string, isFallback bool, probeFn ProbeFunc) {
	k := key(endpoint, isFallback)

	m.mu.Lock()
	wasHealthy := m.healthy[k]
	alreadyProbing := m.probing[k]
	if wasHealthy || !m.hasEntry(k) {
		m.logger.Warn("endpoint marked down", "endpoint", k)
		if m.metrics != nil {
			m.metrics.HealthTransitions.WithLabelValues(k, "down").Inc()
		}
	}
	m.healthy[k] = false
	if !alreadyProbing {
		m.probing[k] = true
	}
	m.mu.Unlock()

	if alreadyProbing {
		return
	}

	go m.probeLoop(k, endpoint, isFallback, probeFn)
}

func (m *Monitor) hasEntry(k string) bool {
	_, ok := m.healthy[k]
	return ok
}

func (m *Monitor) probeLoop(k, endpoint string, isFallback bool, probeFn ProbeFunc) {
	const interval = 500 * time.Millisecond
	const probeTimeout = 2 * time.Second

	defer func() {
		m.mu.Lock()
		delete(m.probing, k)
		m.mu.Unlock()
	}()

	for {
		time.Sleep(interval)

		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		healthy := safeProbe(ctx, probeFn, endpoint)
		cancel()

		if healthy {
			m.mu.Lock()
			m.healthy[k] = true
			m.mu.Unlock()
			m.logger.Debug("endpoint recovered", "endpoint", k)
			if m.metrics != nil {
				m.metrics.HealthTransitions.WithLabelValues(k, "recovered").Inc()
			}
			return
		}
	}
}

// safeProbe contains a panicking probe function the same way the rule
// engine contains a panicking rule: a flaky check must never take down the
// monitor goroutine.
func safeProbe(ctx context.Context, probeFn ProbeFunc, endpoint string) (healthy bool) {
	defer func() {
		if recover() != nil {
			healthy = false
		}
	}()
	if probeFn == nil {
		return false
	}
	return probeFn(ctx, endpoint)
}
