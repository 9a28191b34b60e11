// Package connectivity turns periodic health probes of the remote API into
// online/offline transitions.
package connectivity

import (
	"context"
	"sync"
	"time"

	"secsync/internal/config"
	"secsync/internal/domain"
	"secsync/internal/models"

	"github.com/rs/zerolog"
)

// Monitor probes the remote API and reports transitions to a sink.
// A single successful probe marks the remote online; it is marked offline
// only after FailureThreshold consecutive failures.
type Monitor struct {
	pinger    domain.Pinger
	sink      domain.ConnectivitySink
	interval  time.Duration
	threshold int
	logger    zerolog.Logger

	mu       sync.Mutex
	online   bool
	failures int
}

func NewMonitor(pinger domain.Pinger, sink domain.ConnectivitySink, cfg config.ConnectivityConfig, initialOnline bool, logger *zerolog.Logger) *Monitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = models.DefaultProbeInterval
	}
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = models.DefaultProbeFailureThreshold
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "connectivity").Logger()
	}
	return &Monitor{
		pinger:    pinger,
		sink:      sink,
		interval:  interval,
		threshold: threshold,
		logger:    l,
		online:    initialOnline,
	}
}

// Start probes immediately and then on every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info().Dur("interval", m.interval).Int("failure_threshold", m.threshold).Msg("Connectivity monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Probe(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("Connectivity monitor stopped")
			return
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

// Probe runs one health check and returns the resulting state.
func (m *Monitor) Probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, m.interval)
	err := m.pinger.Ping(probeCtx)
	cancel()

	if ctx.Err() != nil {
		return m.Online()
	}

	m.mu.Lock()
	changed := false
	if err == nil {
		m.failures = 0
		if !m.online {
			m.online = true
			changed = true
		}
	} else {
		m.failures++
		m.logger.Debug().Err(err).Int("failures", m.failures).Msg("health probe failed")
		if m.online && m.failures >= m.threshold {
			m.online = false
			changed = true
		}
	}
	online := m.online
	m.mu.Unlock()

	if changed {
		if online {
			m.logger.Info().Msg("remote API reachable")
		} else {
			m.logger.Warn().Err(err).Msg("remote API unreachable")
		}
		m.sink.SetOnline(ctx, online)
	}
	return online
}

// SetOnline forces a state, e.g. from an operator request. The failure
// counter restarts so the next probes decide again.
func (m *Monitor) SetOnline(ctx context.Context, online bool) {
	m.mu.Lock()
	m.online = online
	m.failures = 0
	m.mu.Unlock()
	m.sink.SetOnline(ctx, online)
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}
