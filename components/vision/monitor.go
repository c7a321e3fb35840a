package vision

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/swerve/logging"
	"go.viam.com/swerve/utils"
)

// ReacquireState is where a MonitoredSource is in recovering a lost target.
type ReacquireState int

const (
	// Tracking means valid samples are arriving.
	Tracking ReacquireState = iota
	// Reacquiring means no valid sample arrived for too long and reconnects are being attempted.
	Reacquiring
	// GaveUp means every allowed reconnect failed. Samples still pass through and a valid one
	// returns the source to Tracking.
	GaveUp
)

func (s ReacquireState) String() string {
	switch s {
	case Tracking:
		return "tracking"
	case Reacquiring:
		return "reacquiring"
	case GaveUp:
		return "gave_up"
	}
	return "unknown"
}

// ReacquireConfig bounds the reconnect attempts of a MonitoredSource.
type ReacquireConfig struct {
	// StaleAfter is how long without a valid sample before reacquiring starts.
	StaleAfter  time.Duration
	// InitialWait is the wait between the first and second attempt. It doubles after every
	// attempt up to MaxWait.
	InitialWait time.Duration
	MaxWait     time.Duration
	MaxAttempts int
}

// DefaultReacquireConfig is used for fields left at zero.
var DefaultReacquireConfig = ReacquireConfig{
	StaleAfter:  time.Second,
	InitialWait: 200 * time.Millisecond,
	MaxWait:     2 * time.Second,
	MaxAttempts: 6,
}

// Validate ensures all parts of the config are valid.
func (cfg *ReacquireConfig) Validate(path string) error {
	if cfg.StaleAfter < 0 || cfg.InitialWait < 0 || cfg.MaxWait < 0 || cfg.MaxAttempts < 0 {
		return utils.NewConfigValidationError(path, errors.New("reacquire durations and attempts cannot be negative"))
	}
	if cfg.MaxWait != 0 && cfg.InitialWait > cfg.MaxWait {
		return utils.NewConfigValidationError(path, errors.New("initial wait cannot exceed max wait"))
	}
	return nil
}

func (cfg ReacquireConfig) withDefaults() ReacquireConfig {
	if cfg.StaleAfter == 0 {
		cfg.StaleAfter = DefaultReacquireConfig.StaleAfter
	}
	if cfg.InitialWait == 0 {
		cfg.InitialWait = DefaultReacquireConfig.InitialWait
	}
	if cfg.MaxWait == 0 {
		cfg.MaxWait = DefaultReacquireConfig.MaxWait
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultReacquireConfig.MaxAttempts
	}
	return cfg
}

// MonitoredSource wraps a Source and, when valid samples stop arriving, calls a reconnect
// function with exponentially increasing waits for a bounded number of attempts. All work happens
// inside PollLatestSample so it never blocks the caller.
type MonitoredSource struct {
	source    Source
	reconnect func(context.Context) error
	cfg       ReacquireConfig
	clk       clock.Clock
	logger    logging.Logger

	mu          sync.Mutex
	state       ReacquireState
	lastValid   time.Time
	attempts    int
	nextAttempt time.Time
	wait        time.Duration
}

var _ Source = (*MonitoredSource)(nil)

// NewMonitoredSource starts in Tracking as if a valid sample had just arrived.
func NewMonitoredSource(
	source Source,
	reconnect func(context.Context) error,
	cfg ReacquireConfig,
	clk clock.Clock,
	logger logging.Logger,
) (*MonitoredSource, error) {
	if source == nil || reconnect == nil {
		return nil, errors.New("monitored source needs a source and a reconnect function")
	}
	if err := cfg.Validate("reacquire"); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}
	return &MonitoredSource{
		source:    source,
		reconnect: reconnect,
		cfg:       cfg.withDefaults(),
		clk:       clk,
		logger:    logger,
		lastValid: clk.Now(),
	}, nil
}

// PollLatestSample forwards the wrapped source's samples and advances the reacquire state.
func (m *MonitoredSource) PollLatestSample(ctx context.Context) (Sample, bool) {
	sample, ok := m.source.PollLatestSample(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clk.Now()

	if ok && sample.Valid {
		if m.state != Tracking {
			m.logger.CInfof(ctx, "vision source %s reacquired after %d attempts", sample.Source, m.attempts)
		}
		m.state = Tracking
		m.lastValid = now
		m.attempts = 0
		return sample, ok
	}

	switch m.state {
	case Tracking:
		if now.Sub(m.lastValid) >= m.cfg.StaleAfter {
			m.logger.CWarnf(ctx, "no valid vision sample for %s, reacquiring", now.Sub(m.lastValid))
			m.state = Reacquiring
			m.attempts = 0
			m.wait = m.cfg.InitialWait
			m.nextAttempt = now
			m.tryReconnect(ctx, now)
		}
	case Reacquiring:
		if !now.Before(m.nextAttempt) {
			m.tryReconnect(ctx, now)
		}
	case GaveUp:
	}
	return sample, ok
}

func (m *MonitoredSource) tryReconnect(ctx context.Context, now time.Time) {
	if m.attempts >= m.cfg.MaxAttempts {
		m.logger.CErrorf(ctx, "giving up on vision source after %d reconnect attempts", m.attempts)
		m.state = GaveUp
		return
	}
	m.attempts++
	if err := m.reconnect(ctx); err != nil {
		m.logger.CDebugf(ctx, "vision reconnect attempt %d failed: %v", m.attempts, err)
	}
	m.nextAttempt = now.Add(m.wait)
	m.wait *= 2
	if m.wait > m.cfg.MaxWait {
		m.wait = m.cfg.MaxWait
	}
}

// State returns the reacquire state.
func (m *MonitoredSource) State() ReacquireState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempts returns the reconnect attempts made since the last valid sample.
func (m *MonitoredSource) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}
