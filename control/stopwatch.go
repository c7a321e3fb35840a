package control

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Stopwatch measures how long a condition has held. It is either stopped, reading zero, or running
// since the first Start after the last Reset.
type Stopwatch struct {
	mu      sync.Mutex
	clk     clock.Clock
	started time.Time
	running bool
}

// NewStopwatch returns a stopped stopwatch reading from clk.
func NewStopwatch(clk clock.Clock) *Stopwatch {
	if clk == nil {
		clk = clock.New()
	}
	return &Stopwatch{clk: clk}
}

// Start begins timing. Calling Start on a running stopwatch does nothing.
func (s *Stopwatch) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		s.started = s.clk.Now()
		s.running = true
	}
}

// Reset stops the stopwatch and zeroes it.
func (s *Stopwatch) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.started = time.Time{}
}

// Running reports whether the stopwatch has been started since the last Reset.
func (s *Stopwatch) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Elapsed is the time since Start, or zero when stopped.
func (s *Stopwatch) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0
	}
	return s.clk.Since(s.started)
}
