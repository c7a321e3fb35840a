package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/swerve/components/vision"
	"go.viam.com/swerve/logging"
	"go.viam.com/swerve/spatialmath"
	"go.viam.com/swerve/utils"
)

// localizer is a simulated camera pipeline. It captures the camera's true pose, adds noise in the
// camera frame, converts back to a robot pose and publishes after its latency.
type localizer struct {
	id      vision.SourceID
	mount   vision.CameraMount
	cfg     LocalizerConfig
	start   time.Time
	clk     clock.Clock
	mailbox *vision.Mailbox
	source  *vision.MonitoredSource
	logger  logging.Logger

	mu          sync.Mutex
	connected   bool
	nextCapture time.Time
	pending     []vision.Sample
	delivered   int
}

func newLocalizer(
	src vision.SourceConfig,
	cfg LocalizerConfig,
	start time.Time,
	clk clock.Clock,
	logger logging.Logger,
) (*localizer, error) {
	l := &localizer{
		id:          src.ID,
		mount:       src.Mount(),
		cfg:         cfg,
		start:       start,
		clk:         clk,
		mailbox:     vision.NewMailbox(),
		logger:      logger,
		connected:   true,
		nextCapture: start,
	}
	source, err := vision.NewMonitoredSource(l.mailbox, l.reconnect, src.Reacquire(), clk, logger)
	if err != nil {
		return nil, err
	}
	l.source = source
	return l, nil
}

func (l *localizer) inOutage(now time.Time) bool {
	if l.cfg.OutageMs <= 0 {
		return false
	}
	begin := l.start.Add(time.Duration(l.cfg.OutageStartMs) * time.Millisecond)
	end := begin.Add(time.Duration(l.cfg.OutageMs) * time.Millisecond)
	return !now.Before(begin) && now.Before(end)
}

func (l *localizer) reconnect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inOutage(l.clk.Now()) {
		return errors.Errorf("localizer %s is offline", l.id)
	}
	if !l.connected {
		l.logger.CInfof(ctx, "localizer %s reconnected", l.id)
	}
	l.connected = true
	return nil
}

func (l *localizer) step(now time.Time, truth spatialmath.Pose2D, rng *rand.Rand) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inOutage(now) {
		if l.connected {
			l.logger.Debugf("localizer %s lost its connection", l.id)
		}
		l.connected = false
		l.pending = nil
	}

	if !now.Before(l.nextCapture) {
		l.nextCapture = now.Add(l.cfg.period())
		if l.connected {
			l.pending = append(l.pending, l.capture(now, truth, rng))
		}
	}

	kept := l.pending[:0]
	for _, s := range l.pending {
		if s.Timestamp.After(now) {
			kept = append(kept, s)
			continue
		}
		l.mailbox.Publish(s)
		l.delivered++
	}
	l.pending = kept
}

func (l *localizer) capture(now time.Time, truth spatialmath.Pose2D, rng *rand.Rand) vision.Sample {
	noise := spatialmath.Pose2D{
		X:     rng.NormFloat64() * l.cfg.PositionNoiseM,
		Y:     rng.NormFloat64() * l.cfg.PositionNoiseM,
		Theta: utils.DegToRad(rng.NormFloat64() * l.cfg.HeadingNoiseDegs),
	}
	camera := l.mount.CameraPose(truth).TransformBy(noise)
	latency := l.cfg.latency()
	return vision.Sample{
		Pose:      l.mount.RobotPose(camera),
		Timestamp: now.Add(latency),
		Latency:   latency,
		Valid:     rng.Float64() >= l.cfg.InvalidRate,
		Source:    l.id,
	}
}

func (l *localizer) deliveredCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delivered
}
