// Package poseestimator fuses gyro heading and wheel odometry with latency-compensated vision
// observations into a single field pose estimate.
//
// Dead-reckoning runs every control cycle and is never skipped. Vision samples are compared with
// the dead-reckoned pose at their capture time, looked up in a short pose history, and the
// resulting correction is scaled by a steady-state Kalman gain and carried rigidly forward to the
// present. Heading corrections move a gyro offset rather than the gyro itself, so the estimate's
// heading always equals the latest gyro reading plus that offset.
package poseestimator

import (
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/swerve/components/vision"
	"go.viam.com/swerve/kinematics"
	"go.viam.com/swerve/logging"
	"go.viam.com/swerve/spatialmath"
	"go.viam.com/swerve/utils"
)

// Config holds the estimator's confidence model.
type Config struct {
	// StateStdDevs is the odometry standard deviation in x (m), y (m) and heading (rad).
	StateStdDevs [3]float64
	// VisionStdDevs is the default vision standard deviation in x (m), y (m) and heading (rad).
	// A large heading value keeps vision from fighting the gyro.
	VisionStdDevs [3]float64
	// HistoryWindow is how far back vision samples can be applied.
	HistoryWindow time.Duration
}

// DefaultConfig trusts vision less than odometry and much less for heading.
func DefaultConfig() Config {
	return Config{
		StateStdDevs:  [3]float64{0.1, 0.1, 0.1},
		VisionStdDevs: [3]float64{0.9, 0.9, 2.0},
		HistoryWindow: 1500 * time.Millisecond,
	}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	for i := 0; i < 3; i++ {
		if cfg.StateStdDevs[i] < 0 {
			return utils.NewConfigValidationError(path, errors.New("state std devs cannot be negative"))
		}
		if cfg.VisionStdDevs[i] <= 0 {
			return utils.NewConfigValidationError(path, errors.New("vision std devs must be positive"))
		}
	}
	if cfg.HistoryWindow <= 0 {
		return utils.NewConfigValidationFieldRequiredError(path, "history_window")
	}
	return nil
}

// Stats counts what happened to vision samples. It is for diagnostics only.
type Stats struct {
	Applied uint64
	Invalid uint64
	Stale   uint64
}

// Estimator owns the robot's field pose.
type Estimator struct {
	kin    *kinematics.Kinematics
	cfg    Config
	gain   *mat.DiagDense
	logger logging.Logger

	mu             sync.Mutex
	pose           spatialmath.Pose2D
	gyroOffset     float64
	prevGyro       float64
	prevPositions  []kinematics.ModulePosition
	history        *poseHistory
	lastCorrection time.Time
	stats          Stats
}

// New starts an estimator at initialPose. gyroHeading and positions are the sensor readings taken
// at now; vision captured before now is ignored.
func New(
	kin *kinematics.Kinematics,
	cfg Config,
	initialPose spatialmath.Pose2D,
	gyroHeading float64,
	positions []kinematics.ModulePosition,
	now time.Time,
	logger logging.Logger,
) (*Estimator, error) {
	if kin == nil {
		return nil, errors.New("pose estimator needs kinematics")
	}
	if err := cfg.Validate("pose_estimator"); err != nil {
		return nil, err
	}
	e := &Estimator{
		kin:     kin,
		cfg:     cfg,
		gain:    steadyStateGain(cfg.StateStdDevs, cfg.VisionStdDevs),
		logger:  logger,
		history: newPoseHistory(cfg.HistoryWindow),
	}
	if err := e.ResetPose(initialPose, gyroHeading, positions, now); err != nil {
		return nil, err
	}
	return e, nil
}

// ResetPose overwrites the estimate. The caller must reset the gyro's heading reference at the
// same time, and pass the readings taken after that reset.
func (e *Estimator) ResetPose(
	pose spatialmath.Pose2D,
	gyroHeading float64,
	positions []kinematics.ModulePosition,
	now time.Time,
) error {
	if len(positions) != e.kin.Geometry().Len() {
		return errors.Errorf("expected %d module positions but got %d", e.kin.Geometry().Len(), len(positions))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pose = spatialmath.NewPose2D(pose.Point(), pose.Theta)
	e.gyroOffset = utils.WrapAngle(pose.Theta - gyroHeading)
	e.prevGyro = gyroHeading
	e.prevPositions = append(e.prevPositions[:0], positions...)
	e.history.reset(now, e.pose)
	e.lastCorrection = now
	e.logger.Infof("pose reset to %v", e.pose)
	return nil
}

// Update dead-reckons from the previous readings to these ones and returns the new estimate.
func (e *Estimator) Update(now time.Time, gyroHeading float64, positions []kinematics.ModulePosition) (spatialmath.Pose2D, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	deltas, err := kinematics.PositionDeltas(e.prevPositions, positions)
	if err != nil {
		return e.pose, err
	}
	twist, err := e.kin.ForwardDisplacement(deltas)
	if err != nil {
		return e.pose, err
	}
	// the gyro is authoritative for rotation
	twist.Dtheta = utils.AngleDiff(gyroHeading, e.prevGyro)

	next := e.pose.Exp(twist)
	next.Theta = utils.WrapAngle(gyroHeading + e.gyroOffset)

	e.pose = next
	e.prevGyro = gyroHeading
	e.prevPositions = append(e.prevPositions[:0], positions...)
	e.history.add(now, next)
	return next, nil
}

// AddVisionSample applies an absolute observation. It returns whether the sample changed the
// estimate; invalid or non-finite samples and samples captured before the last correction or
// outside the pose history are dropped.
func (e *Estimator) AddVisionSample(sample vision.Sample) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !sample.Valid || !finitePose(sample.Pose) {
		e.stats.Invalid++
		return false
	}
	capture := sample.CaptureTime()
	if !capture.After(e.lastCorrection) {
		e.stats.Stale++
		e.logger.Debugw("dropping stale vision sample", "source", sample.Source, "capture", capture, "last", e.lastCorrection)
		return false
	}
	sampled, ok := e.history.sample(capture)
	if !ok {
		e.stats.Stale++
		e.logger.Debugw("vision sample outside pose history", "source", sample.Source, "capture", capture)
		return false
	}

	gain := e.gain
	if sample.StdDevs != nil {
		gain = steadyStateGain(e.cfg.StateStdDevs, *sample.StdDevs)
	}
	dx, dy, dtheta := applyGain(gain,
		sample.Pose.X-sampled.X,
		sample.Pose.Y-sampled.Y,
		utils.AngleDiff(sample.Pose.Theta, sampled.Theta),
	)
	corrected := spatialmath.Pose2D{
		X:     sampled.X + dx,
		Y:     sampled.Y + dy,
		Theta: utils.WrapAngle(sampled.Theta + dtheta),
	}

	carry := func(p spatialmath.Pose2D) spatialmath.Pose2D {
		return corrected.TransformBy(p.RelativeTo(sampled))
	}
	e.pose = carry(e.pose)
	// anchor the capture time so poses between it and the previous entry interpolate from the
	// corrected pose
	e.history.insert(capture, sampled)
	e.history.rebase(capture, carry)
	e.gyroOffset = utils.WrapAngle(e.gyroOffset + dtheta)
	e.lastCorrection = capture
	e.stats.Applied++
	return true
}

// Pose returns a copy of the current estimate.
func (e *Estimator) Pose() spatialmath.Pose2D {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pose
}

// Stats returns the vision sample counters.
func (e *Estimator) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// GyroOffset is the heading the estimate adds to the gyro reading.
func (e *Estimator) GyroOffset() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gyroOffset
}

func finitePose(p spatialmath.Pose2D) bool {
	for _, v := range []float64{p.X, p.Y, p.Theta} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
