// Package vision defines absolute pose observations produced by cameras or a fused localizer,
// and the non-blocking sources the drivetrain polls them from.
package vision

import (
	"context"
	"sync"
	"time"

	"go.viam.com/swerve/spatialmath"
)

// SourceID names a producer of pose samples.
type SourceID string

// Known sources.
const (
	LeftLocalizer  SourceID = "left_localizer"
	RightLocalizer SourceID = "right_localizer"
	FusedLocalizer SourceID = "fused_localizer"
)

// Sample is one absolute robot pose observation.
type Sample struct {
	// Pose is the robot's field pose as observed.
	Pose spatialmath.Pose2D
	// Timestamp is when the sample was published, on the control loop's clock.
	Timestamp time.Time
	// Latency is how long before Timestamp the image was captured.
	Latency time.Duration
	Valid   bool
	Source  SourceID
	// StdDevs, if set, overrides the estimator's configured x, y and heading
	// standard deviations for this sample only.
	StdDevs *[3]float64
}

// CaptureTime is when the observation was true.
func (s Sample) CaptureTime() time.Time {
	return s.Timestamp.Add(-s.Latency)
}

// Source yields pose samples without blocking. The second return is false when nothing new was
// published since the previous poll.
type Source interface {
	PollLatestSample(ctx context.Context) (Sample, bool)
}

// Mailbox is a Source fed by Publish from any goroutine. Only the latest sample is kept; older
// unread samples are overwritten.
type Mailbox struct {
	mu        sync.Mutex
	latest    Sample
	published uint64
	delivered uint64
}

var _ Source = (*Mailbox)(nil)

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Publish replaces the latest sample.
func (m *Mailbox) Publish(sample Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = sample
	m.published++
}

// PollLatestSample returns the latest sample if it has not been returned before.
func (m *Mailbox) PollLatestSample(ctx context.Context) (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.delivered == m.published {
		return Sample{}, false
	}
	m.delivered = m.published
	return m.latest, true
}

// CameraMount is where a camera sits on the robot, as a pose in the robot frame.
type CameraMount struct {
	Offset spatialmath.Pose2D
}

// RobotPose converts the camera's observed field pose into the robot's field pose.
func (m CameraMount) RobotPose(cameraPose spatialmath.Pose2D) spatialmath.Pose2D {
	return cameraPose.TransformBy(spatialmath.NewZeroPose().RelativeTo(m.Offset))
}

// CameraPose is the inverse of RobotPose.
func (m CameraMount) CameraPose(robotPose spatialmath.Pose2D) spatialmath.Pose2D {
	return robotPose.TransformBy(m.Offset)
}
