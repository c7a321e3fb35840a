// Package fake is a fake AttitudeSensor for testing and simulation.
package fake

import (
	"context"
	"sync"

	"go.viam.com/swerve/components/movementsensor"
	"go.viam.com/swerve/utils"
)

// AttitudeSensor is an in memory gyro. The raw yaw is set by the test or simulator and the
// reported heading is offset by SetHeadingZero the way a real gyro is.
type AttitudeSensor struct {
	mu      sync.Mutex
	yaw     float64
	offset  float64
	pitch   float64
	roll    float64
	readErr error
}

var _ movementsensor.AttitudeSensor = (*AttitudeSensor)(nil)

// NewAttitudeSensor returns a level sensor facing heading zero.
func NewAttitudeSensor() *AttitudeSensor {
	return &AttitudeSensor{}
}

// Heading returns the zeroed yaw.
func (s *AttitudeSensor) Heading(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return 0, s.readErr
	}
	return utils.WrapAngle(s.yaw + s.offset), nil
}

// Tilt returns the pitch or roll.
func (s *AttitudeSensor) Tilt(ctx context.Context, axis movementsensor.Axis) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return 0, s.readErr
	}
	if axis == movementsensor.Roll {
		return s.roll, nil
	}
	return s.pitch, nil
}

// SetHeadingZero makes the current yaw read as heading.
func (s *AttitudeSensor) SetHeadingZero(ctx context.Context, heading float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = heading - s.yaw
	return nil
}

// SetYaw sets the raw, un-zeroed yaw.
func (s *AttitudeSensor) SetYaw(yaw float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yaw = yaw
}

// AddYaw rotates the raw yaw by delta.
func (s *AttitudeSensor) AddYaw(delta float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.yaw += delta
}

// SetTilt sets the pitch or roll.
func (s *AttitudeSensor) SetTilt(axis movementsensor.Axis, angle float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if axis == movementsensor.Roll {
		s.roll = angle
		return
	}
	s.pitch = angle
}

// SetReadError makes every subsequent read fail with err, or succeed again when err is nil.
func (s *AttitudeSensor) SetReadError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readErr = err
}
