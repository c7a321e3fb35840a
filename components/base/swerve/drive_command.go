package swerve

import (
	"context"
	"sync"
	"time"

	"go.viam.com/swerve/kinematics"
)

// DriveCommand holds a chassis velocity every cycle, optionally for a limited time. It is the
// control loop form of Drive for scripted runs.
type DriveCommand struct {
	drive         *Drivetrain
	speeds        kinematics.ChassisSpeeds
	fieldRelative bool
	holdHeading   bool
	duration      time.Duration

	mu      sync.Mutex
	started time.Time
}

// NewDriveCommand returns a command driving at speeds. With holdHeading the heading at the first
// cycle is held and speeds.Omega is ignored. A zero duration runs until interrupted.
func (d *Drivetrain) NewDriveCommand(
	speeds kinematics.ChassisSpeeds,
	fieldRelative, holdHeading bool,
	duration time.Duration,
) *DriveCommand {
	return &DriveCommand{
		drive:         d,
		speeds:        speeds,
		fieldRelative: fieldRelative,
		holdHeading:   holdHeading,
		duration:      duration,
	}
}

// Initialize starts the timer and captures the heading to hold.
func (c *DriveCommand) Initialize(ctx context.Context) error {
	c.mu.Lock()
	c.started = c.drive.clk.Now()
	c.mu.Unlock()
	if c.holdHeading {
		c.drive.headingHold.Enable(c.drive.EstimatedPose().Theta)
	}
	return nil
}

// Execute sends the velocity.
func (c *DriveCommand) Execute(ctx context.Context) error {
	return c.drive.Drive(ctx, c.speeds, c.fieldRelative)
}

// IsFinished reports whether the duration has passed.
func (c *DriveCommand) IsFinished() bool {
	if c.duration <= 0 {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.started.IsZero() && c.drive.clk.Since(c.started) >= c.duration
}

// End releases the heading and stops the wheels.
func (c *DriveCommand) End(ctx context.Context, interrupted bool) error {
	if c.holdHeading {
		c.drive.headingHold.Disable()
	}
	return c.drive.Stop(ctx)
}
