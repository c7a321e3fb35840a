package vision

import (
	"time"

	"github.com/golang/geo/r2"

	"go.viam.com/swerve/spatialmath"
	"go.viam.com/swerve/utils"
)

// SourceConfig describes one localizer: where its camera sits on the robot and how a lost
// target is reacquired.
type SourceConfig struct {
	ID SourceID `json:"id"`

	CameraXM        float64 `json:"camera_x_m,omitempty"`
	CameraYM        float64 `json:"camera_y_m,omitempty"`
	CameraThetaDegs float64 `json:"camera_theta_degs,omitempty"`

	StaleAfterMs  int `json:"stale_after_ms,omitempty"`
	InitialWaitMs int `json:"initial_wait_ms,omitempty"`
	MaxWaitMs     int `json:"max_wait_ms,omitempty"`
	MaxAttempts   int `json:"max_attempts,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *SourceConfig) Validate(path string) error {
	if cfg.ID == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "id")
	}
	reacquire := cfg.Reacquire()
	return reacquire.Validate(path)
}

// Mount is the camera's pose on the robot.
func (cfg *SourceConfig) Mount() CameraMount {
	return CameraMount{
		Offset: spatialmath.NewPose2D(r2.Point{X: cfg.CameraXM, Y: cfg.CameraYM}, utils.DegToRad(cfg.CameraThetaDegs)),
	}
}

// Reacquire converts the reacquire settings. Zero fields take DefaultReacquireConfig.
func (cfg *SourceConfig) Reacquire() ReacquireConfig {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return ReacquireConfig{
		StaleAfter:  ms(cfg.StaleAfterMs),
		InitialWait: ms(cfg.InitialWaitMs),
		MaxWait:     ms(cfg.MaxWaitMs),
		MaxAttempts: cfg.MaxAttempts,
	}
}
