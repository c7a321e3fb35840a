package control

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
)

func TestPIDConfig(t *testing.T) {
	for _, tc := range []struct {
		cfg PIDConfig
		err string
	}{
		{PIDConfig{Kp: 1}, ""},
		{PIDConfig{Ki: 0.1, IntegralLimit: 2}, ""},
		{PIDConfig{}, "at least one of kp, ki or kd"},
		{PIDConfig{Kp: 1, OutputLimit: -1}, "cannot be negative"},
	} {
		_, err := NewPID(tc.cfg)
		if tc.err == "" {
			test.That(t, err, test.ShouldBeNil)
		} else {
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.err)
		}
	}
}

func TestPIDCalculate(t *testing.T) {
	dt := 20 * time.Millisecond

	t.Run("proportional", func(t *testing.T) {
		pid, err := NewPID(PIDConfig{Kp: 2})
		test.That(t, err, test.ShouldBeNil)
		pid.SetSetpoint(1)
		test.That(t, pid.Calculate(0.25, dt), test.ShouldAlmostEqual, 1.5)
		test.That(t, pid.Setpoint(), test.ShouldEqual, 1.)
	})

	t.Run("integral accumulates and is bounded", func(t *testing.T) {
		pid, err := NewPID(PIDConfig{Ki: 1, IntegralLimit: 0.05})
		test.That(t, err, test.ShouldBeNil)
		pid.SetSetpoint(1)
		test.That(t, pid.Calculate(0, dt), test.ShouldAlmostEqual, 0.02)
		test.That(t, pid.Calculate(0, dt), test.ShouldAlmostEqual, 0.04)
		test.That(t, pid.Calculate(0, dt), test.ShouldAlmostEqual, 0.05)
		test.That(t, pid.Calculate(0, dt), test.ShouldAlmostEqual, 0.05)
		pid.Reset()
		test.That(t, pid.Calculate(0, dt), test.ShouldAlmostEqual, 0.02)
	})

	t.Run("derivative skips the first sample", func(t *testing.T) {
		pid, err := NewPID(PIDConfig{Kd: 0.1})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pid.Calculate(1, dt), test.ShouldEqual, 0.)
		// error went from -1 to -2 over 20ms
		test.That(t, pid.Calculate(2, dt), test.ShouldAlmostEqual, -5)
	})

	t.Run("output limit", func(t *testing.T) {
		pid, err := NewPID(PIDConfig{Kp: 10, OutputLimit: 3})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pid.Calculate(5, dt), test.ShouldEqual, -3.)
		test.That(t, pid.Calculate(-5, dt), test.ShouldEqual, 3.)
	})

	t.Run("continuous input takes the short way", func(t *testing.T) {
		pid, err := NewPID(PIDConfig{Kp: 1})
		test.That(t, err, test.ShouldBeNil)
		pid.EnableContinuousInput(-math.Pi, math.Pi)
		pid.SetSetpoint(3)
		// from -3 the short way to 3 is clockwise, through ±π
		out := pid.Calculate(-3, dt)
		test.That(t, out, test.ShouldAlmostEqual, 6-2*math.Pi, 1e-9)
		test.That(t, pid.Calculate(3.005, dt), test.ShouldAlmostEqual, -0.005, 1e-9)
	})

	t.Run("set gains", func(t *testing.T) {
		pid, err := NewPID(PIDConfig{Kp: 1})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pid.SetGains(PIDConfig{}), test.ShouldNotBeNil)
		test.That(t, pid.SetGains(PIDConfig{Kp: 4}), test.ShouldBeNil)
		test.That(t, pid.Gains().Kp, test.ShouldEqual, 4.)
		test.That(t, pid.Calculate(-1, dt), test.ShouldAlmostEqual, 4)
	})
}

func TestMovingAverage(t *testing.T) {
	_, err := NewMovingAverage(0)
	test.That(t, err, test.ShouldNotBeNil)

	f, err := NewMovingAverage(3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Next(3), test.ShouldAlmostEqual, 3)
	test.That(t, f.Next(6), test.ShouldAlmostEqual, 4.5)
	test.That(t, f.Next(9), test.ShouldAlmostEqual, 6)
	test.That(t, f.Next(12), test.ShouldAlmostEqual, 9)
	f.Reset()
	test.That(t, f.Next(1), test.ShouldAlmostEqual, 1)
}

func TestStopwatch(t *testing.T) {
	clk := clock.NewMock()
	sw := NewStopwatch(clk)
	test.That(t, sw.Running(), test.ShouldBeFalse)
	test.That(t, sw.Elapsed(), test.ShouldEqual, time.Duration(0))

	sw.Start()
	clk.Add(time.Second)
	sw.Start()
	clk.Add(500 * time.Millisecond)
	test.That(t, sw.Elapsed(), test.ShouldEqual, 1500*time.Millisecond)

	sw.Reset()
	test.That(t, sw.Running(), test.ShouldBeFalse)
	test.That(t, sw.Elapsed(), test.ShouldEqual, time.Duration(0))
}
