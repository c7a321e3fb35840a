package sim

import (
	"testing"

	"go.viam.com/test"
)

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  Config
		err  string
	}{
		{name: "empty", cfg: Config{}},
		{name: "full", cfg: Config{
			WheelSlip: 0.05,
			Localizer: &LocalizerConfig{PeriodMs: 50, LatencyMs: 20, PositionNoiseM: 0.02, InvalidRate: 0.1},
			Ramp:      &RampConfig{PivotXM: 2, AxisDegs: 0, DegsPerM: 20},
		}},
		{name: "slip", cfg: Config{WheelSlip: -0.1}, err: "wheel_slip"},
		{name: "negative period", cfg: Config{Localizer: &LocalizerConfig{PeriodMs: -1}}, err: `"sim.localizer"`},
		{name: "invalid rate", cfg: Config{Localizer: &LocalizerConfig{InvalidRate: 1.5}}, err: "invalid_rate"},
		{name: "noise", cfg: Config{Localizer: &LocalizerConfig{HeadingNoiseDegs: -1}}, err: "noise"},
		{name: "ramp", cfg: Config{Ramp: &RampConfig{MaxTiltDegs: -3}}, err: `"sim.ramp"`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate("sim")
			if tc.err == "" {
				test.That(t, err, test.ShouldBeNil)
				return
			}
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.err)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	loc := &LocalizerConfig{}
	test.That(t, loc.period(), test.ShouldEqual, defaultLocalizerPeriod)
	test.That(t, loc.latency(), test.ShouldEqual, defaultLocalizerDelay)

	ramp := &RampConfig{AxisDegs: 90}
	test.That(t, ramp.slope(), test.ShouldEqual, defaultRampDegsPerM)
	test.That(t, ramp.maxTilt(), test.ShouldEqual, defaultRampMaxDegs)
	test.That(t, ramp.timeConst(), test.ShouldEqual, defaultRampTimeConst)
	test.That(t, ramp.axis().X, test.ShouldAlmostEqual, 0, 1e-12)
	test.That(t, ramp.axis().Y, test.ShouldAlmostEqual, 1, 1e-12)
}
