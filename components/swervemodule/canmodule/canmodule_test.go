package canmodule

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/go-daq/canbus"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/swerve/components/swervemodule"
	"go.viam.com/swerve/logging"
)

type fakeSocket struct {
	mu        sync.Mutex
	sent      []canbus.Frame
	incoming  chan canbus.Frame
	closed    chan struct{}
	closeOnce sync.Once
	sendErr   error
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{incoming: make(chan canbus.Frame, 16), closed: make(chan struct{})}
}

func (s *fakeSocket) Send(frame canbus.Frame) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return 0, s.sendErr
	}
	s.sent = append(s.sent, frame)
	return len(frame.Data), nil
}

func (s *fakeSocket) Recv() (canbus.Frame, error) {
	select {
	case frame := <-s.incoming:
		return frame, nil
	case <-s.closed:
		return canbus.Frame{}, errors.New("socket closed")
	}
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) lastSent() canbus.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

func putMicroRad(data []byte, angle float64) {
	raw := int32(math.Round(angle * 1e6))
	data[0] = byte(raw)
	data[1] = byte(raw >> 8)
	data[2] = byte(raw >> 16)
}

func steerTelemetryFrame(id uint32, t steerTelemetry) canbus.Frame {
	data := make([]byte, frameLen)
	putMicroRad(data[0:3], t.angle)
	putMicroRad(data[3:6], t.absolute)
	if !t.absoluteValid {
		data[6] |= absoluteInvalidFl
	}
	return canbus.Frame{ID: id, Data: data, Kind: canbus.SFF}
}

func wheelTelemetryFrame(id uint32, t wheelTelemetry) canbus.Frame {
	data := make([]byte, frameLen)
	putFloat(data[0:4], t.position)
	putFloat(data[4:8], t.velocity)
	return canbus.Frame{ID: id, Data: data, Kind: canbus.SFF}
}

func TestFrameIDs(t *testing.T) {
	ids, err := newFrameIDs(defaultBaseID, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ids.drive, test.ShouldEqual, uint32(0x320))
	test.That(t, ids.turn, test.ShouldEqual, uint32(0x321))
	test.That(t, ids.wheel, test.ShouldEqual, uint32(0x328))

	_, err = newFrameIDs(defaultBaseID, 100)
	test.That(t, err, test.ShouldNotBeNil)

	conf := Config{ModuleID: -1}
	test.That(t, conf.Validate("fl"), test.ShouldNotBeNil)
	conf = Config{ModuleID: 3}
	test.That(t, conf.Validate("fl"), test.ShouldBeNil)
	test.That(t, conf.channel(), test.ShouldEqual, "can0")
}

func TestTelemetryEncoding(t *testing.T) {
	for _, angle := range []float64{0, 1.234567, -3.1, math.Pi - 1e-6} {
		frame := steerTelemetryFrame(0x329, steerTelemetry{angle: angle, absolute: -angle, absoluteValid: true})
		parsed, err := parseSteerTelemetry(frame)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed.angle, test.ShouldAlmostEqual, angle, 1e-6)
		test.That(t, parsed.absolute, test.ShouldAlmostEqual, -angle, 1e-6)
		test.That(t, parsed.absoluteValid, test.ShouldBeTrue)
	}

	_, err := parseWheelTelemetry(canbus.Frame{ID: 0x328, Data: []byte{1, 2}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestActuator(t *testing.T) {
	ctx := context.Background()
	ids, err := newFrameIDs(defaultBaseID, 0)
	test.That(t, err, test.ShouldBeNil)
	tx, rx := newFakeSocket(), newFakeSocket()
	a := newActuator("fl", ids, tx, rx, logging.NewTestLogger(t))

	t.Run("reads fail until telemetry arrives", func(t *testing.T) {
		_, err := a.Position(ctx)
		test.That(t, err, test.ShouldNotBeNil)
		_, err = a.AbsoluteAngle(ctx)
		test.That(t, errors.Is(err, swervemodule.ErrAbsoluteAngleUnavailable), test.ShouldBeTrue)
	})

	t.Run("telemetry is cached", func(t *testing.T) {
		rx.incoming <- wheelTelemetryFrame(ids.wheel, wheelTelemetry{position: 1.5, velocity: -0.25})
		rx.incoming <- steerTelemetryFrame(ids.steer, steerTelemetry{angle: 0.4, absolute: 1.2, absoluteValid: true})
		// frames for other modules are ignored
		rx.incoming <- wheelTelemetryFrame(ids.wheel+idBlockSize, wheelTelemetry{position: 99})

		testutils.WaitForAssertion(t, func(tb testing.TB) {
			abs, err := a.AbsoluteAngle(ctx)
			test.That(tb, err, test.ShouldBeNil)
			test.That(tb, abs, test.ShouldAlmostEqual, 1.2, 1e-6)
		})
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			pos, err := a.Position(ctx)
			test.That(tb, err, test.ShouldBeNil)
			test.That(tb, pos, test.ShouldAlmostEqual, 1.5, 1e-6)
		})
		vel, err := a.Velocity(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, vel, test.ShouldAlmostEqual, -0.25, 1e-6)
		angle, err := a.Angle(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, angle, test.ShouldAlmostEqual, 0.4, 1e-6)
	})

	t.Run("commands become frames", func(t *testing.T) {
		test.That(t, a.SetDriveCommand(ctx, swervemodule.DriveCommand{Mode: swervemodule.ClosedLoop, Value: 2.5}), test.ShouldBeNil)
		frame := tx.lastSent()
		test.That(t, frame.ID, test.ShouldEqual, ids.drive)
		test.That(t, frame.Data[0], test.ShouldEqual, byte(swervemodule.ClosedLoop))
		test.That(t, getFloat(frame.Data[1:5]), test.ShouldAlmostEqual, 2.5)

		test.That(t, a.SetTurnCommand(ctx, -1.25), test.ShouldBeNil)
		frame = tx.lastSent()
		test.That(t, frame.ID, test.ShouldEqual, ids.turn)
		test.That(t, getFloat(frame.Data[0:4]), test.ShouldAlmostEqual, -1.25)

		test.That(t, a.SeedAngle(ctx, 0.5), test.ShouldBeNil)
		test.That(t, tx.lastSent().ID, test.ShouldEqual, ids.seed)

		tx.mu.Lock()
		tx.sendErr = errors.New("no buffer space")
		tx.mu.Unlock()
		test.That(t, a.SetTurnCommand(ctx, 0), test.ShouldNotBeNil)
	})

	test.That(t, a.Close(ctx), test.ShouldBeNil)
	test.That(t, a.Close(ctx), test.ShouldBeNil)
}
