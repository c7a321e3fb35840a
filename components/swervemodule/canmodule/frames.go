package canmodule

import (
	"encoding/binary"
	"math"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"

	"go.viam.com/swerve/components/swervemodule"
)

// Each module controller owns a block of 16 standard identifiers starting at
// baseID + 0x10*moduleID. Offsets inside the block:
const (
	offsetCmdDrive    uint32 = 0x0
	offsetCmdTurn     uint32 = 0x1
	offsetCmdSeed     uint32 = 0x2
	offsetTelemWheel  uint32 = 0x8
	offsetTelemSteer  uint32 = 0x9
	idBlockSize       uint32 = 0x10
	defaultBaseID     uint32 = 0x300
	maxStandardID     uint32 = 0x7FF
	frameLen                 = 8
	absoluteInvalidFl uint8  = 0x1
)

type frameIDs struct {
	drive, turn, seed, wheel, steer uint32
}

func newFrameIDs(baseID uint32, moduleID int) (frameIDs, error) {
	if moduleID < 0 {
		return frameIDs{}, errors.Errorf("module_id must be non-negative, got %d", moduleID)
	}
	block := baseID + idBlockSize*uint32(moduleID)
	if block+idBlockSize-1 > maxStandardID {
		return frameIDs{}, errors.Errorf("module_id %d with base id %#x leaves the standard id range", moduleID, baseID)
	}
	return frameIDs{
		drive: block + offsetCmdDrive,
		turn:  block + offsetCmdTurn,
		seed:  block + offsetCmdSeed,
		wheel: block + offsetTelemWheel,
		steer: block + offsetTelemSteer,
	}, nil
}

func putFloat(data []byte, v float64) {
	binary.LittleEndian.PutUint32(data, math.Float32bits(float32(v)))
}

func getFloat(data []byte) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(data)))
}

// driveFrame: byte 0 mode, bytes 1-4 value as float32.
func driveFrame(id uint32, cmd swervemodule.DriveCommand) canbus.Frame {
	data := make([]byte, frameLen)
	data[0] = byte(cmd.Mode)
	putFloat(data[1:5], cmd.Value)
	return canbus.Frame{ID: id, Data: data, Kind: canbus.SFF}
}

// angleFrame: bytes 0-3 angle in radians as float32.
func angleFrame(id uint32, angle float64) canbus.Frame {
	data := make([]byte, frameLen)
	putFloat(data[0:4], angle)
	return canbus.Frame{ID: id, Data: data, Kind: canbus.SFF}
}

type wheelTelemetry struct {
	position float64
	velocity float64
}

// wheel telemetry: bytes 0-3 position (m), bytes 4-7 velocity (m/s).
func parseWheelTelemetry(frame canbus.Frame) (wheelTelemetry, error) {
	if len(frame.Data) < frameLen {
		return wheelTelemetry{}, errors.Errorf("wheel telemetry frame %#x too short: %d bytes", frame.ID, len(frame.Data))
	}
	return wheelTelemetry{
		position: getFloat(frame.Data[0:4]),
		velocity: getFloat(frame.Data[4:8]),
	}, nil
}

type steerTelemetry struct {
	angle         float64
	absolute      float64
	absoluteValid bool
}

// steer telemetry: bytes 0-2 relative angle and bytes 3-5 absolute angle, each a signed 24 bit
// count of 1e-6 rad; byte 6 flags.
func parseSteerTelemetry(frame canbus.Frame) (steerTelemetry, error) {
	if len(frame.Data) < frameLen {
		return steerTelemetry{}, errors.Errorf("steer telemetry frame %#x too short: %d bytes", frame.ID, len(frame.Data))
	}
	return steerTelemetry{
		angle:         getMicroRad(frame.Data[0:3]),
		absolute:      getMicroRad(frame.Data[3:6]),
		absoluteValid: frame.Data[6]&absoluteInvalidFl == 0,
	}, nil
}

func getMicroRad(data []byte) float64 {
	raw := int32(uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16)
	// sign extend from 24 bits
	raw = raw << 8 >> 8
	return float64(raw) * 1e-6
}
