// Package protocol implements the ring's command framing and the decoder for
// its notification frames.
package protocol

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
)

// FrameSize is the fixed length of every command frame.
const FrameSize = 16

// maxCommandBytes is the opcode + payload room left before the checksum byte.
const maxCommandBytes = FrameSize - 1

// Command payloads, as hex strings (opcode first).
const (
	QueryBatteryHex     = "03"
	SetUnitsMetricHex   = "0a0200"
	EnableRawSensorHex  = "a104"
	DisableRawSensorHex = "a102"
)

// ErrInvalidCommand is returned when a command hex string cannot be framed.
var ErrInvalidCommand = errors.New("protocol: invalid command")

var (
	queryBattery     = mustBuildCommand(QueryBatteryHex)
	setUnitsMetric   = mustBuildCommand(SetUnitsMetricHex)
	enableRawSensor  = mustBuildCommand(EnableRawSensorHex)
	disableRawSensor = mustBuildCommand(DisableRawSensorHex)
)

// QueryBattery returns a fresh query-battery frame.
func QueryBattery() []byte { return bytes.Clone(queryBattery) }

// SetUnitsMetric returns a fresh set-units-metric frame.
func SetUnitsMetric() []byte { return bytes.Clone(setUnitsMetric) }

// EnableRawSensor returns a fresh enable-raw-sensor-stream frame.
func EnableRawSensor() []byte { return bytes.Clone(enableRawSensor) }

// DisableRawSensor returns a fresh disable-raw-sensor-stream frame.
func DisableRawSensor() []byte { return bytes.Clone(disableRawSensor) }

// BuildCommand decodes opcodeHex, zero-pads it to 15 bytes and appends the
// checksum byte (sum of the first 15 bytes, mod 256).
//
// A fresh slice is returned on every call.
func BuildCommand(opcodeHex string) ([]byte, error) {
	if len(opcodeHex)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length hex %q", ErrInvalidCommand, opcodeHex)
	}
	payload, err := hex.DecodeString(opcodeHex)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	if len(payload) > maxCommandBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidCommand, len(payload), maxCommandBytes)
	}

	frame := make([]byte, FrameSize)
	copy(frame, payload)
	frame[FrameSize-1] = Checksum(frame[:maxCommandBytes])
	return frame, nil
}

// Checksum returns the low 8 bits of the sum of data.
func Checksum(data []byte) byte {
	var sum int
	for _, b := range data {
		sum += int(b)
	}
	return byte(sum & 0xFF)
}

// ValidFrame reports whether frame is a 16-byte frame with a matching checksum.
func ValidFrame(frame []byte) bool {
	if len(frame) != FrameSize {
		return false
	}
	return frame[FrameSize-1] == Checksum(frame[:maxCommandBytes])
}

func mustBuildCommand(opcodeHex string) []byte {
	frame, err := BuildCommand(opcodeHex)
	if err != nil {
		panic(err)
	}
	return frame
}
