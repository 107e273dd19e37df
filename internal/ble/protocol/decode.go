package protocol

import (
	"errors"
	"fmt"
)

// RawSensorMarker is the first byte of every raw sensor stream frame.
const RawSensorMarker = 0xA1

// Subtype selects the reading group carried by a raw sensor frame.
type Subtype byte

const (
	SubtypeSpO2  Subtype = 0x01
	SubtypePPG   Subtype = 0x02
	SubtypeAccel Subtype = 0x03
)

func (s Subtype) String() string {
	switch s {
	case SubtypeSpO2:
		return "spo2"
	case SubtypePPG:
		return "ppg"
	case SubtypeAccel:
		return "accel"
	default:
		return fmt.Sprintf("subtype(0x%02x)", byte(s))
	}
}

// SkipReason explains why a frame produced no reading.
type SkipReason string

const (
	EmptyFrame     SkipReason = "empty_frame"
	UnknownHeader  SkipReason = "unknown_header"
	UnknownSubtype SkipReason = "unknown_subtype"
)

// SkipError is returned by Decode for frames that carry no reading.
// It is never fatal to a session.
type SkipError struct {
	Reason SkipReason
	Header byte
	// Truncated is set when the frame ended before the subtype byte.
	Truncated bool
}

func (e *SkipError) Error() string {
	switch e.Reason {
	case UnknownHeader:
		return fmt.Sprintf("protocol: skip frame: unknown header 0x%02x", e.Header)
	case UnknownSubtype:
		if e.Truncated {
			return "protocol: skip frame: missing subtype byte"
		}
		return fmt.Sprintf("protocol: skip frame: unknown subtype 0x%02x", e.Header)
	default:
		return "protocol: skip frame: " + string(e.Reason)
	}
}

// Is matches SkipError values by Reason.
func (e *SkipError) Is(target error) bool {
	t, ok := target.(*SkipError)
	if !ok {
		return false
	}
	return e.Reason == t.Reason
}

// Sentinels for errors.Is.
var (
	ErrEmptyFrame     = &SkipError{Reason: EmptyFrame}
	ErrUnknownHeader  = &SkipError{Reason: UnknownHeader}
	ErrUnknownSubtype = &SkipError{Reason: UnknownSubtype}
)

// IsSkip reports whether err is a frame skip rather than a real failure.
func IsSkip(err error) bool {
	var s *SkipError
	return errors.As(err, &s)
}

// Field is one decoded value. Valid is false when the frame was too short
// to carry it.
type Field struct {
	Value int
	Valid bool
}

func (f Field) String() string {
	if !f.Valid {
		return "-"
	}
	return fmt.Sprintf("%d", f.Value)
}

// Reading is the decoded content of one frame. Exactly one of the concrete
// types below is produced per frame.
type Reading interface {
	Subtype() Subtype
}

// SpO2Reading is produced by subtype 0x01 frames.
type SpO2Reading struct {
	Value, Max, Min, Diff Field
}

// PPGReading is produced by subtype 0x02 frames.
type PPGReading struct {
	Value, Max, Min, Diff Field
}

// AccelReading is produced by subtype 0x03 frames, in raw signed 12-bit units.
type AccelReading struct {
	X, Y, Z Field
}

func (SpO2Reading) Subtype() Subtype  { return SubtypeSpO2 }
func (PPGReading) Subtype() Subtype   { return SubtypePPG }
func (AccelReading) Subtype() Subtype { return SubtypeAccel }

// Decode parses a raw sensor frame. Frames that carry no reading return a
// *SkipError. Truncated frames of a known subtype decode with the missing
// fields marked invalid.
func Decode(frame []byte) (Reading, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	if frame[0] != RawSensorMarker {
		return nil, &SkipError{Reason: UnknownHeader, Header: frame[0]}
	}
	if len(frame) < 2 {
		return nil, &SkipError{Reason: UnknownSubtype, Truncated: true}
	}

	switch Subtype(frame[1]) {
	case SubtypeSpO2:
		return SpO2Reading{
			Value: be16(frame, 2),
			Max:   u8(frame, 5),
			Min:   u8(frame, 7),
			Diff:  u8(frame, 9),
		}, nil
	case SubtypePPG:
		return PPGReading{
			Value: be16(frame, 2),
			Max:   be16(frame, 4),
			Min:   be16(frame, 6),
			Diff:  be16(frame, 8),
		}, nil
	case SubtypeAccel:
		return AccelReading{
			X: int12(frame, 6),
			Y: int12(frame, 2),
			Z: int12(frame, 4),
		}, nil
	default:
		return nil, &SkipError{Reason: UnknownSubtype, Header: frame[1]}
	}
}

// SignExtend12 interprets the low 12 bits of v as a two's complement value.
func SignExtend12(v int) int {
	v &= 0x0FFF
	if v&0x0800 != 0 {
		return v - 0x1000
	}
	return v
}

func u8(frame []byte, i int) Field {
	if i >= len(frame) {
		return Field{}
	}
	return Field{Value: int(frame[i]), Valid: true}
}

func be16(frame []byte, i int) Field {
	if i+1 >= len(frame) {
		return Field{}
	}
	return Field{Value: int(frame[i])<<8 | int(frame[i+1]), Valid: true}
}

// int12 reads a 12-bit value whose high nibble is the low nibble of frame[i]
// and whose low byte is frame[i+1].
func int12(frame []byte, i int) Field {
	if i+1 >= len(frame) {
		return Field{}
	}
	raw := int(frame[i]&0x0F)<<8 | int(frame[i+1])
	return Field{Value: SignExtend12(raw), Valid: true}
}

// Battery is the reply to the query-battery command.
type Battery struct {
	Level    int
	Charging bool
}

// ParseBattery decodes a query-battery reply. ok is false for any other frame.
func ParseBattery(frame []byte) (b Battery, ok bool) {
	if len(frame) < 3 || frame[0] != queryBattery[0] {
		return Battery{}, false
	}
	return Battery{Level: int(frame[1]), Charging: frame[2] != 0}, true
}
