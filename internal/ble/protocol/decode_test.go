package protocol

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"
)

func TestDecodeSpO2(t *testing.T) {
	frame := []byte{0xA1, 0x01, 0x00, 0x64, 0x00, 0x5A, 0x00, 0x32, 0x00, 0x05}

	r, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	got, ok := r.(SpO2Reading)
	if !ok {
		t.Fatalf("Decode() = %T, want SpO2Reading", r)
	}
	want := SpO2Reading{
		Value: Field{100, true},
		Max:   Field{90, true},
		Min:   Field{50, true},
		Diff:  Field{5, true},
	}
	if got != want {
		t.Errorf("Decode() = %+v, want %+v", got, want)
	}
}

func TestDecodePPG(t *testing.T) {
	frame := []byte{0xA1, 0x02, 0x12, 0x34, 0x00, 0xFF, 0x01, 0x00, 0xAB, 0xCD}

	r, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	got, ok := r.(PPGReading)
	if !ok {
		t.Fatalf("Decode() = %T, want PPGReading", r)
	}
	want := PPGReading{
		Value: Field{0x1234, true},
		Max:   Field{0x00FF, true},
		Min:   Field{0x0100, true},
		Diff:  Field{0xABCD, true},
	}
	if got != want {
		t.Errorf("Decode() = %+v, want %+v", got, want)
	}
}

func TestDecodeAccel(t *testing.T) {
	frame := []byte{0xA1, 0x03, 0x01, 0x23, 0x04, 0x56, 0x07, 0x89}

	r, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	got, ok := r.(AccelReading)
	if !ok {
		t.Fatalf("Decode() = %T, want AccelReading", r)
	}
	if got.Y != (Field{291, true}) {
		t.Errorf("Y = %v, want 291", got.Y)
	}
	if got.Z != (Field{1110, true}) {
		t.Errorf("Z = %v, want 1110", got.Z)
	}
	if got.X != (Field{1929, true}) {
		t.Errorf("X = %v, want 1929", got.X)
	}
}

func TestDecodeAccelNegative(t *testing.T) {
	frame := []byte{0xA1, 0x03, 0x08, 0x12, 0x0F, 0xFF, 0x08, 0x00}

	r, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	got := r.(AccelReading)
	if got.Y.Value != -2030 {
		t.Errorf("Y = %d, want -2030", got.Y.Value)
	}
	if got.Z.Value != -1 {
		t.Errorf("Z = %d, want -1", got.Z.Value)
	}
	if got.X.Value != -2048 {
		t.Errorf("X = %d, want -2048", got.X.Value)
	}
}

func TestSignExtend12(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0x000, 0},
		{0x123, 291},
		{0x7FF, 2047},
		{0x800, -2048},
		{0x812, -2030},
		{0xFFF, -1},
	}
	for _, tt := range tests {
		if got := SignExtend12(tt.in); got != tt.want {
			t.Errorf("SignExtend12(0x%03x) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDecodeTruncatedFramesMarkFieldsAbsent(t *testing.T) {
	r, err := Decode([]byte{0xA1, 0x01, 0x00, 0x61, 0x00, 0x5A})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	spo2 := r.(SpO2Reading)
	if !spo2.Value.Valid || spo2.Value.Value != 97 {
		t.Errorf("Value = %v, want 97", spo2.Value)
	}
	if !spo2.Max.Valid || spo2.Max.Value != 90 {
		t.Errorf("Max = %v, want 90", spo2.Max)
	}
	if spo2.Min.Valid || spo2.Diff.Valid {
		t.Errorf("Min/Diff should be absent for a 6-byte frame, got %v/%v", spo2.Min, spo2.Diff)
	}

	r, err = Decode([]byte{0xA1, 0x03, 0x01})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	accel := r.(AccelReading)
	if accel.X.Valid || accel.Y.Valid || accel.Z.Valid {
		t.Errorf("accel fields should all be absent, got %+v", accel)
	}

	r, err = Decode([]byte{0xA1, 0x02})
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if ppg := r.(PPGReading); ppg.Value.Valid {
		t.Errorf("PPG value should be absent, got %v", ppg.Value)
	}
}

func TestDecodeSkips(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"empty", nil, ErrEmptyFrame},
		{"empty slice", []byte{}, ErrEmptyFrame},
		{"battery reply", []byte{0x03, 0x50, 0x00}, ErrUnknownHeader},
		{"unknown header", []byte{0xA2, 0x01, 0x00, 0x64}, ErrUnknownHeader},
		{"unknown subtype", []byte{0xA1, 0x09, 0x00, 0x64}, ErrUnknownSubtype},
		{"marker only", []byte{0xA1}, ErrUnknownSubtype},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Decode(tt.frame)
			if r != nil {
				t.Errorf("Decode() reading = %+v, want nil", r)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("Decode() error = %v, want %v", err, tt.want)
			}
			if !IsSkip(err) {
				t.Errorf("IsSkip(%v) = false", err)
			}
		})
	}
}

func TestDecodeNeverPanicsOnShortFrames(t *testing.T) {
	full := []byte{0xA1, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09}
	for _, sub := range []byte{0x01, 0x02, 0x03, 0x04} {
		full[1] = sub
		for n := 0; n <= len(full); n++ {
			_, _ = Decode(full[:n])
		}
	}
}

func TestParseBattery(t *testing.T) {
	b, ok := ParseBattery([]byte{0x03, 0x4B, 0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0x4F})
	if !ok {
		t.Fatal("ParseBattery() ok = false")
	}
	if b.Level != 75 || !b.Charging {
		t.Errorf("ParseBattery() = %+v, want {75 true}", b)
	}
	if _, ok := ParseBattery([]byte{0xA1, 0x01, 0x00}); ok {
		t.Error("ParseBattery() accepted a raw sensor frame")
	}
}

func TestNormalize(t *testing.T) {
	raw := []byte{0xA1, 0x01, 0x00, 0x64}
	tests := []struct {
		name      string
		in        any
		want      []byte
		wantLossy bool
	}{
		{"raw bytes", raw, raw, false},
		{"hex lower", "a1010064", raw, false},
		{"hex upper", "A1010064", raw, false},
		{"base64", base64.StdEncoding.EncodeToString(raw), raw, false},
		{"odd hex falls to salvage", "a101006", []byte{0xA1, 0x01, 0x00}, true},
		{"separated hex", "a1:01:00:64", raw, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, lossy, err := Normalize(tt.in)
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("Normalize() = %x, want %x", got, tt.want)
			}
			if lossy != tt.wantLossy {
				t.Errorf("Normalize() lossy = %v, want %v", lossy, tt.wantLossy)
			}
		})
	}

	if _, _, err := Normalize(42); err == nil {
		t.Error("Normalize(int) should fail")
	}
}

func TestSkipErrorMessages(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  string
	}{
		{"empty", nil, "protocol: skip frame: empty_frame"},
		{"unknown header", []byte{0x55, 0x01}, "protocol: skip frame: unknown header 0x55"},
		{"unknown subtype", []byte{0xA1, 0x09}, "protocol: skip frame: unknown subtype 0x09"},
		{"marker only", []byte{0xA1}, "protocol: skip frame: missing subtype byte"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.frame)
			if err == nil {
				t.Fatal("Decode() error = nil")
			}
			if got := err.Error(); got != tt.want {
				t.Errorf("Decode() error = %q, want %q", got, tt.want)
			}
		})
	}
}
