// Package sample holds the decoded telemetry record and its upload and
// tabular forms.
package sample

import (
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/chaz8081/ringtap/internal/ble/protocol"
)

// Sample is one decoded reading. It is immutable once created.
type Sample struct {
	Timestamp time.Time
	Label     string
	Payload   string // raw frame, hex encoded
	Reading   protocol.Reading
}

// New decodes frame into a Sample. Frames without a reading return the
// decoder's *protocol.SkipError.
func New(frame []byte, label string, capturedAt time.Time) (Sample, error) {
	r, err := protocol.Decode(frame)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		Timestamp: capturedAt.Truncate(time.Millisecond),
		Label:     label,
		Payload:   hex.EncodeToString(frame),
		Reading:   r,
	}, nil
}

// Columns is the stable column order of tabular exports.
var Columns = []string{
	"timestamp",
	"label",
	"payload",
	"heart_rate",
	"spo2",
	"spo2_max",
	"spo2_min",
	"spo2_diff",
	"ppg",
	"ppg_max",
	"ppg_min",
	"ppg_diff",
	"accel_x",
	"accel_y",
	"accel_z",
}

// Fields is the flattened optional value set of a Sample. At most one group
// is populated; the raw sensor stream never carries heart rate.
type Fields struct {
	HeartRate *int `json:"heart_rate,omitempty"`
	SpO2      *int `json:"spo2,omitempty"`
	SpO2Max   *int `json:"spo2_max,omitempty"`
	SpO2Min   *int `json:"spo2_min,omitempty"`
	SpO2Diff  *int `json:"spo2_diff,omitempty"`
	PPG       *int `json:"ppg,omitempty"`
	PPGMax    *int `json:"ppg_max,omitempty"`
	PPGMin    *int `json:"ppg_min,omitempty"`
	PPGDiff   *int `json:"ppg_diff,omitempty"`
	AccelX    *int `json:"accel_x,omitempty"`
	AccelY    *int `json:"accel_y,omitempty"`
	AccelZ    *int `json:"accel_z,omitempty"`
}

// Flatten spreads the Reading into its nullable columns.
func (s Sample) Flatten() Fields {
	var f Fields
	switch r := s.Reading.(type) {
	case protocol.SpO2Reading:
		f.SpO2, f.SpO2Max, f.SpO2Min, f.SpO2Diff = ptr(r.Value), ptr(r.Max), ptr(r.Min), ptr(r.Diff)
	case protocol.PPGReading:
		f.PPG, f.PPGMax, f.PPGMin, f.PPGDiff = ptr(r.Value), ptr(r.Max), ptr(r.Min), ptr(r.Diff)
	case protocol.AccelReading:
		f.AccelX, f.AccelY, f.AccelZ = ptr(r.X), ptr(r.Y), ptr(r.Z)
	}
	return f
}

// Row renders the Sample in Columns order. Absent values are empty strings.
func (s Sample) Row() []string {
	f := s.Flatten()
	return []string{
		s.Timestamp.UTC().Format(time.RFC3339Nano),
		s.Label,
		s.Payload,
		cell(f.HeartRate),
		cell(f.SpO2),
		cell(f.SpO2Max),
		cell(f.SpO2Min),
		cell(f.SpO2Diff),
		cell(f.PPG),
		cell(f.PPGMax),
		cell(f.PPGMin),
		cell(f.PPGDiff),
		cell(f.AccelX),
		cell(f.AccelY),
		cell(f.AccelZ),
	}
}

// Record is the upload form of a Sample.
type Record struct {
	Timestamp string `json:"timestamp"`
	Label     string `json:"label"`
	Payload   string `json:"payload"`
	Fields
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// ToRecord converts s for upload. meta may be nil.
func (s Sample) ToRecord(meta json.RawMessage) Record {
	return Record{
		Timestamp: s.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Label:     s.Label,
		Payload:   s.Payload,
		Fields:    s.Flatten(),
		Metadata:  meta,
	}
}

// Records converts a slice of samples.
func Records(samples []Sample, meta json.RawMessage) []Record {
	out := make([]Record, len(samples))
	for i, s := range samples {
		out[i] = s.ToRecord(meta)
	}
	return out
}

func ptr(f protocol.Field) *int {
	if !f.Valid {
		return nil
	}
	v := f.Value
	return &v
}

func cell(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
