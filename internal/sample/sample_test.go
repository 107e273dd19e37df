package sample

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/ringtap/internal/ble/protocol"
)

var capturedAt = time.Date(2026, 3, 14, 9, 26, 53, 589_793_238, time.UTC)

func TestNewKeepsOnlyItsOwnFieldGroup(t *testing.T) {
	frames := [][]byte{
		{0xA1, 0x01, 0x00, 0x64, 0x00, 0x5A, 0x00, 0x32, 0x00, 0x05},
		{0xA1, 0x02, 0x01, 0x00, 0x02, 0x00, 0x00, 0x10, 0x00, 0x20},
		{0xA1, 0x03, 0x01, 0x23, 0x04, 0x56, 0x07, 0x89, 0x00, 0x00},
	}

	var got []Fields
	for _, f := range frames {
		s, err := New(f, "walk", capturedAt)
		require.NoError(t, err)
		assert.Equal(t, "walk", s.Label)
		got = append(got, s.Flatten())
	}

	spo2 := got[0]
	require.NotNil(t, spo2.SpO2)
	assert.Equal(t, 100, *spo2.SpO2)
	assert.Equal(t, 90, *spo2.SpO2Max)
	assert.Equal(t, 50, *spo2.SpO2Min)
	assert.Equal(t, 5, *spo2.SpO2Diff)
	assert.Nil(t, spo2.PPG)
	assert.Nil(t, spo2.AccelX)

	ppg := got[1]
	require.NotNil(t, ppg.PPG)
	assert.Equal(t, 256, *ppg.PPG)
	assert.Equal(t, 512, *ppg.PPGMax)
	assert.Equal(t, 16, *ppg.PPGMin)
	assert.Equal(t, 32, *ppg.PPGDiff)
	assert.Nil(t, ppg.SpO2)
	assert.Nil(t, ppg.AccelY)

	accel := got[2]
	require.NotNil(t, accel.AccelX)
	assert.Equal(t, 1929, *accel.AccelX)
	assert.Equal(t, 291, *accel.AccelY)
	assert.Equal(t, 1110, *accel.AccelZ)
	assert.Nil(t, accel.SpO2)
	assert.Nil(t, accel.PPG)
	assert.Nil(t, accel.HeartRate)
}

func TestNewSkipsUnknownFrames(t *testing.T) {
	_, err := New([]byte{0x55, 0x01}, "x", capturedAt)
	assert.True(t, errors.Is(err, protocol.ErrUnknownHeader))
}

func TestRowFollowsColumns(t *testing.T) {
	s, err := New([]byte{0xA1, 0x01, 0x00, 0x64, 0x00, 0x5A}, "sleep", capturedAt)
	require.NoError(t, err)

	row := s.Row()
	require.Len(t, row, len(Columns))
	assert.Equal(t, "2026-03-14T09:26:53.589Z", row[0])
	assert.Equal(t, "sleep", row[1])
	assert.Equal(t, "a1010064005a", row[2])
	assert.Equal(t, "", row[3])
	assert.Equal(t, "100", row[4])
	assert.Equal(t, "90", row[5])
	assert.Equal(t, "", row[6], "spo2_min is beyond the frame")
	assert.Equal(t, "", row[14])
}

func TestRecordJSON(t *testing.T) {
	s, err := New([]byte{0xA1, 0x03, 0x08, 0x12, 0x00, 0x01, 0x00, 0x02}, "run", capturedAt)
	require.NoError(t, err)

	data, err := json.Marshal(s.ToRecord(json.RawMessage(`{"fw":"1.0"}`)))
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "2026-03-14T09:26:53.589Z", got["timestamp"])
	assert.Equal(t, "run", got["label"])
	assert.Equal(t, float64(-2030), got["accel_y"])
	assert.Equal(t, float64(1), got["accel_z"])
	assert.Equal(t, float64(2), got["accel_x"])
	assert.NotContains(t, got, "spo2")
	assert.NotContains(t, got, "heart_rate")
	assert.Equal(t, map[string]any{"fw": "1.0"}, got["metadata"])
}
