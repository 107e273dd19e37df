package delivery

import (
	"context"
	"database/sql"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/chaz8081/ringtap/internal/ble/protocol"
	"github.com/chaz8081/ringtap/internal/sample"
)

func testLog(t *testing.T) SessionLog {
	t.Helper()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var samples []sample.Sample
	for i, hexFrame := range []string{
		"a10100620064005a000a000000000000",
		"a10202000210010000c0000000000000",
		"a1031234567890abcdef000000000000",
	} {
		frame, _, err := protocol.Normalize(hexFrame)
		require.NoError(t, err)
		s, err := sample.New(frame, "walk", at.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		samples = append(samples, s)
	}
	return SessionLog{
		SessionID: "sess-1",
		DeviceID:  "AA:BB",
		Label:     "walk",
		StartedAt: at,
		EndedAt:   at.Add(time.Minute),
		Samples:   samples,
	}
}

func TestExportNameIsUnique(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	a := ExportName("Morning Walk", at, "csv")
	b := ExportName("Morning Walk", at, "csv")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "ringtap_morning-walk_20260301T120000.000Z_"), a)
	assert.True(t, strings.HasSuffix(a, ".csv"))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "session", slug(""))
	assert.Equal(t, "session", slug("***"))
	assert.Equal(t, "morning-walk", slug(" Morning Walk "))
	assert.Equal(t, "ab", slug("A/B"))
	assert.Len(t, slug(strings.Repeat("x", 100)), 40)
}

func TestCSVExport(t *testing.T) {
	dir := t.TempDir()
	log := testLog(t)

	path, err := (&CSVExporter{Dir: dir}).Export(context.Background(), log)
	require.NoError(t, err)
	assert.Equal(t, dir, filepath.Dir(path))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 4)
	assert.Equal(t, sample.Columns, rows[0])
	for i, s := range log.Samples {
		assert.Equal(t, s.Row(), rows[i+1])
	}

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCSVExportEmptyLog(t *testing.T) {
	path, err := (&CSVExporter{Dir: t.TempDir()}).Export(context.Background(), SessionLog{Label: "empty"})
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(sample.Columns, ",")+"\n", string(data))
}

func TestCSVExportUnwritableDir(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	_, err := (&CSVExporter{Dir: filepath.Join(file, "sub")}).Export(context.Background(), testLog(t))
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "csv", perr.Format)
}

func TestXLSXExport(t *testing.T) {
	log := testLog(t)
	path, err := (&XLSXExporter{Dir: t.TempDir()}).Export(context.Background(), log)
	require.NoError(t, err)

	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(xlsxSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, sample.Columns, rows[0])
	assert.Equal(t, log.Samples[0].Payload, rows[1][2])
	assert.Equal(t, "walk", rows[2][1])
}

func TestSQLiteExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive", "ringtap.db")
	exp := NewSQLiteExporter(path)
	defer exp.Close()

	log := testLog(t)
	where, err := exp.Export(context.Background(), log)
	require.NoError(t, err)
	assert.Equal(t, path+"#sess-1", where)

	// Re-exporting the same session replaces rows rather than duplicating.
	_, err = exp.Export(context.Background(), log)
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM samples WHERE session_id = ?`, "sess-1").Scan(&n))
	assert.Equal(t, 3, n)

	var device string
	require.NoError(t, db.QueryRow(`SELECT device_id FROM sessions WHERE id = ?`, "sess-1").Scan(&device))
	assert.Equal(t, "AA:BB", device)
}
