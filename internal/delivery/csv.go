package delivery

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"

	"github.com/chaz8081/ringtap/internal/sample"
)

// CSVExporter writes one CSV file per session into Dir.
type CSVExporter struct {
	Dir string
}

func (e *CSVExporter) Format() string { return "csv" }

// Export writes the header and one row per sample in sample.Columns order.
// The file is written to a temp name and renamed into place.
func (e *CSVExporter) Export(ctx context.Context, log SessionLog) (string, error) {
	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return "", &PersistenceError{Format: "csv", Path: e.Dir, Err: err}
	}
	path := exportPath(e.Dir, log, "csv")
	if err := writeCSV(ctx, path, log.Samples); err != nil {
		return "", &PersistenceError{Format: "csv", Path: path, Err: err}
	}
	return path, nil
}

func writeCSV(ctx context.Context, path string, samples []sample.Sample) error {
	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	w := csv.NewWriter(f)
	err = w.Write(sample.Columns)
	for i := 0; err == nil && i < len(samples); i++ {
		if i%1000 == 0 {
			err = ctx.Err()
		}
		if err == nil {
			err = w.Write(samples[i].Row())
		}
	}
	if err == nil {
		w.Flush()
		err = w.Error()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("writing rows: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("moving export file: %w", err)
	}
	return nil
}
