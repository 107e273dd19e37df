package delivery

import (
	"context"
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/chaz8081/ringtap/internal/sample"
)

const xlsxSheet = "Samples"

// XLSXExporter writes one spreadsheet per session into Dir.
type XLSXExporter struct {
	Dir string
}

func (e *XLSXExporter) Format() string { return "xlsx" }

// Export writes a header row and one row per sample. Numeric columns are
// stored as numbers; absent values are left blank.
func (e *XLSXExporter) Export(ctx context.Context, log SessionLog) (string, error) {
	if err := os.MkdirAll(e.Dir, 0755); err != nil {
		return "", &PersistenceError{Format: "xlsx", Path: e.Dir, Err: err}
	}
	path := exportPath(e.Dir, log, "xlsx")
	if err := writeXLSX(ctx, path, log.Samples); err != nil {
		return "", &PersistenceError{Format: "xlsx", Path: path, Err: err}
	}
	return path, nil
}

func writeXLSX(ctx context.Context, path string, samples []sample.Sample) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	header := make([]any, len(sample.Columns))
	for i, c := range sample.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, s := range samples {
		if i%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := xlsxRow(s)
		if err := f.SetSheetRow(xlsxSheet, cell, &row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("saving workbook: %w", err)
	}
	return nil
}

func xlsxRow(s sample.Sample) []any {
	f := s.Flatten()
	row := []any{
		s.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		s.Label,
		s.Payload,
	}
	for _, v := range []*int{
		f.HeartRate,
		f.SpO2, f.SpO2Max, f.SpO2Min, f.SpO2Diff,
		f.PPG, f.PPGMax, f.PPGMin, f.PPGDiff,
		f.AccelX, f.AccelY, f.AccelZ,
	} {
		if v == nil {
			row = append(row, nil)
			continue
		}
		row = append(row, *v)
	}
	return row
}
