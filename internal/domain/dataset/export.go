package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// Export formats for extracted rows.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

const (
	mimeCSV  = "text/csv; charset=utf-8"
	mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

const sheetName = "Dataset"

// ContentType returns the media type of format, or "" for an unknown one.
func ContentType(format string) string {
	switch format {
	case FormatCSV:
		return mimeCSV
	case FormatXLSX:
		return mimeXLSX
	case FormatJSON:
		return "application/json"
	}
	return ""
}

// WriteCSV writes res as a header row followed by one record per row.
func WriteCSV(w io.Writer, res *Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(res.Columns); err != nil {
		return err
	}
	record := make([]string, len(res.Columns))
	for _, row := range res.Rows {
		for i, col := range res.Columns {
			record[i] = cellText(row[col])
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes res as a single-sheet workbook.
func WriteXLSX(w io.Writer, res *Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	sw, err := f.NewStreamWriter(sheetName)
	if err != nil {
		return fmt.Errorf("stream writer: %w", err)
	}

	header := make([]interface{}, len(res.Columns))
	for i, col := range res.Columns {
		header[i] = col
	}
	if err := sw.SetRow("A1", header, excelize.RowOpts{Height: 18}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for r, row := range res.Rows {
		values := make([]interface{}, len(res.Columns))
		for i, col := range res.Columns {
			values[i] = cellValue(row[col])
		}
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, values); err != nil {
			return fmt.Errorf("write row %d: %w", r+1, err)
		}
	}
	if err := sw.Flush(); err != nil {
		return fmt.Errorf("flush sheet: %w", err)
	}
	return f.Write(w)
}

func cellText(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// cellValue keeps numbers, booleans and times native so the workbook can sort
// and filter on them.
func cellValue(v interface{}) interface{} {
	switch v.(type) {
	case nil:
		return nil
	case string, bool, int, int16, int32, int64, float32, float64, time.Time:
		return v
	}
	return fmt.Sprint(v)
}
